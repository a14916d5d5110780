package models

// Result is the readable content of one page.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Byline      string `json:"byline"`
	PublishedAt string `json:"published_at"`
	Text        string `json:"text"`
	HTMLHash    string `json:"html_hash"`
	Status      int    `json:"status"`
	RenderMS    int    `json:"render_ms"`
	// Tokens approximates the size of Text in model tokens.
	Tokens int64 `json:"tokens"`
}

// EstimateTokens approximates token count from text length.
func EstimateTokens(text string) int64 {
	return int64(len(text)+3) / 4
}
