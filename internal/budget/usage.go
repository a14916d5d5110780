package budget

// Category classifies reported token usage.
type Category string

const (
	Prompt    Category = "prompt"
	Reasoning Category = "reasoning"
	Accepted  Category = "accepted"
	Rejected  Category = "rejected"
)

// Usage is a token tally split by category. Completion cost is the sum of
// the reasoning, accepted and rejected parts.
type Usage struct {
	PromptTokens    int64 `json:"prompt_tokens"`
	ReasoningTokens int64 `json:"reasoning_tokens"`
	AcceptedTokens  int64 `json:"accepted_prediction_tokens"`
	RejectedTokens  int64 `json:"rejected_prediction_tokens"`
}

// Units builds a Usage holding n tokens of one category.
func Units(n int64, cat Category) Usage {
	var u Usage
	switch cat {
	case Prompt:
		u.PromptTokens = n
	case Reasoning:
		u.ReasoningTokens = n
	case Rejected:
		u.RejectedTokens = n
	default:
		u.AcceptedTokens = n
	}
	return u
}

func (u Usage) CompletionTokens() int64 {
	return u.ReasoningTokens + u.AcceptedTokens + u.RejectedTokens
}

func (u Usage) TotalTokens() int64 { return u.PromptTokens + u.CompletionTokens() }

// Add returns the component-wise sum. Negative components are ignored so the
// tally never decreases.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:    u.PromptTokens + nonNeg(o.PromptTokens),
		ReasoningTokens: u.ReasoningTokens + nonNeg(o.ReasoningTokens),
		AcceptedTokens:  u.AcceptedTokens + nonNeg(o.AcceptedTokens),
		RejectedTokens:  u.RejectedTokens + nonNeg(o.RejectedTokens),
	}
}

func nonNeg(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
