package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/orchestrator"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
)

const (
	errNoMessages  = "Messages array is required and must not be empty"
	errNotFromUser = "Last message must be from user"
	errEmptyPrompt = "Last message content must not be empty"

	fingerprint    = "fp_deepresearch"
	archiveTimeout = 10 * time.Second
)

func (s *Server) chatCompletions(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	run, err := s.sessionRequest(req)
	if err != nil {
		return err
	}
	if req.Stream {
		return s.streamCompletion(c, run)
	}

	res := s.deps.Researcher.Run(c.Request().Context(), run)
	out := ChatCompletion{
		ID:                "chatcmpl-" + res.SessionID,
		Object:            "chat.completion",
		Created:           s.now().Unix(),
		Model:             s.cfg.ModelName,
		SystemFingerprint: fingerprint,
		Choices: []Choice{{
			Index: 0,
			Message: AssistantMessage{
				Role:        "assistant",
				Content:     res.Answer,
				Type:        "text",
				Annotations: res.References,
			},
			FinishReason: "stop",
		}},
		Usage:       usageOf(res.Usage),
		VisitedURLs: nonNil(res.VisitedURLs),
		ReadURLs:    nonNil(res.ReadURLs),
		NumURLs:     len(res.VisitedURLs),
	}
	err = c.JSON(http.StatusOK, out)
	s.afterSession(c.Request().Context(), "json", res)
	return err
}

// sessionRequest validates the body. Only the last user turn becomes the
// question; earlier turns are ignored.
func (s *Server) sessionRequest(req ChatRequest) (orchestrator.Request, error) {
	if len(req.Messages) == 0 {
		return orchestrator.Request{}, echo.NewHTTPError(http.StatusBadRequest, errNoMessages)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return orchestrator.Request{}, echo.NewHTTPError(http.StatusBadRequest, errNotFromUser)
	}
	question := strings.TrimSpace(string(last.Content))
	if question == "" {
		return orchestrator.Request{}, echo.NewHTTPError(http.StatusBadRequest, errEmptyPrompt)
	}

	var override budget.Override
	if req.BudgetTokens != nil {
		if *req.BudgetTokens <= 0 {
			return orchestrator.Request{}, echo.NewHTTPError(http.StatusBadRequest, "budget_tokens must be positive")
		}
		override.TokenLimit = req.BudgetTokens
	}
	if req.MaxAttempts != nil {
		if *req.MaxAttempts < 0 {
			return orchestrator.Request{}, echo.NewHTTPError(http.StatusBadRequest, "max_attempts cannot be negative")
		}
		override.MaxBadAttempts = req.MaxAttempts
	}
	return orchestrator.Request{
		ID:             uuid.NewString(),
		Question:       question,
		Budget:         override,
		NoDirectAnswer: req.NoDirectAnswer,
	}, nil
}

// streamCompletion writes a role chunk, think chunks while the session runs,
// the answer in fixed-size pieces, and a closing chunk. Everything is
// written from the handler goroutine.
func (s *Server) streamCompletion(c echo.Context, run orchestrator.Request) error {
	resp := c.Response()
	if _, ok := resp.Writer.(http.Flusher); !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	w := &chunkWriter{
		resp:    resp,
		id:      "chatcmpl-" + run.ID,
		model:   s.cfg.ModelName,
		created: s.now().Unix(),
	}
	w.delta(Delta{Role: "assistant"})

	thinking := false
	run.Observer = func(ev orchestrator.Event) {
		if !thinking {
			thinking = true
			w.delta(Delta{Content: "<think>", Type: "think"})
		}
		if ev.Think != "" {
			w.delta(Delta{Content: ev.Think + "\n", Type: "think"})
		}
	}
	res := s.deps.Researcher.Run(c.Request().Context(), run)
	if thinking {
		w.delta(Delta{Content: "</think>\n\n", Type: "think"})
	}
	for _, part := range splitRunes(res.Answer, s.cfg.StreamChunkRunes) {
		w.delta(Delta{Content: part})
	}
	w.finish(res)

	s.afterSession(c.Request().Context(), "stream", res)
	if w.err != nil {
		s.logger.Debug("stream write failed", zap.String("session_id", res.SessionID), zap.Error(w.err))
	}
	return nil
}

// afterSession archives and publishes the result. It outlives a client that
// has already hung up.
func (s *Server) afterSession(reqCtx context.Context, mode string, res orchestrator.Result) {
	usage := usageOf(res.Usage)
	completionTokens.WithLabelValues(mode, "prompt").Add(float64(usage.PromptTokens))
	completionTokens.WithLabelValues(mode, "completion").Add(float64(usage.CompletionTokens))

	s.logger.Info("session finished",
		zap.String("session_id", res.SessionID),
		zap.String("mode", mode),
		zap.Int("steps", res.Steps),
		zap.Bool("forced", res.Forced),
		zap.String("force_reason", res.ForceReason),
		zap.Int64("total_tokens", usage.TotalTokens),
		zap.Duration("duration", res.Duration))

	if s.deps.Archive == nil && s.deps.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), archiveTimeout)
	defer cancel()
	if s.deps.Archive != nil {
		if err := s.deps.Archive.SaveSession(ctx, res); err != nil {
			s.logger.Warn("archive session", zap.String("session_id", res.SessionID), zap.Error(err))
		}
	}
	if s.deps.Publisher != nil {
		if _, err := s.deps.Publisher.SessionCompleted(ctx, res); err != nil {
			s.logger.Warn("publish session", zap.String("session_id", res.SessionID), zap.Error(err))
		}
	}
}

type chunkWriter struct {
	resp    *echo.Response
	id      string
	model   string
	created int64
	err     error
}

func (w *chunkWriter) chunk(delta Delta, finish *string) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:                w.id,
		Object:            "chat.completion.chunk",
		Created:           w.created,
		Model:             w.model,
		SystemFingerprint: fingerprint,
		Choices:           []ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func (w *chunkWriter) delta(d Delta) { w.write(w.chunk(d, nil)) }

func (w *chunkWriter) finish(res orchestrator.Result) {
	stop := "stop"
	ch := w.chunk(Delta{}, &stop)
	usage := usageOf(res.Usage)
	ch.Usage = &usage
	ch.VisitedURLs = nonNil(res.VisitedURLs)
	ch.ReadURLs = nonNil(res.ReadURLs)
	ch.NumURLs = len(res.VisitedURLs)
	w.write(ch)
}

// write drops everything after the first failure; the client is gone.
func (w *chunkWriter) write(ch ChatCompletionChunk) {
	if w.err != nil {
		return
	}
	data, err := json.Marshal(ch)
	if err != nil {
		w.err = err
		return
	}
	if _, err := w.resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		w.err = err
		return
	}
	w.resp.Flush()
}

// splitRunes cuts s into pieces of at most n runes.
func splitRunes(s string, n int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return []string{s}
	}
	out := make([]string, 0, len(runes)/n+1)
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
