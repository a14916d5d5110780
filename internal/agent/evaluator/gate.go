package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
)

// evidenceChars bounds the knowledge shown to evidence-based criteria.
const evidenceChars = 30000

type freshnessAnalysis struct {
	DaysAgo    *int `json:"days_ago"`
	MaxAgeDays *int `json:"max_age_days"`
}

type pluralityAnalysis struct {
	MinimumCount *int `json:"minimum_count_required"`
	ActualCount  *int `json:"actual_count_provided"`
}

type verdictOutput struct {
	Think       string             `json:"think"`
	Pass        bool               `json:"pass"`
	Freshness   *freshnessAnalysis `json:"freshness_analysis,omitempty"`
	Plurality   *pluralityAnalysis `json:"plurality_analysis,omitempty"`
	Missing     string             `json:"missing_aspects,omitempty"`
	Improvement string             `json:"improvement_plan,omitempty"`
}

// Gate runs each active criterion independently. It keeps no state between
// calls.
type Gate struct {
	llm    llm.Generator
	logger *zap.Logger
	now    func() time.Time
}

func NewGate(gen llm.Generator, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{llm: gen, logger: logger.Named("evaluator"), now: time.Now}
}

// Evaluate returns one verdict per active criterion, in criterion order, and
// whether all of them passed. A criterion whose call fails counts as failed.
func (g *Gate) Evaluate(ctx context.Context, q core.Question, draft core.AnswerDraft, items []knowledge.Item, meter llm.Meter) ([]core.Verdict, bool) {
	ctx, span := telemetry.Tracer.Start(ctx, "Gate.Evaluate")
	defer span.End()

	criteria := q.Criteria
	if len(criteria) == 0 {
		criteria = []core.Criterion{core.Definitive}
	}
	span.SetAttributes(attribute.Int("criteria", len(criteria)))

	verdicts := make([]core.Verdict, len(criteria))
	var eg errgroup.Group
	for i, c := range criteria {
		i, c := i, c
		eg.Go(func() error {
			verdicts[i] = g.evaluateOne(ctx, c, q, draft, items, meter)
			return nil
		})
	}
	_ = eg.Wait()

	accepted := true
	for _, v := range verdicts {
		outcome := telemetry.OutcomePass
		if !v.Pass {
			accepted = false
			outcome = telemetry.OutcomeFail
		}
		telemetry.Verdicts.WithLabelValues(string(v.Criterion), outcome).Inc()
	}
	span.SetAttributes(attribute.Bool("accepted", accepted))
	if !accepted {
		span.SetStatus(codes.Error, "rejected")
	}
	return verdicts, accepted
}

func (g *Gate) evaluateOne(ctx context.Context, c core.Criterion, q core.Question, draft core.AnswerDraft, items []knowledge.Item, meter llm.Meter) core.Verdict {
	if g.llm == nil {
		return core.Verdict{Criterion: c, Pass: false, Think: "no evaluator configured"}
	}
	out, _, err := llm.Object[verdictOutput](ctx, g.llm, meter, llm.Request{
		System: criterionSystem(c, g.now()),
		Prompt: criterionPrompt(c, q, draft, items),
		Schema: criterionSchema(c),
	})
	if err != nil {
		g.logger.Warn("criterion evaluation failed", zap.String("criterion", string(c)), zap.Error(err))
		return core.Verdict{Criterion: c, Pass: false, Think: fmt.Sprintf("evaluation failed: %v", err)}
	}
	return toVerdict(c, out)
}

// toVerdict applies the numeric rules where the analysis carries numbers;
// the model's own pass flag is used otherwise.
func toVerdict(c core.Criterion, out verdictOutput) core.Verdict {
	v := core.Verdict{Criterion: c, Pass: out.Pass, Think: out.Think}
	detail := &core.VerdictDetail{MissingAspect: out.Missing, Improvement: out.Improvement}
	switch c {
	case core.Freshness:
		if fa := out.Freshness; fa != nil {
			detail.DaysAgo, detail.MaxAgeDays = fa.DaysAgo, fa.MaxAgeDays
			if fa.DaysAgo != nil && fa.MaxAgeDays != nil {
				v.Pass = *fa.DaysAgo <= *fa.MaxAgeDays
			}
		}
	case core.Plurality:
		if pa := out.Plurality; pa != nil {
			detail.MinimumCount, detail.ActualCount = pa.MinimumCount, pa.ActualCount
			if pa.MinimumCount != nil && pa.ActualCount != nil {
				v.Pass = *pa.ActualCount >= *pa.MinimumCount
			}
		}
	}
	if detail.DaysAgo != nil || detail.MaxAgeDays != nil || detail.MinimumCount != nil ||
		detail.ActualCount != nil || detail.MissingAspect != "" || detail.Improvement != "" {
		v.Detail = detail
	}
	return v
}

func criterionSchema(c core.Criterion) *llm.Schema {
	props := map[string]any{
		"think": map[string]any{"type": "string"},
		"pass":  map[string]any{"type": "boolean"},
	}
	required := []string{"think", "pass"}
	intProp := map[string]any{"type": "integer"}
	switch c {
	case core.Freshness:
		props["freshness_analysis"] = map[string]any{
			"type": "object",
			"properties": map[string]any{
				"days_ago":     intProp,
				"max_age_days": intProp,
			},
			"required": []string{"days_ago", "max_age_days"},
		}
		required = append(required, "freshness_analysis")
	case core.Plurality:
		props["plurality_analysis"] = map[string]any{
			"type": "object",
			"properties": map[string]any{
				"minimum_count_required": intProp,
				"actual_count_provided":  intProp,
			},
			"required": []string{"minimum_count_required", "actual_count_provided"},
		}
		required = append(required, "plurality_analysis")
	case core.Completeness:
		props["missing_aspects"] = map[string]any{"type": "string"}
	case core.Strict:
		props["improvement_plan"] = map[string]any{"type": "string"}
		required = append(required, "improvement_plan")
	}
	return &llm.Schema{
		Name: "eval_" + string(c),
		Definition: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

func criterionSystem(c core.Criterion, now time.Time) string {
	switch c {
	case core.Definitive:
		return `You check whether an answer is definitive. Fail it if it hedges, refuses, says the information was not found or cannot be determined, or only describes how one could find out.`
	case core.Freshness:
		return fmt.Sprintf(`You check whether an answer is current enough. Today is %s.
Estimate days_ago: how old the newest information the answer relies on is. Choose max_age_days for this kind of question (prices and news: 1-7, software versions: 30-90, history: very large).`, now.UTC().Format("2006-01-02"))
	case core.Plurality:
		return `You check whether an answer provides as many items as the question asks for. Report minimum_count_required (as asked, or 3 if the question just wants several) and actual_count_provided.`
	case core.Completeness:
		return `You check whether an answer addresses every aspect the question explicitly names. List any missing aspects.`
	case core.Attribution:
		return `You check whether every factual claim in the answer is supported by one of its quoted references. Fail it if a claim has no supporting quote or a quote does not support the claim.`
	case core.Strict:
		return `You are a demanding reviewer. Fail the answer unless it is specific, insightful and well grounded in the knowledge. Always provide an improvement_plan describing concretely what a better answer would contain.`
	}
	return "You evaluate answers."
}

func criterionPrompt(c core.Criterion, q core.Question, draft core.AnswerDraft, items []knowledge.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION:\n%s\n\nANSWER:\n%s\n", q.Text, draft.Text)
	if len(draft.References) > 0 {
		b.WriteString("\nREFERENCES:\n")
		for i, ref := range draft.References {
			fmt.Fprintf(&b, "[%d] %s", i+1, ref.URL)
			if ref.DateTime != "" {
				fmt.Fprintf(&b, " (%s)", ref.DateTime)
			}
			if ref.ExactQuote != "" {
				fmt.Fprintf(&b, ": %q", ref.ExactQuote)
			}
			b.WriteByte('\n')
		}
	}
	if c == core.Attribution || c == core.Strict {
		if kb := strings.TrimSpace(knowledge.Digest(items, evidenceChars)); kb != "" {
			fmt.Fprintf(&b, "\nKNOWLEDGE:\n%s\n", kb)
		}
	}
	return b.String()
}
