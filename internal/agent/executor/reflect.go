package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

// Reflect turns sub-questions into open knowledge gaps. It makes no external
// calls; later steps close the gaps.
type Reflect struct{}

func NewReflect() *Reflect { return &Reflect{} }

func (r *Reflect) Kind() action.Kind { return action.Reflect }

func (r *Reflect) Execute(_ context.Context, d action.Decision, env Env) (core.Outcome, error) {
	if d.Reflect == nil || len(d.Reflect.Questions) == 0 {
		return core.Outcome{}, fmt.Errorf("%w: reflect without questions", action.ErrInvalidParams)
	}

	seen := map[string]bool{helpers.QueryKey(env.Question.Text): true}
	for _, it := range env.Store.AsContext() {
		if it.Kind == knowledge.KindQA {
			seen[helpers.QueryKey(it.Question)] = true
		}
	}

	var out core.Outcome
	for _, q := range d.Reflect.Questions {
		q = strings.TrimSpace(q)
		key := helpers.QueryKey(q)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out.Items = append(out.Items, env.Store.Append(knowledge.Item{
			Kind:     knowledge.KindQA,
			Question: q,
		}))
	}
	if len(out.Items) == 0 {
		out.Summary = "no new gaps"
	} else {
		out.Summary = fmt.Sprintf("%d new gaps", len(out.Items))
	}
	return out, nil
}
