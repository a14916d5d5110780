package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

// knowledgeChars bounds the knowledge rendered into one planning prompt.
const knowledgeChars = 80000

var actionDocs = map[action.Kind]string{
	action.Search:  "search: look up new information with keyword queries. Avoid repeating earlier queries.",
	action.Visit:   "visit: read full pages from the candidate URL list when snippets are not enough.",
	action.Reflect: "reflect: break the problem into sub-questions that must be answered first.",
	action.Coding:  "coding: compute something exactly (arithmetic, dates, counting) with a short program.",
	action.Answer:  "answer: give the final answer, citing only URLs that appear in the knowledge or candidate list.",
}

const plannerSystem = `You are a research agent answering a question step by step.
Each step you choose exactly one action from the allowed actions and fill only the fields that action needs.
Ground everything in the knowledge gathered so far. Do not invent sources.`

func buildPrompt(in Input, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CURRENT DATE: %s\n\n", now.UTC().Format("2006-01-02"))
	fmt.Fprintf(&b, "QUESTION:\n%s\n", in.Question.Text)
	if in.Focus != "" && in.Focus != in.Question.Text {
		fmt.Fprintf(&b, "\nCURRENT SUB-QUESTION (work on this now):\n%s\n", in.Focus)
	}

	if len(in.Knowledge) > 0 {
		fmt.Fprintf(&b, "\nKNOWLEDGE:\n%s\n", strings.TrimSpace(knowledge.Digest(in.Knowledge, knowledgeChars)))
	}

	if len(in.Diary) > 0 {
		b.WriteString("\nPREVIOUS STEPS:\n")
		for _, line := range in.Diary {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	if len(in.Analyses) > 0 {
		b.WriteString("\nLESSONS FROM REJECTED ANSWERS:\n")
		for i, a := range in.Analyses {
			fmt.Fprintf(&b, "%d. recap: %s\n   blame: %s\n   improvement: %s\n", i+1, a.Recap, a.Blame, a.Improvement)
		}
	}

	if in.Allowed.Has(action.Visit) && len(in.Candidates) > 0 {
		b.WriteString("\nCANDIDATE URLS (most relevant first):\n")
		for _, c := range in.Candidates {
			fmt.Fprintf(&b, "- %s | %s | %s\n", c.URL, c.Title, c.Description)
		}
	}

	if in.Allowed.Has(action.Search) {
		if len(in.Queries) > 0 {
			fmt.Fprintf(&b, "\nQUERIES ALREADY ISSUED (do not repeat): %s\n", strings.Join(in.Queries, "; "))
		}
		if len(in.BadQueries) > 0 {
			fmt.Fprintf(&b, "\nQUERIES THAT RETURNED NOTHING (avoid similar): %s\n", strings.Join(in.BadQueries, "; "))
		}
	}

	b.WriteString("\nALLOWED ACTIONS:\n")
	for _, k := range in.Allowed.Kinds() {
		fmt.Fprintf(&b, "- %s\n", actionDocs[k])
	}

	fmt.Fprintf(&b, "\nBUDGET: %d of %d tokens used, step %d of %d, %d of %d rejected answers allowed.\n",
		in.Budget.Spent, in.Budget.Limit, in.Budget.Steps, in.Budget.MaxSteps, in.Budget.BadAttempts, in.Budget.MaxBadAttempts)
	b.WriteString("\nOUTPUT FORMAT (JSON): {\"think\": \"...\", \"action\": \"<one allowed action>\", ...fields of that action}")
	return b.String()
}
