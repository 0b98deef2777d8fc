package service

import (
	"fmt"
	"strings"

	"github.com/expertloop/expertloop/internal/domain/query"
)

// Composer turns a ranked retrieval result plus conversation context
// into a draft answer for the user and a review packet for the expert.
type Composer struct{}

// NewComposer creates a Composer.
func NewComposer() *Composer {
	return &Composer{}
}

// Draft produces the user-facing draft answer from the top candidate.
func (c *Composer) Draft(cands []query.Candidate) string {
	if len(cands) == 0 {
		return ""
	}
	return strings.TrimSpace(cands[0].Content)
}

// ReviewPacket renders the verification request sent to the assigned
// expert: the question, the bot's draft and its sources, and the
// verification ask.
func (c *Composer) ReviewPacket(q *query.Query, escalated bool) string {
	var b strings.Builder

	if escalated {
		b.WriteString("[escalated] ")
	}
	fmt.Fprintf(&b, "*Query*: %q\n", q.RawText)
	fmt.Fprintf(&b, "*Bot's Answer*: %s\n", q.AnswerText())

	if sources := c.sourceList(q.Candidates); sources != "" {
		fmt.Fprintf(&b, "*Sources*: %s\n", sources)
	}

	b.WriteString("\nWas the bot's answer correct and complete?")
	return b.String()
}

// sourceList deduplicates candidate source ids into a display string.
func (c *Composer) sourceList(cands []query.Candidate) string {
	seen := make(map[string]bool)
	var out []string
	for _, cand := range cands {
		id := strings.TrimSpace(strings.ReplaceAll(cand.SourceID, "_", " "))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return strings.Join(out, ", ")
}
