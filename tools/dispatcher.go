package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/becomeliminal/convmem/core"
	"github.com/becomeliminal/convmem/memory"
	"github.com/becomeliminal/convmem/memory/textnorm"
)

const defaultSearchLimit = 5

type searchInput struct {
	core.BaseInput
	Query string    `json:"query"`
	Limit int       `json:"limit,omitempty"`
	Role  core.Role `json:"role,omitempty"`
}

type rememberInput struct {
	core.BaseInput
	Category   core.Category `json:"category"`
	Fact       string        `json:"fact"`
	Confidence float64       `json:"confidence"`
}

type recallInput struct {
	core.BaseInput
	Category      core.Category `json:"category,omitempty"`
	MinConfidence float64       `json:"min_confidence,omitempty"`
}

// Dispatcher executes memory tool calls against a Manager.
type Dispatcher struct {
	memory *memory.Manager
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(m *memory.Manager) *Dispatcher {
	return &Dispatcher{memory: m}
}

// Execute runs the named tool for userID with the model's JSON input and
// returns the text handed back to the model. Unknown tools yield
// core.ErrNotFound and malformed input core.ErrInvalidArgument.
func (d *Dispatcher) Execute(ctx context.Context, userID, name string, input json.RawMessage) (string, error) {
	switch name {
	case SearchMemory:
		var in searchInput
		if err := decode(input, &in); err != nil {
			return "", err
		}
		if in.Limit <= 0 {
			in.Limit = defaultSearchLimit
		}
		hits, err := d.memory.Search(ctx, userID, in.Query, in.Limit, memory.SearchOptions{Role: in.Role})
		if err != nil {
			return "", err
		}
		return formatHits(hits), nil

	case RememberFact:
		var in rememberInput
		if err := decode(input, &in); err != nil {
			return "", err
		}
		if strings.TrimSpace(in.Thought) == "" {
			return "", core.InvalidArgumentf("%s requires a thought", RememberFact)
		}
		id, err := d.memory.SaveFact(ctx, memory.FactInput{
			UserID:     userID,
			Category:   in.Category,
			Text:       in.Fact,
			Confidence: in.Confidence,
			Source:     core.SourceConversation,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Fact stored (id %s).", id), nil

	case RecallFacts:
		var in recallInput
		if err := decode(input, &in); err != nil {
			return "", err
		}
		facts, err := d.memory.ListFacts(ctx, userID, memory.FactFilter{
			Category:      in.Category,
			MinConfidence: in.MinConfidence,
		})
		if err != nil {
			return "", err
		}
		return formatFactList(facts), nil

	case MemoryStats:
		stats, err := d.memory.Statistics(ctx, userID)
		if err != nil {
			return "", err
		}
		return formatStats(stats), nil
	}
	return "", core.NotFoundf("tool %q", name)
}

func decode(input json.RawMessage, v any) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, v); err != nil {
		return core.InvalidArgumentf("tool input: %v", err)
	}
	return nil
}

func formatHits(hits []memory.Hit) string {
	if len(hits) == 0 {
		return "No matching messages."
	}
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. [%.2f] %s %s (%s): %s\n",
			i+1, h.Relevance,
			h.Message.Timestamp.Format("2006-01-02 15:04"),
			h.Message.Role,
			h.Message.SessionID,
			textnorm.Truncate(h.Message.Content, 200))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatFactList(facts []core.Fact) string {
	if len(facts) == 0 {
		return "No known facts."
	}
	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "- [%s] %s (%.0f%%)\n", f.Category, f.Text, f.Confidence*100)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStats(s memory.Stats) string {
	roles := make([]string, 0, len(s.MessagesByRole))
	for role, n := range s.MessagesByRole {
		roles = append(roles, fmt.Sprintf("%s=%d", role, n))
	}
	sort.Strings(roles)
	return fmt.Sprintf("messages=%d (%s) sessions=%d facts=%d storage=%s",
		s.TotalMessages, strings.Join(roles, " "), s.TotalSessions, s.TotalFacts, s.Storage)
}
