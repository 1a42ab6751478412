package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/becomeliminal/convmem/core"
	"github.com/becomeliminal/convmem/memory"
)

const extractionSystemPrompt = `You extract durable facts about the user from one conversation turn.
Only keep facts that will still be true in future conversations.
Answer with a JSON array and nothing else. Each element:
{"category": one of "tech_stack", "project_info", "preferences", "security", "usage_pattern",
 "fact": a short statement in the user's language,
 "confidence": a number between 0 and 1}
Answer [] when there is nothing worth remembering.`

// extractedFact is one element of the generator's answer.
type extractedFact struct {
	Category   string  `json:"category"`
	Fact       string  `json:"fact"`
	Confidence float64 `json:"confidence"`
}

// Extractor asks a Generator for facts about the user and saves them.
type Extractor struct {
	generator Generator
	memory    *memory.Manager
	logger    *zap.Logger
}

// NewExtractor creates an extractor. A nil logger is replaced with a no-op.
func NewExtractor(g Generator, m *memory.Manager, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		generator: g,
		memory:    m,
		logger:    logger.Named("extractor"),
	}
}

// Extract saves the facts found in turn and returns their ids. Entries the
// generator gets wrong (unknown category, bad confidence, empty text) are
// skipped; a storage error stops extraction and is returned with the ids
// saved so far.
func (x *Extractor) Extract(ctx context.Context, turn memory.Turn) ([]string, error) {
	raw, err := x.generator.Generate(ctx, extractionSystemPrompt, extractionPrompt(turn))
	if err != nil {
		return nil, fmt.Errorf("generate facts: %w", err)
	}

	facts, err := parseFacts(raw)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, f := range facts {
		id, err := x.memory.SaveFact(ctx, memory.FactInput{
			UserID:     turn.UserID,
			Category:   core.Category(f.Category),
			Text:       f.Fact,
			Confidence: f.Confidence,
			Source:     core.SourceConversation,
		})
		if errors.Is(err, core.ErrInvalidArgument) {
			x.logger.Debug("skipping extracted fact", zap.String("fact", f.Fact), zap.Error(err))
			continue
		}
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}

	x.logger.Debug("facts extracted",
		zap.String("user_id", turn.UserID),
		zap.Int("proposed", len(facts)),
		zap.Int("saved", len(ids)))
	return ids, nil
}

func extractionPrompt(turn memory.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User: %s\n", turn.UserMessage)
	for _, call := range turn.ToolCalls {
		fmt.Fprintf(&b, "Tool %s: %s\n", call.Name, call.Content)
	}
	fmt.Fprintf(&b, "Assistant: %s\n", turn.AssistantResponse)
	return b.String()
}

// parseFacts reads the JSON array out of a model answer, tolerating code
// fences or prose around it, and a {"facts": [...]} wrapper.
func parseFacts(raw string) ([]extractedFact, error) {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") {
		var wrapped struct {
			Facts []extractedFact `json:"facts"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err == nil {
			return wrapped.Facts, nil
		}
	}

	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end < start {
		return nil, core.InvalidArgumentf("no JSON array in generator output")
	}

	var facts []extractedFact
	if err := json.Unmarshal([]byte(raw[start:end+1]), &facts); err != nil {
		return nil, core.InvalidArgumentf("decode generator output: %v", err)
	}
	return facts, nil
}
