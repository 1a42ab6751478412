package tools

import (
	"github.com/anthropics/anthropic-sdk-go"
)

// Memory tool names.
const (
	SearchMemory = "search_memory"
	RememberFact = "remember_fact"
	RecallFacts  = "recall_facts"
	MemoryStats  = "memory_stats"
)

// Definition describes one tool offered to the model.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any

	// Writes marks tools that change memory.
	Writes bool
}

// MemoryToolDefinitions returns the memory tools an agent can call.
func MemoryToolDefinitions() []Definition {
	return []Definition{
		// Read operations (thought optional)
		{
			Name:        SearchMemory,
			Description: "Search past conversations with this user by meaning. Returns the most relevant earlier messages with a relevance score (cosine similarity; higher is more relevant, negative means barely related).",
			InputSchema: BuildSchemaWithThought(map[string]any{
				"query": StringProperty("What to look for, in natural language"),
				"limit": IntegerProperty("Maximum results (default: 5)"),
				"role":  RoleProperty("Optional: only messages from this role"),
			}, false, "query"),
		},
		{
			Name:        RecallFacts,
			Description: "List what is known about the user, highest confidence first.",
			InputSchema: BuildSchemaWithThought(map[string]any{
				"category":       CategoryProperty("Optional: only this category"),
				"min_confidence": NumberProperty("Optional: confidence floor (default: 0)", 0, 1),
			}, false),
		},
		{
			Name:        MemoryStats,
			Description: "Count stored messages, sessions and facts for the user.",
			InputSchema: BuildSchemaWithThought(map[string]any{}, false),
		},

		// Write operations (thought required)
		{
			Name:        RememberFact,
			Description: "Remember a durable fact about the user. Repeating a known fact raises its confidence instead of duplicating it.",
			Writes:      true,
			InputSchema: BuildSchemaWithThought(map[string]any{
				"category":   CategoryProperty("Kind of fact"),
				"fact":       StringProperty("Short statement, in the user's language"),
				"confidence": NumberProperty("How sure you are, from 0 to 1", 0, 1),
			}, true, "category", "fact", "confidence"),
		},
	}
}

// ToAPITools converts definitions to Claude tool parameters.
func ToAPITools(defs []Definition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := anthropic.ToolInputSchemaParam{
			Properties: def.InputSchema["properties"],
		}
		if required, ok := def.InputSchema["required"].([]string); ok {
			schema.Required = required
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}
