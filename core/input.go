package core

// BaseInput provides common fields for all memory tool inputs.
// Tools embed this struct so the agent can explain why it reached for memory.
type BaseInput struct {
	// Thought contains the agent's reasoning about this tool call.
	// Optional for reads, required for tools that write facts.
	Thought string `json:"thought,omitempty"`
}
