package core

import (
	"math"
	"strings"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Roles lists every valid role, in turn order.
var Roles = []Role{RoleUser, RoleTool, RoleAssistant}

// Validate returns ErrInvalidArgument for anything outside Roles.
func (r Role) Validate() error {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return nil
	}
	return InvalidArgumentf("unknown role %q", string(r))
}

// Category classifies a fact.
type Category string

const (
	CategoryTechStack    Category = "tech_stack"
	CategoryProjectInfo  Category = "project_info"
	CategoryPreferences  Category = "preferences"
	CategorySecurity     Category = "security"
	CategoryUsagePattern Category = "usage_pattern"
)

// Categories lists every valid category. Summaries render in this order.
var Categories = []Category{
	CategoryTechStack,
	CategoryProjectInfo,
	CategoryPreferences,
	CategorySecurity,
	CategoryUsagePattern,
}

// Validate returns ErrInvalidArgument for anything outside Categories.
func (c Category) Validate() error {
	for _, known := range Categories {
		if c == known {
			return nil
		}
	}
	return InvalidArgumentf("unknown category %q", string(c))
}

// Fact sources.
const (
	SourceConversation = "conversation"
	SourceManual       = "manual"
)

// Session is one user's conversational bucket for a calendar day.
type Session struct {
	ID        string
	UserID    string
	Date      string // YYYY-MM-DD in the registry's location
	CreatedAt time.Time
}

// Message is a single stored utterance. Messages are immutable once stored.
type Message struct {
	ID        string
	UserID    string
	SessionID string
	Role      Role
	Content   string

	// ToolName is set for RoleTool messages.
	ToolName string

	Timestamp time.Time

	// Seq breaks ties between messages with identical timestamps.
	Seq int64

	ContentLength int
}

// Before reports whether m sorts before other in ledger order.
func (m Message) Before(other Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return m.Seq < other.Seq
}

// Fact is a durable, confidence-scored statement about a user.
type Fact struct {
	ID         string
	UserID     string
	Category   Category
	Text       string
	Confidence float64
	Source     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ToolCall is one tool invocation recorded as part of a turn.
type ToolCall struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ValidateConfidence rejects values outside [0, 1], including NaN.
func ValidateConfidence(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return InvalidArgumentf("confidence %v out of range [0, 1]", c)
	}
	return nil
}

// RequireText rejects empty or whitespace-only text.
func RequireText(field, s string) error {
	if strings.TrimSpace(s) == "" {
		return InvalidArgumentf("%s must not be empty", field)
	}
	return nil
}
