package memory

import (
	"time"

	"go.uber.org/zap"
)

// Config holds memory subsystem configuration.
type Config struct {
	// Location decides which calendar day a message belongs to.
	// Default: time.Local.
	Location *time.Location

	// DedupCosine is the embedding similarity at or above which a new fact
	// is considered the same as an existing one.
	// Default: 0.90
	DedupCosine float64

	// DedupJaccard is the token overlap at or above which a new fact is
	// considered the same as an existing one.
	// Default: 0.85
	DedupJaccard float64

	// SummaryMinConfidence drops low-trust facts from summaries. Zero keeps
	// every fact, so it is not defaulted; DefaultConfig sets 0.7.
	SummaryMinConfidence float64

	// SummaryPerCategory caps facts rendered per category.
	// Default: 5
	SummaryPerCategory int

	// RecentLimit is the number of messages used for prompt context.
	// Default: 10
	RecentLimit int

	// Retention is the default age for Prune.
	// Default: 30 days.
	Retention time.Duration

	// ToolContentLimit truncates tool output before it is stored.
	// Default: 500 characters.
	ToolContentLimit int

	// ContextLineLimit truncates each line of formatted recent context.
	// Default: 200 characters.
	ContextLineLimit int

	// SessionCacheSize bounds the resolved-session cache (entries).
	// Default: 10000
	SessionCacheSize int64

	// HistoryCacheSize bounds the ordered-history cache (messages).
	// Default: 100000
	HistoryCacheSize int64

	// Sequencer orders messages written within the same instant.
	// Default: a process-local MemorySequencer.
	Sequencer Sequencer

	Logger *zap.Logger

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Location:             time.Local,
		DedupCosine:          0.90,
		DedupJaccard:         0.85,
		SummaryMinConfidence: 0.7,
		SummaryPerCategory:   5,
		RecentLimit:          10,
		Retention:            30 * 24 * time.Hour,
		ToolContentLimit:     500,
		ContextLineLimit:     200,
		SessionCacheSize:     10000,
		HistoryCacheSize:     100000,
	}
}

// withDefaults returns a copy of c with zero fields filled in.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		c = d
	}
	out := *c
	if out.Location == nil {
		out.Location = d.Location
	}
	if out.DedupCosine == 0 {
		out.DedupCosine = d.DedupCosine
	}
	if out.DedupJaccard == 0 {
		out.DedupJaccard = d.DedupJaccard
	}
	if out.SummaryPerCategory <= 0 {
		out.SummaryPerCategory = d.SummaryPerCategory
	}
	if out.RecentLimit <= 0 {
		out.RecentLimit = d.RecentLimit
	}
	if out.Retention <= 0 {
		out.Retention = d.Retention
	}
	if out.ToolContentLimit <= 0 {
		out.ToolContentLimit = d.ToolContentLimit
	}
	if out.ContextLineLimit <= 0 {
		out.ContextLineLimit = d.ContextLineLimit
	}
	if out.SessionCacheSize <= 0 {
		out.SessionCacheSize = d.SessionCacheSize
	}
	if out.HistoryCacheSize <= 0 {
		out.HistoryCacheSize = d.HistoryCacheSize
	}
	if out.Sequencer == nil {
		out.Sequencer = NewMemorySequencer()
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return &out
}
