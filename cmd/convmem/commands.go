package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/convmem/core"
	"github.com/becomeliminal/convmem/memory"
)

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count the user's messages, sessions and facts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.app.memory.Statistics(cmd.Context(), c.userID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:      %s\n", s.UserID)
			fmt.Fprintf(out, "storage:   %s\n", s.Storage)
			fmt.Fprintf(out, "sessions:  %d\n", s.TotalSessions)
			fmt.Fprintf(out, "facts:     %d\n", s.TotalFacts)
			fmt.Fprintf(out, "messages:  %d\n", s.TotalMessages)
			for _, role := range core.Roles {
				fmt.Fprintf(out, "  %-9s %d\n", role+":", s.MessagesByRole[role])
			}
			return nil
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		date string
		last int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print one day's conversation in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.app.memory.Config()
			if date == "" {
				date = cfg.Now().In(cfg.Location).Format(time.DateOnly)
			} else if _, err := time.Parse(time.DateOnly, date); err != nil {
				return core.InvalidArgumentf("--date must be YYYY-MM-DD, got %q", date)
			}
			page := memory.Page{}
			if last > 0 {
				page = memory.Page{Limit: last, Last: true}
			}
			msgs, err := c.app.memory.SessionHistory(cmd.Context(), memory.SessionID(c.userID, date), page)
			if err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "session date, YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&last, "last", 0, "only the last N messages")
	return cmd
}

func (c *cli) recentCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Print the user's most recent messages across sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msgs, err := c.app.memory.RecentContext(cmd.Context(), c.userID, limit)
			if err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of messages (default: memory.recent_limit)")
	return cmd
}

func (c *cli) searchCmd() *cobra.Command {
	var (
		limit int
		role  string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over the user's messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, err := c.app.memory.Search(cmd.Context(), c.userID, strings.Join(args, " "), limit,
				memory.SearchOptions{Role: core.Role(role)})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, "no matches")
				return nil
			}
			for _, h := range hits {
				fmt.Fprintf(out, "%6.3f  %s  %-9s %s\n",
					h.Relevance, h.Message.Timestamp.Format(time.DateTime), h.Message.Role, oneLine(h.Message.Content))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum results")
	cmd.Flags().StringVar(&role, "role", "", "only messages from this role (user, assistant, tool)")
	return cmd
}

func (c *cli) factsCmd() *cobra.Command {
	var (
		category string
		minConf  float64
		summary  bool
	)
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "List what is known about the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if summary {
				s, err := c.app.memory.FactsSummary(cmd.Context(), c.userID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
				return nil
			}
			facts, err := c.app.memory.ListFacts(cmd.Context(), c.userID, memory.FactFilter{
				Category:      core.Category(category),
				MinConfidence: minConf,
			})
			if err != nil {
				return err
			}
			for _, f := range facts {
				fmt.Fprintf(out, "%s  %-13s %3.0f%%  %s\n", f.ID, f.Category, f.Confidence*100, f.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only this category")
	cmd.Flags().Float64Var(&minConf, "min-confidence", 0, "confidence floor, 0 to 1")
	cmd.Flags().BoolVar(&summary, "summary", false, "print the prompt summary instead of the list")
	return cmd
}

func (c *cli) rememberCmd() *cobra.Command {
	var (
		confidence float64
		overwrite  bool
	)
	cmd := &cobra.Command{
		Use:   "remember <category> <text>",
		Short: "Store a fact about the user",
		Long:  "Store a fact about the user. Categories: " + categoryList() + ".",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.app.memory.SaveFact(cmd.Context(), memory.FactInput{
				UserID:     c.userID,
				Category:   core.Category(args[0]),
				Text:       strings.Join(args[1:], " "),
				Confidence: confidence,
				Source:     core.SourceManual,
				Overwrite:  overwrite,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().Float64Var(&confidence, "confidence", 1.0, "confidence, 0 to 1")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace the confidence of a matching fact instead of keeping the higher one")
	return cmd
}

func (c *cli) recordCmd() *cobra.Command {
	var (
		message string
		reply   string
		tools   []string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one conversation turn",
		Long: `Record one conversation turn: the user message, any tool results, and the
assistant reply. When extractor.api_key is set, facts are learned from it.

Tool results are given as name=content.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			turn := memory.Turn{
				UserID:            c.userID,
				UserMessage:       message,
				AssistantResponse: reply,
			}
			for _, t := range tools {
				name, content, ok := strings.Cut(t, "=")
				if !ok {
					return core.InvalidArgumentf("--tool must be name=content, got %q", t)
				}
				turn.ToolCalls = append(turn.ToolCalls, core.ToolCall{Name: name, Content: content})
			}
			res, err := c.app.engine.Record(cmd.Context(), turn)
			if err != nil {
				return err
			}
			if res.Notice != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), res.Notice)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %s, %d messages", res.SessionID, len(res.MessageIDs))
			if len(res.FactIDs) > 0 {
				fmt.Fprintf(out, ", %d facts", len(res.FactIDs))
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "user message")
	cmd.Flags().StringVarP(&reply, "reply", "r", "", "assistant reply")
	cmd.Flags().StringArrayVar(&tools, "tool", nil, "tool result as name=content (repeatable)")
	_ = cmd.MarkFlagRequired("message")
	_ = cmd.MarkFlagRequired("reply")
	return cmd
}

func (c *cli) contextCmd() *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print the system prompt memory would build for the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), c.app.engine.SystemPrompt(cmd.Context(), base, c.userID))
			return nil
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "base system prompt")
	return cmd
}

func (c *cli) pruneCmd() *cobra.Command {
	var (
		days  int
		facts bool
		yes   bool
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete the user's records older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 0 {
				return core.InvalidArgumentf("--days must not be negative")
			}
			if !yes {
				return fmt.Errorf("prune permanently deletes data; rerun with --yes")
			}
			res, err := c.app.memory.Prune(cmd.Context(), c.userID, memory.PruneOptions{
				OlderThan: time.Duration(days) * 24 * time.Hour,
				Facts:     facts,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d messages, %d sessions, %d facts\n",
				res.Messages, res.Sessions, res.Facts)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default: memory.retention_days)")
	cmd.Flags().BoolVar(&facts, "facts", false, "also delete facts not updated within the retention period")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func printMessages(out io.Writer, msgs []core.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(out, "no messages")
		return
	}
	for _, m := range msgs {
		who := string(m.Role)
		if m.ToolName != "" {
			who += ":" + m.ToolName
		}
		fmt.Fprintf(out, "%s  %-16s %s\n", m.Timestamp.Format(time.DateTime), who, oneLine(m.Content))
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func categoryList() string {
	names := make([]string, 0, len(core.Categories))
	for _, c := range core.Categories {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
