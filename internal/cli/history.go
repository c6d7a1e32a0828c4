package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/output"
	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

var (
	flagHistoryStatus string
	flagHistorySince  string
	flagHistoryLimit  int
)

func init() {
	historyCmd.Flags().StringVar(&flagHistoryStatus, "status", "", "filter by status (pending, approved, rejected, executed)")
	historyCmd.Flags().StringVar(&flagHistorySince, "since", "", "only show commands after this date (RFC3339 or YYYY-MM-DD)")
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 50, "max results to return")

	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"commands"},
	Short:   "Browse submitted commands",
	Long: `Browse submitted commands, newest first.

Admins see every user's commands; members see only their own.

Examples:
  cmdgate history                      # Show recent commands
  cmdgate history --status executed    # Show only executed commands
  cmdgate history --since 2026-03-01   # Show commands since date`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := parseSince(flagHistorySince)
		if err != nil {
			return err
		}
		if flagHistoryStatus != "" {
			switch db.Status(flagHistoryStatus) {
			case db.StatusPending, db.StatusApproved, db.StatusRejected, db.StatusExecuted:
			default:
				return fmt.Errorf("invalid --status %q", flagHistoryStatus)
			}
		}

		return withActor(func(a *app, actor *db.User) error {
			commands, err := a.engine.ListCommands(actor, flagHistoryLimit)
			if err != nil {
				return err
			}
			commands = filterHistory(commands, db.Status(flagHistoryStatus), since)

			type historyView struct {
				CommandID  string    `json:"command_id"`
				Command    string    `json:"command_text"`
				Username   string    `json:"username,omitempty"`
				Status     db.Status `json:"status"`
				RuleID     *int64    `json:"matched_rule_id,omitempty"`
				Credits    int64     `json:"credits_deducted"`
				CreatedAt  string    `json:"created_at"`
				ExecutedAt string    `json:"executed_at,omitempty"`
			}

			resp := make([]historyView, 0, len(commands))
			for _, c := range commands {
				view := historyView{
					CommandID: c.ID,
					Command:   c.Text,
					Username:  c.Username,
					Status:    c.Status,
					RuleID:    c.MatchedRuleID,
					Credits:   c.CreditsDeducted,
					CreatedAt: c.CreatedAt.Format(time.RFC3339),
				}
				if c.ExecutedAt != nil {
					view.ExecutedAt = c.ExecutedAt.Format(time.RFC3339)
				}
				resp = append(resp, view)
			}

			return newWriter(cmd).Render(resp, func(w io.Writer) error {
				if len(resp) == 0 {
					_, err := io.WriteString(w, "No commands.\n")
					return err
				}
				rows := make([][]string, 0, len(resp))
				for _, v := range resp {
					rows = append(rows, []string{v.CommandID, v.Username, string(v.Status), utils.Truncate(v.Command, 48), v.CreatedAt})
				}
				return output.Table(w, []string{"ID", "USER", "STATUS", "COMMAND", "CREATED"}, rows)
			})
		})
	},
}

// parseSince accepts RFC3339 or a bare date. Empty yields the zero time.
func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: use RFC3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

func filterHistory(commands []*db.Command, status db.Status, since time.Time) []*db.Command {
	result := make([]*db.Command, 0, len(commands))
	for _, c := range commands {
		if status != "" && c.Status != status {
			continue
		}
		if !since.IsZero() && c.CreatedAt.Before(since) {
			continue
		}
		result = append(result, c)
	}
	return result
}
