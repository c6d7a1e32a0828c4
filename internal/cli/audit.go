package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/output"
)

var flagAuditLimit int

func init() {
	auditCmd.Flags().IntVar(&flagAuditLimit, "limit", 100, "max entries to return")
	rootCmd.AddCommand(auditCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit log, newest first (admin only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withActor(func(a *app, actor *db.User) error {
			entries, err := a.engine.ListAudit(actor, flagAuditLimit)
			if err != nil {
				return err
			}
			return newWriter(cmd).Render(entries, func(w io.Writer) error {
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					who := e.Username
					if who == "" {
						who = "-"
					}
					rows = append(rows, []string{e.CreatedAt.Format(time.RFC3339), who, e.ActionType, e.Details})
				}
				return output.Table(w, []string{"TIME", "USER", "ACTION", "DETAILS"}, rows)
			})
		})
	},
}
