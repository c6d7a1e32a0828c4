package cli

import (
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/output"
	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List commands awaiting approval (admin only)",
	Long: `List every pending command with its submitter, tier and current tally.

The approval token is never shown here; it is returned to the voter whose
vote approves the command.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withActor(func(a *app, actor *db.User) error {
			pending, err := a.engine.ListPending(actor)
			if err != nil {
				return err
			}

			type pendingView struct {
				CommandID  string  `json:"command_id"`
				Command    string  `json:"command_text"`
				Username   string  `json:"username"`
				Tier       db.Tier `json:"tier"`
				Approvals  int     `json:"approvals"`
				Rejections int     `json:"rejections"`
				Required   int     `json:"required_approvals"`
				CreatedAt  string  `json:"created_at"`
				Escalated  bool    `json:"escalated"`
			}

			resp := make([]pendingView, 0, len(pending))
			for _, p := range pending {
				resp = append(resp, pendingView{
					CommandID:  p.ID,
					Command:    p.Text,
					Username:   p.Username,
					Tier:       p.Tier,
					Approvals:  p.Tally.Approvals,
					Rejections: p.Tally.Rejections,
					Required:   p.RequiredApprovals,
					CreatedAt:  p.CreatedAt.Format(time.RFC3339),
					Escalated:  p.EscalatedAt != nil,
				})
			}

			return newWriter(cmd).Render(resp, func(w io.Writer) error {
				if len(resp) == 0 {
					_, err := io.WriteString(w, "No pending commands.\n")
					return err
				}
				rows := make([][]string, 0, len(resp))
				for _, v := range resp {
					votes := strconv.Itoa(v.Approvals) + "/" + strconv.Itoa(v.Required)
					if v.Rejections > 0 {
						votes += " (-" + strconv.Itoa(v.Rejections) + ")"
					}
					rows = append(rows, []string{v.CommandID, v.Username, string(v.Tier), votes, utils.Truncate(v.Command, 48), v.CreatedAt})
				}
				return output.Table(w, []string{"ID", "USER", "TIER", "VOTES", "COMMAND", "CREATED"}, rows)
			})
		})
	},
}
