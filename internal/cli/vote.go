package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
}

var approveCmd = &cobra.Command{
	Use:   "approve <command-id>",
	Short: "Vote to approve a pending command (admin only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVote(cmd, args[0], db.VoteApprove)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <command-id>",
	Short: "Vote to reject a pending command (admin only)",
	Long: `Vote to reject a pending command.

A command is rejected once reject votes outnumber approve votes. Voting
again on the same command replaces your earlier vote.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVote(cmd, args[0], db.VoteReject)
	},
}

func runVote(cmd *cobra.Command, commandID string, vote db.VoteValue) error {
	return withActor(func(a *app, actor *db.User) error {
		res, err := a.engine.RecordVote(cmd.Context(), actor, commandID, vote)
		if err != nil {
			return err
		}
		return newWriter(cmd).Render(res, func(w io.Writer) error {
			return renderVoteResult(w, res)
		})
	})
}

func renderVoteResult(w io.Writer, res *core.VoteResult) error {
	fmt.Fprintf(w, "%s: %s (%d approve / %d reject, %d required)\n",
		res.CommandID, res.Message, res.Approvals, res.Rejections, res.Required)
	if res.ApprovalToken != "" {
		fmt.Fprintf(w, "Approval token: %s\n", res.ApprovalToken)
	}
	return nil
}
