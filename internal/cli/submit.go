package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// errCommandRejected makes a rejected submission exit non-zero after the
// result has been printed.
var errCommandRejected = errors.New("command rejected")

var flagSubmitToken string

func init() {
	submitCmd.Flags().StringVar(&flagSubmitToken, "token", "", "approval token from an approved command")
	rootCmd.AddCommand(submitCmd)
}

var submitCmd = &cobra.Command{
	Use:   "submit [--token <token>] [--] <command...>",
	Short: "Submit a command for evaluation",
	Long: `Evaluate a command against the rule set.

AUTO_ACCEPT commands run immediately and cost one credit. REQUIRE_APPROVAL
commands are held for admin votes; once approved, resubmit with the
approval token (the command text may be omitted) to run it.

Examples:
  cmdgate submit -- ls -la
  cmdgate submit --token 3f9c... -- make deploy`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if strings.TrimSpace(text) == "" && flagSubmitToken == "" {
			return fmt.Errorf("command text or --token is required")
		}

		return withActor(func(a *app, actor *db.User) error {
			res, err := a.engine.Submit(cmd.Context(), actor, core.SubmitRequest{
				Text:          text,
				ApprovalToken: flagSubmitToken,
			})
			if err != nil {
				return err
			}
			out := newWriter(cmd)
			if err := out.Render(res, func(w io.Writer) error {
				return renderSubmitResult(w, res)
			}); err != nil {
				return err
			}
			if res.Status == db.StatusRejected {
				return errCommandRejected
			}
			return nil
		})
	},
}

func renderSubmitResult(w io.Writer, res *core.SubmitResult) error {
	switch res.Status {
	case db.StatusExecuted:
		fmt.Fprintf(w, "✓ Executed %s (credits remaining: %d)\n", res.CommandID, res.Balance)
		if res.Output != "" {
			fmt.Fprint(w, res.Output)
			if !strings.HasSuffix(res.Output, "\n") {
				fmt.Fprintln(w)
			}
		}
	case db.StatusPending:
		fmt.Fprintf(w, "… Command %s is pending approval (%d required)\n", res.CommandID, res.Threshold)
		fmt.Fprintf(w, "Once approved, run: cmdgate submit --token %s\n", res.ApprovalToken)
	case db.StatusRejected:
		fmt.Fprintf(w, "✗ Rejected %s: %s\n", res.CommandID, res.Reason)
	default:
		fmt.Fprintf(w, "%s %s\n", res.Status, res.CommandID)
	}
	return nil
}
