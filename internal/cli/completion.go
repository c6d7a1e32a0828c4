package cli

import (
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

var completionCmd = &cobra.Command{
	Use:       "completion [bash|zsh|fish|powershell]",
	Short:     "Generate shell completion scripts",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		default:
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	approveCmd.ValidArgsFunction = completePendingIDs
	rejectCmd.ValidArgsFunction = completePendingIDs
	ruleRemoveCmd.ValidArgsFunction = completeRuleIDs
}

// openForCompletion opens an existing database; completion never creates one.
func openForCompletion() (*db.DB, bool) {
	path := GetDB()
	if _, err := os.Stat(path); err != nil {
		return nil, false
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, false
	}
	return database, true
}

func completePendingIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	database, ok := openForCompletion()
	if !ok {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer database.Close()

	pending, err := database.ListPendingCommands()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	out := make([]string, 0, len(pending))
	for _, p := range pending {
		if toComplete != "" && !strings.HasPrefix(p.ID, toComplete) {
			continue
		}
		out = append(out, p.ID+"\t"+p.Username+": "+utils.Truncate(p.Text, 40))
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func completeRuleIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	database, ok := openForCompletion()
	if !ok {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer database.Close()

	rules, err := database.ListRules()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	out := make([]string, 0, len(rules))
	for _, r := range rules {
		id := strconv.FormatInt(r.ID, 10)
		if toComplete != "" && !strings.HasPrefix(id, toComplete) {
			continue
		}
		out = append(out, id+"\t"+string(r.Action)+" "+r.Pattern)
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
