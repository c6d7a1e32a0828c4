package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/output"
	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

var (
	flagRuleAction      string
	flagRuleDescription string
	flagRuleThreshold   int
	flagRuleStart       string
	flagRuleEnd         string
	flagRuleTimezone    string
	flagRuleExclude     int64
	flagRuleExitCode    bool
)

// errApprovalNeeded is returned by `rule test --exit-code` when a command
// would not run immediately.
var errApprovalNeeded = errors.New("command would not be auto-accepted")

func init() {
	ruleAddCmd.Flags().StringVarP(&flagRuleAction, "action", "a", "", "AUTO_ACCEPT, REQUIRE_APPROVAL or AUTO_REJECT")
	ruleAddCmd.Flags().StringVarP(&flagRuleDescription, "description", "d", "", "human-readable description")
	ruleAddCmd.Flags().IntVar(&flagRuleThreshold, "threshold", 0, "approvals required (REQUIRE_APPROVAL only; default by submitter tier)")
	ruleAddCmd.Flags().StringVar(&flagRuleStart, "start", "", "window start HH:MM")
	ruleAddCmd.Flags().StringVar(&flagRuleEnd, "end", "", "window end HH:MM")
	ruleAddCmd.Flags().StringVar(&flagRuleTimezone, "timezone", "UTC", "IANA timezone for the window")
	_ = ruleAddCmd.MarkFlagRequired("action")

	ruleCheckCmd.Flags().Int64Var(&flagRuleExclude, "exclude", 0, "rule ID to ignore")
	ruleTestCmd.Flags().BoolVar(&flagRuleExitCode, "exit-code", false, "return non-zero exit code unless the command would be auto-accepted")

	ruleCmd.AddCommand(ruleListCmd)
	ruleCmd.AddCommand(ruleAddCmd)
	ruleCmd.AddCommand(ruleRemoveCmd)
	ruleCmd.AddCommand(ruleCheckCmd)
	ruleCmd.AddCommand(ruleTestCmd)
	ruleCmd.AddCommand(ruleImportCmd)
	ruleCmd.AddCommand(ruleExportCmd)

	rootCmd.AddCommand(ruleCmd)
}

var ruleCmd = &cobra.Command{
	Use:     "rule",
	Aliases: []string{"rules"},
	Short:   "Manage command rules",
	Long: `Manage the ordered rule list commands are matched against.

Rules are regex patterns searched anywhere in the command text. Rules are
tried in creation order and the first active match decides. A rule with a
time window only matches between its start and end time in its timezone;
windows may wrap past midnight. Commands matching no rule are rejected.

New rules that would match the same probe command as an existing rule are
refused as conflicts.`,
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in match order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		rules, err := a.engine.ListRules()
		if err != nil {
			return err
		}
		return newWriter(cmd).Render(rules, func(w io.Writer) error {
			if len(rules) == 0 {
				_, err := io.WriteString(w, "No rules defined; every command is rejected.\n")
				return err
			}
			rows := make([][]string, 0, len(rules))
			for _, r := range rules {
				threshold := "-"
				if r.ApprovalThreshold != nil {
					threshold = strconv.Itoa(*r.ApprovalThreshold)
				}
				window := "always"
				if r.HasWindow() {
					window = fmt.Sprintf("%s-%s %s", r.TimeStart, r.TimeEnd, r.Timezone)
				}
				rows = append(rows, []string{strconv.FormatInt(r.ID, 10), string(r.Action), r.Pattern, threshold, window, utils.Truncate(r.Description, 40)})
			}
			return output.Table(w, []string{"ID", "ACTION", "PATTERN", "THRESHOLD", "WINDOW", "DESCRIPTION"}, rows)
		})
	},
}

var ruleAddCmd = &cobra.Command{
	Use:   "add <pattern>",
	Short: "Add a rule (admin only)",
	Long: `Add a rule at the end of the match order.

Examples:
  cmdgate rule add '^ls\b' --action AUTO_ACCEPT -d "Listing is safe"
  cmdgate rule add '^make deploy' --action REQUIRE_APPROVAL --threshold 2
  cmdgate rule add 'rm\s+-rf' --action AUTO_REJECT
  cmdgate rule add '^kubectl' --action REQUIRE_APPROVAL --start 22:00 --end 06:00 --timezone Europe/Berlin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := core.RuleSpec{
			Pattern:     args[0],
			Action:      db.Action(strings.ToUpper(flagRuleAction)),
			Description: flagRuleDescription,
			TimeStart:   flagRuleStart,
			TimeEnd:     flagRuleEnd,
		}
		if spec.TimeStart != "" || spec.TimeEnd != "" {
			spec.Timezone = flagRuleTimezone
		}
		if cmd.Flags().Changed("threshold") {
			threshold := flagRuleThreshold
			spec.ApprovalThreshold = &threshold
		}

		return withActor(func(a *app, actor *db.User) error {
			rule, err := a.engine.CreateRule(cmd.Context(), actor, spec)
			if err != nil {
				return err
			}
			out := newWriter(cmd)
			if out.IsStructured() {
				return out.Write(rule)
			}
			out.Success(fmt.Sprintf("Created rule %d: %s -> %s", rule.ID, rule.Pattern, rule.Action))
			return nil
		})
	},
}

var ruleRemoveCmd = &cobra.Command{
	Use:     "remove <rule-id>",
	Aliases: []string{"rm", "delete"},
	Short:   "Delete a rule (admin only)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "rule")
		if err != nil {
			return err
		}
		return withActor(func(a *app, actor *db.User) error {
			if err := a.engine.DeleteRule(cmd.Context(), actor, id); err != nil {
				return err
			}
			newWriter(cmd).Success(fmt.Sprintf("Deleted rule %d", id))
			return nil
		})
	},
}

var ruleCheckCmd = &cobra.Command{
	Use:   "check <pattern>",
	Short: "Report existing rules that would conflict with a pattern (admin only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withActor(func(a *app, actor *db.User) error {
			conflicts, err := a.engine.CheckConflict(actor, args[0], flagRuleExclude)
			if err != nil {
				return err
			}
			payload := map[string]any{
				"pattern":       args[0],
				"has_conflicts": len(conflicts) > 0,
				"conflicts":     conflicts,
			}
			return newWriter(cmd).Render(payload, func(w io.Writer) error {
				if len(conflicts) == 0 {
					_, err := fmt.Fprintf(w, "No conflicts for %s\n", args[0])
					return err
				}
				rows := make([][]string, 0, len(conflicts))
				for _, c := range conflicts {
					rows = append(rows, []string{strconv.FormatInt(c.RuleID, 10), c.Pattern, c.ProbeCommand})
				}
				return output.Table(w, []string{"RULE", "PATTERN", "PROBE"}, rows)
			})
		})
	},
}

var ruleTestCmd = &cobra.Command{
	Use:     "test <command...>",
	Aliases: []string{"dry-run"},
	Short:   "Show how a command would be handled right now",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		return withActor(func(a *app, actor *db.User) error {
			res, err := a.engine.TestCommand(actor, text)
			if err != nil {
				return err
			}
			if err := newWriter(cmd).Render(res, func(w io.Writer) error {
				return renderRuleTest(w, res)
			}); err != nil {
				return err
			}
			if flagRuleExitCode && res.Action != db.ActionAutoAccept {
				return errApprovalNeeded
			}
			return nil
		})
	},
}

func renderRuleTest(w io.Writer, res *core.RuleTestResult) error {
	if res.Rule == nil {
		_, err := fmt.Fprintf(w, "%s: %s (no matching rule)\n", res.Command, res.Action)
		return err
	}
	fmt.Fprintf(w, "%s: %s (rule %d: %s)\n", res.Command, res.Action, res.Rule.ID, res.Rule.Pattern)
	if res.Action == db.ActionRequireApproval {
		fmt.Fprintf(w, "  approvals required: %d\n", res.Threshold)
	}
	return nil
}

// ruleFile is the YAML layout used by rule import and export.
type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Pattern           string `yaml:"pattern"`
	Action            string `yaml:"action"`
	Description       string `yaml:"description,omitempty"`
	ApprovalThreshold *int   `yaml:"approval_threshold,omitempty"`
	TimeStart         string `yaml:"time_start,omitempty"`
	TimeEnd           string `yaml:"time_end,omitempty"`
	Timezone          string `yaml:"timezone,omitempty"`
}

func (e ruleEntry) spec() core.RuleSpec {
	return core.RuleSpec{
		Pattern:           e.Pattern,
		Action:            db.Action(strings.ToUpper(e.Action)),
		Description:       e.Description,
		ApprovalThreshold: e.ApprovalThreshold,
		TimeStart:         e.TimeStart,
		TimeEnd:           e.TimeEnd,
		Timezone:          e.Timezone,
	}
}

var ruleImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create rules from a YAML file (admin only)",
	Long: `Create rules listed in a YAML file, in file order.

Every entry is validated before any rule is created. Import stops at the
first conflict; rules created before it are kept.

  rules:
    - pattern: '^ls\b'
      action: AUTO_ACCEPT
    - pattern: '^make deploy'
      action: REQUIRE_APPROVAL
      approval_threshold: 2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := readRuleFile(args[0])
		if err != nil {
			return err
		}
		return withActor(func(a *app, actor *db.User) error {
			created := make([]*db.Rule, 0, len(entries))
			for i, entry := range entries {
				rule, err := a.engine.CreateRule(cmd.Context(), actor, entry.spec())
				if err != nil {
					return fmt.Errorf("rule %d (%s): %w", i+1, entry.Pattern, err)
				}
				created = append(created, rule)
			}
			out := newWriter(cmd)
			if out.IsStructured() {
				return out.Write(created)
			}
			out.Success(fmt.Sprintf("Imported %d rules", len(created)))
			return nil
		})
	},
}

func readRuleFile(path string) ([]ruleEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing rule file %s: %w", path, err)
	}
	for i, entry := range file.Rules {
		if err := core.ValidateRule(entry.spec()); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i+1, entry.Pattern, err)
		}
	}
	return file.Rules, nil
}

var ruleExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the rule list as YAML suitable for rule import",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		rules, err := a.engine.ListRules()
		if err != nil {
			return err
		}
		file := ruleFile{Rules: make([]ruleEntry, 0, len(rules))}
		for _, r := range rules {
			file.Rules = append(file.Rules, ruleEntry{
				Pattern:           r.Pattern,
				Action:            string(r.Action),
				Description:       r.Description,
				ApprovalThreshold: r.ApprovalThreshold,
				TimeStart:         r.TimeStart,
				TimeEnd:           r.TimeEnd,
				Timezone:          r.Timezone,
			})
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(file); err != nil {
			return fmt.Errorf("encoding rules: %w", err)
		}
		return enc.Close()
	},
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}
