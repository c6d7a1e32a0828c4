package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Catppuccin Mocha color palette
var (
	colorMauve   = lipgloss.Color("#cba6f7") // Title
	colorBlue    = lipgloss.Color("#89b4fa") // Section headers
	colorGreen   = lipgloss.Color("#a6e3a1") // Commands
	colorYellow  = lipgloss.Color("#f9e2af") // Flags
	colorRed     = lipgloss.Color("#f38ba8") // AUTO_REJECT
	colorPeach   = lipgloss.Color("#fab387") // REQUIRE_APPROVAL
	colorGreenOK = lipgloss.Color("#a6e3a1") // AUTO_ACCEPT
	colorOverlay = lipgloss.Color("#6c7086") // Muted text
	colorText    = lipgloss.Color("#cdd6f4") // Normal text
	colorBase    = lipgloss.Color("#1e1e2e") // Background
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorMauve).
			MarginBottom(1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			MarginTop(1)

	commandStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	flagStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	rejectStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorRed)

	approvalStyle = lipgloss.NewStyle().
			Foreground(colorPeach)

	acceptStyle = lipgloss.NewStyle().
			Foreground(colorGreenOK)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorOverlay)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBlue).
			Background(colorBase).
			Padding(1, 2).
			MarginTop(1).
			MarginBottom(1)
)

func showQuickReference(w io.Writer) {
	width := clampWidth(detectWidth())
	useUnicode := supportsUnicode()

	border := lipgloss.RoundedBorder()
	if !useUnicode {
		border = lipgloss.Border{
			Top:         "-",
			Bottom:      "-",
			Left:        "|",
			Right:       "|",
			TopLeft:     "+",
			TopRight:    "+",
			BottomLeft:  "+",
			BottomRight: "+",
		}
	}

	container := boxStyle.Border(border).Width(width)

	titleText := " CMDGATE QUICK REFERENCE: Policy Gate for Shell Commands "
	titleRendered := gradientText(titleText, []lipgloss.Color{colorMauve, colorBlue})
	if !useUnicode {
		titleRendered = "CMDGATE QUICK REFERENCE: Policy Gate for Shell Commands"
	}
	title := titleStyle.Width(width - 4).Align(lipgloss.Center).Render(titleRendered)

	setup := renderSection(useUnicode, "🔷 SETUP (once per project)", []string{
		bullet("cmdgate init --admin <name>", "create the database and first admin"),
		bullet("cmdgate user add <name> --tier mid --email a@b.c", "add a member"),
		bullet("cmdgate rule import rules.yaml", "load a rule set"),
		bullet("cmdgate daemon start --metrics-addr :9464", "escalate stale approvals"),
	})

	submitter := renderSection(useUnicode, "🔶 AS SUBMITTER", []string{
		bullet("cmdgate submit -- ls -la", "run if a rule auto-accepts it (1 credit)"),
		bullet("cmdgate rule test \"make deploy\"", "dry run: what would happen now"),
		bullet("cmdgate submit --token <token>", "run an approved command"),
		bullet("cmdgate history", "your commands and their status"),
		bullet("cmdgate whoami", "role, tier and credits"),
	})

	approver := renderSection(useUnicode, "🔷 AS ADMIN", []string{
		bullet("cmdgate pending", "commands awaiting votes"),
		bullet("cmdgate approve <id>", "vote approve (token shown once approved)"),
		bullet("cmdgate reject <id>", "vote reject"),
		bullet("cmdgate user credits <name> 50", "set a balance"),
		bullet("cmdgate audit --limit 20", "recent audit log"),
	})

	rules := renderSection(useUnicode, "🛡️ RULES (first match wins)", []string{
		bullet("cmdgate rule add '^git push' -a REQUIRE_APPROVAL --threshold 2", "add with quorum override"),
		bullet("cmdgate rule check '^git'", "show overlapping rules"),
		bullet("cmdgate rule list", "rules in match order"),
	})

	actions := actionLegend(useUnicode)
	flags := flagLegend(useUnicode)
	footer := footerLegend(useUnicode)

	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		setup,
		submitter,
		approver,
		rules,
		actions,
		flags,
		footer,
	)

	fmt.Fprintln(w, container.Render(content))
}

func clampWidth(w int) int {
	if w < 72 {
		return 72
	}
	if w > 100 {
		return 100
	}
	return w
}

func detectWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	// fall back to environment or default
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if v, err := strconv.Atoi(cols); err == nil && v > 0 {
			return v
		}
	}
	return 80
}

func supportsUnicode() bool {
	termEnv := strings.ToLower(os.Getenv("TERM"))
	locale := strings.ToLower(strings.Join([]string{
		os.Getenv("LC_ALL"),
		os.Getenv("LC_CTYPE"),
		os.Getenv("LANG"),
	}, " "))
	if strings.Contains(termEnv, "dumb") {
		return false
	}
	return strings.Contains(locale, "utf-8") || strings.Contains(locale, "utf8")
}

func gradientText(text string, colors []lipgloss.Color) string {
	if len(colors) == 0 || !supportsUnicode() {
		return text
	}
	runes := []rune(text)
	segments := len(colors)
	if segments == 1 {
		return lipgloss.NewStyle().Foreground(colors[0]).Render(text)
	}
	// Handle single character case to avoid division by zero
	if len(runes) <= 1 {
		return lipgloss.NewStyle().Foreground(colors[0]).Render(text)
	}

	var b strings.Builder
	for i, r := range runes {
		// simple linear gradient selection
		idx := i * (segments - 1) / (len(runes) - 1)
		b.WriteString(lipgloss.NewStyle().Foreground(colors[idx]).Render(string(r)))
	}
	return b.String()
}

func bullet(command, desc string) string {
	return commandStyle.Render("  "+command) + mutedStyle.Render("  "+desc)
}

func renderSection(useUnicode bool, title string, lines []string) string {
	if !useUnicode {
		title = strings.TrimLeft(title, "🔷🔶🛡️ ")
	}
	header := sectionStyle.Render(title)
	body := strings.Join(lines, "\n")
	return lipgloss.JoinVertical(lipgloss.Left, header, body)
}

func actionLegend(useUnicode bool) string {
	reject := "AUTO_REJECT"
	approval := "REQUIRE_APPROVAL (tier quorum)"
	accept := "AUTO_ACCEPT"
	if useUnicode {
		reject = "🔴 " + reject
		approval = "🟠 " + approval
		accept = "🟢 " + accept
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		sectionStyle.Render("🎯 ACTIONS"),
		fmt.Sprintf("  %s   %s   %s", rejectStyle.Render(reject), approvalStyle.Render(approval), acceptStyle.Render(accept)),
	)
}

func flagLegend(useUnicode bool) string {
	prefix := "🚩 GLOBAL FLAGS"
	if !useUnicode {
		prefix = "FLAGS"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		sectionStyle.Render(prefix),
		flagStyle.Render("  -j, --json")+mutedStyle.Render("              structured output"),
		flagStyle.Render("  -C, --project <dir>")+mutedStyle.Render("   override project path"),
		flagStyle.Render("  --actor <name>")+mutedStyle.Render("        act as this user"),
		flagStyle.Render("  --db <path>")+mutedStyle.Render("               database path"),
	)
}

func footerLegend(useUnicode bool) string {
	quorum := "junior 3 · mid 2 · senior/lead 1"
	help := "cmdgate <command> --help"
	if !useUnicode {
		return mutedStyle.Render("QUORUM: junior 3, mid 2, senior/lead 1   HELP: " + help)
	}
	return lipgloss.JoinHorizontal(lipgloss.Left,
		mutedStyle.Render("QUORUM: "), commandStyle.Render(quorum),
		mutedStyle.Render("   HELP: "), commandStyle.Render(help),
	)
}
