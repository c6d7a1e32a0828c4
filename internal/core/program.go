package core

import (
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ProgramName returns the base name of the program a command invokes, for
// logs and notifications. Leading VAR=value assignments are skipped.
func ProgramName(text string) string {
	parser := shellwords.NewParser()
	parser.ParseEnv = false
	parser.ParseBacktick = false

	words, err := parser.Parse(text)
	if err != nil || len(words) == 0 {
		words = strings.Fields(text)
	}
	for _, w := range words {
		if isAssignment(w) {
			continue
		}
		return filepath.Base(w)
	}
	return ""
}

func isAssignment(word string) bool {
	name, _, ok := strings.Cut(word, "=")
	if !ok || name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
