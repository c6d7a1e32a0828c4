package core

import (
	"slices"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// DefaultProbeCommands returns the representative commands used to detect
// overlapping rule patterns.
func DefaultProbeCommands() []string {
	return []string{
		"ls -la",
		"rm -rf /",
		"git status",
		"cat file.txt",
		"echo hello",
		"mkfs.ext4 /dev/sda",
		":(){ :|:& };:",
	}
}

// ConflictDetector reports existing rules whose pattern overlaps a
// candidate pattern on at least one probe command.
type ConflictDetector struct {
	engine *RuleEngine
	probes []string
}

// NewConflictDetector creates a detector. An empty probe list uses
// DefaultProbeCommands.
func NewConflictDetector(engine *RuleEngine, probes []string) *ConflictDetector {
	if engine == nil {
		engine = NewRuleEngine()
	}
	if len(probes) == 0 {
		probes = DefaultProbeCommands()
	}
	return &ConflictDetector{engine: engine, probes: slices.Clone(probes)}
}

// Probes returns a copy of the probe set.
func (d *ConflictDetector) Probes() []string {
	return slices.Clone(d.probes)
}

// Detect compares candidate against every existing rule except excludeID
// (zero excludes nothing). Each conflicting rule is reported once, with the
// first probe both patterns match. Results follow the order of existing.
func (d *ConflictDetector) Detect(candidate string, existing []*db.Rule, excludeID int64) ([]Conflict, error) {
	candRe, err := d.engine.Compile(candidate)
	if err != nil {
		return nil, validationErr("invalid regex pattern: %v", err)
	}

	conflicts := []Conflict{}
	for _, r := range existing {
		if excludeID != 0 && r.ID == excludeID {
			continue
		}
		re, err := d.engine.Compile(r.Pattern)
		if err != nil {
			continue
		}
		for _, probe := range d.probes {
			if candRe.MatchString(probe) && re.MatchString(probe) {
				conflicts = append(conflicts, Conflict{
					RuleID:       r.ID,
					Pattern:      r.Pattern,
					ProbeCommand: probe,
				})
				break
			}
		}
	}
	return conflicts, nil
}
