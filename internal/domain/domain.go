package domain

import (
	"fmt"
	"regexp"
)

// DocumentVersion is the manifest schema version written by this tool.
const DocumentVersion = "1.0.0"

// Phase names, in lifecycle order.
const (
	PhaseSpecify   = "specify"
	PhasePlan      = "plan"
	PhaseTasks     = "tasks"
	PhaseImplement = "implement"
)

// Phase statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusComplete   = "complete"
	StatusBlocked    = "blocked"
)

// Phases lists the four phases in order.
var Phases = []string{PhaseSpecify, PhasePlan, PhaseTasks, PhaseImplement}

// Statuses lists the recognized phase statuses.
var Statuses = []string{StatusPending, StatusInProgress, StatusComplete, StatusBlocked}

// Manifest is the persisted aggregate: one MetaSpec and its SubSpecs.
type Manifest struct {
	Version  string    `json:"version"`
	MetaSpec MetaSpec  `json:"metaSpec"`
	SubSpecs []SubSpec `json:"subSpecs"`
	Schedule any       `json:"schedule"`
}

type MetaSpec struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	UserStoryFile string `json:"userStoryFile"`
	BreakdownFile string `json:"breakdownFile"`
	Scheduled     bool   `json:"scheduled"`
	CreatedAt     string `json:"createdAt"`
}

type SubSpec struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Depends   []string          `json:"depends"`
	Phases    map[string]string `json:"phases"`
	Branch    string            `json:"branch"`
	Worktree  *string           `json:"worktree"`
	CreatedAt string            `json:"createdAt"`
}

var idPattern = regexp.MustCompile(`^[0-9]{3}-[a-z0-9][a-z0-9-]*$`)

// ValidID reports whether id matches the NNN-name slug format.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidPhase reports whether p is one of the four phase names.
func ValidPhase(p string) bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a recognized phase status.
func ValidStatus(s string) bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// PrevPhase returns the phase before p in lifecycle order, or "" for specify.
func PrevPhase(p string) string {
	for i, known := range Phases {
		if p == known && i > 0 {
			return Phases[i-1]
		}
	}
	return ""
}

// NewPhases returns the initial phase map for a fresh SubSpec. The implement
// phase starts blocked until the MetaSpec is scheduled; a SubSpec added after
// scheduling starts with implement already pending.
func NewPhases(scheduled bool) map[string]string {
	implement := StatusBlocked
	if scheduled {
		implement = StatusPending
	}
	return map[string]string{
		PhaseSpecify:   StatusPending,
		PhasePlan:      StatusPending,
		PhaseTasks:     StatusPending,
		PhaseImplement: implement,
	}
}

// BranchName derives the git branch for a SubSpec.
func BranchName(metaSpecID, subSpecID string) string {
	return fmt.Sprintf("%s-%s", metaSpecID, subSpecID)
}

// FindSubSpec returns a pointer into m.SubSpecs for id, or nil.
func (m *Manifest) FindSubSpec(id string) *SubSpec {
	for i := range m.SubSpecs {
		if m.SubSpecs[i].ID == id {
			return &m.SubSpecs[i]
		}
	}
	return nil
}
