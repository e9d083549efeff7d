// Package manifest owns the MetaSpec/SubSpec aggregate: every mutation runs
// lock -> load -> transform -> save -> unlock against an injected storage
// backend. Queries read a lock-free snapshot.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"specloom/internal/domain"
	"specloom/internal/events"
	"specloom/internal/lockdir"
	"specloom/internal/schedule"
	"specloom/internal/storage"
)

var (
	// ErrNotFound covers both a missing manifest and a missing sub-spec id.
	ErrNotFound = storage.ErrNotFound
	// ErrAlreadyExists means Init found a document already present at path.
	ErrAlreadyExists = errors.New("manifest already exists")
	ErrDuplicateID   = errors.New("duplicate sub-spec id")
	ErrInvalidPhase  = fmt.Errorf("invalid phase (expected one of: %s)", strings.Join(domain.Phases, ", "))
	ErrInvalidStatus = fmt.Errorf("invalid status (expected one of: %s)", strings.Join(domain.Statuses, ", "))
)

// Store is the manifest store. Zero-value Locks and Events fields get
// defaults; Strict enables phase-ordering validation in UpdatePhase.
type Store struct {
	Backend storage.Backend
	Locks   *lockdir.Manager
	Events  events.Writer
	Strict  bool
	Now     func() time.Time
}

func New(backend storage.Backend) *Store {
	return &Store{Backend: backend, Locks: &lockdir.Manager{}}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) locks() *lockdir.Manager {
	if s.Locks != nil {
		return s.Locks
	}
	return &lockdir.Manager{}
}

// mutate runs fn over the current document under the manifest lock and saves
// the result. The lock is released on every exit path; nothing is written
// when fn fails.
func (s *Store) mutate(ctx context.Context, path string, fn func(*domain.Manifest) error) error {
	if err := s.locks().Acquire(path); err != nil {
		return err
	}
	defer s.locks().Release(path)
	m, err := s.Backend.Load(ctx, path)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return s.Backend.Save(ctx, path, m)
}

type InitOptions struct {
	ID            string
	Title         string
	UserStoryFile string
	BreakdownFile string
	Actor         string
}

// Init creates a new manifest at path with an empty sub-spec list.
func (s *Store) Init(ctx context.Context, path string, opts InitOptions) (*domain.Manifest, error) {
	if !domain.ValidID(opts.ID) {
		return nil, fmt.Errorf("meta-spec id %q must match NNN-name", opts.ID)
	}
	if opts.Title == "" {
		return nil, errors.New("title is required")
	}
	if err := s.locks().Acquire(path); err != nil {
		return nil, err
	}
	defer s.locks().Release(path)

	exists, err := s.Backend.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("manifest %s: %w", path, ErrAlreadyExists)
	}
	m := &domain.Manifest{
		Version: domain.DocumentVersion,
		MetaSpec: domain.MetaSpec{
			ID:            opts.ID,
			Title:         opts.Title,
			UserStoryFile: opts.UserStoryFile,
			BreakdownFile: opts.BreakdownFile,
			Scheduled:     false,
			CreatedAt:     s.now().UTC().Format(time.RFC3339),
		},
		SubSpecs: []domain.SubSpec{},
	}
	if err := s.Backend.Save(ctx, path, m); err != nil {
		return nil, err
	}
	s.logEvent(path, "metaspec.init", m.MetaSpec.ID, "", opts.Actor, events.EventPayload{"title": opts.Title})
	return m, nil
}

type AddSubSpecOptions struct {
	ID      string
	Title   string
	Depends []string
	Actor   string
}

// AddSubSpec appends a new sub-spec with phases at their initial statuses.
// The depends set is fixed at creation and never mutated afterwards.
func (s *Store) AddSubSpec(ctx context.Context, path string, opts AddSubSpecOptions) (*domain.SubSpec, error) {
	if !domain.ValidID(opts.ID) {
		return nil, fmt.Errorf("sub-spec id %q must match NNN-name", opts.ID)
	}
	if opts.Title == "" {
		return nil, errors.New("title is required")
	}
	var added domain.SubSpec
	err := s.mutate(ctx, path, func(m *domain.Manifest) error {
		if m.FindSubSpec(opts.ID) != nil {
			return fmt.Errorf("sub-spec %s: %w", opts.ID, ErrDuplicateID)
		}
		for _, dep := range opts.Depends {
			if dep == opts.ID {
				return fmt.Errorf("sub-spec %s cannot depend on itself", opts.ID)
			}
			if m.FindSubSpec(dep) == nil {
				return fmt.Errorf("dependency %s: %w", dep, ErrNotFound)
			}
		}
		depends := opts.Depends
		if depends == nil {
			depends = []string{}
		}
		added = domain.SubSpec{
			ID:        opts.ID,
			Title:     opts.Title,
			Depends:   depends,
			Phases:    domain.NewPhases(m.MetaSpec.Scheduled),
			Branch:    domain.BranchName(m.MetaSpec.ID, opts.ID),
			CreatedAt: s.now().UTC().Format(time.RFC3339),
		}
		m.SubSpecs = append(m.SubSpecs, added)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logEvent(path, "subspec.added", "", opts.ID, opts.Actor, events.EventPayload{"title": opts.Title, "depends": opts.Depends})
	return &added, nil
}

// UpdatePhase sets one phase status. Ordering between phases is deliberately
// not enforced unless Strict is set; two invariants hold regardless: a
// complete phase never reverts, and implement cannot leave blocked before the
// meta-spec is scheduled. Callers driving a sub-spec through all four phases
// must approve the schedule (MarkScheduled) before moving implement.
func (s *Store) UpdatePhase(ctx context.Context, path, subSpecID, phase, status, actor string) error {
	if !domain.ValidPhase(phase) {
		return fmt.Errorf("phase %q: %w", phase, ErrInvalidPhase)
	}
	if !domain.ValidStatus(status) {
		return fmt.Errorf("status %q: %w", status, ErrInvalidStatus)
	}
	err := s.mutate(ctx, path, func(m *domain.Manifest) error {
		sub := m.FindSubSpec(subSpecID)
		if sub == nil {
			return fmt.Errorf("sub-spec %s: %w", subSpecID, ErrNotFound)
		}
		current := sub.Phases[phase]
		if current == domain.StatusComplete && status != domain.StatusComplete {
			return fmt.Errorf("sub-spec %s phase %s is complete and cannot revert to %s", subSpecID, phase, status)
		}
		if phase == domain.PhaseImplement && !m.MetaSpec.Scheduled &&
			current == domain.StatusBlocked && status != domain.StatusBlocked {
			return fmt.Errorf("sub-spec %s implement phase is blocked until the meta-spec is scheduled", subSpecID)
		}
		if s.Strict {
			if err := checkOrdering(sub, phase, status); err != nil {
				return err
			}
		}
		sub.Phases[phase] = status
		return nil
	})
	if err != nil {
		return err
	}
	s.logEvent(path, "phase.updated", "", subSpecID, actor, events.EventPayload{"phase": phase, "status": status})
	return nil
}

func checkOrdering(sub *domain.SubSpec, phase, status string) error {
	if status != domain.StatusInProgress && status != domain.StatusComplete {
		return nil
	}
	prev := domain.PrevPhase(phase)
	if prev == "" {
		return nil
	}
	if sub.Phases[prev] != domain.StatusComplete {
		return fmt.Errorf("strict mode: sub-spec %s cannot move %s to %s while %s is %s",
			sub.ID, phase, status, prev, sub.Phases[prev])
	}
	return nil
}

// SetWorktree records (or overwrites) the worktree path for a sub-spec. The
// path is owned by the worktree collaborator and merely stored here.
func (s *Store) SetWorktree(ctx context.Context, path, subSpecID, worktreePath, actor string) error {
	err := s.mutate(ctx, path, func(m *domain.Manifest) error {
		sub := m.FindSubSpec(subSpecID)
		if sub == nil {
			return fmt.Errorf("sub-spec %s: %w", subSpecID, ErrNotFound)
		}
		if worktreePath == "" {
			sub.Worktree = nil
		} else {
			sub.Worktree = &worktreePath
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logEvent(path, "worktree.updated", "", subSpecID, actor, events.EventPayload{"worktree": worktreePath})
	return nil
}

// MarkScheduled stores the approved schedule, flips scheduled on, and moves
// every blocked implement phase to pending. Re-approval overwrites the stored
// schedule.
func (s *Store) MarkScheduled(ctx context.Context, path string, doc *schedule.Document, actor string) error {
	if doc == nil {
		return errors.New("schedule document is required")
	}
	err := s.mutate(ctx, path, func(m *domain.Manifest) error {
		ids := make([]string, 0, len(m.SubSpecs))
		for _, sub := range m.SubSpecs {
			ids = append(ids, sub.ID)
		}
		if err := doc.Validate(ids); err != nil {
			return err
		}
		m.MetaSpec.Scheduled = true
		m.Schedule = doc
		for i := range m.SubSpecs {
			if m.SubSpecs[i].Phases[domain.PhaseImplement] == domain.StatusBlocked {
				m.SubSpecs[i].Phases[domain.PhaseImplement] = domain.StatusPending
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logEvent(path, "schedule.approved", "", "", actor, events.EventPayload{"phases": len(doc.Phases)})
	return nil
}

// Get returns a snapshot of the document. Queries read snapshots without the
// lock; consistency across successive queries is not guaranteed.
func (s *Store) Get(ctx context.Context, path string) (*domain.Manifest, error) {
	return s.Backend.Load(ctx, path)
}

// ReadyForPhase returns, in stored order, the sub-specs ready to start the
// named phase. For implement this is empty unless the meta-spec is scheduled,
// and each candidate's dependencies must all have implement complete.
func (s *Store) ReadyForPhase(ctx context.Context, path, phase string) ([]string, error) {
	if !domain.ValidPhase(phase) {
		return nil, fmt.Errorf("phase %q: %w", phase, ErrInvalidPhase)
	}
	m, err := s.Backend.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	var ready []string
	for _, sub := range m.SubSpecs {
		if subReady(m, &sub, phase) {
			ready = append(ready, sub.ID)
		}
	}
	return ready, nil
}

func subReady(m *domain.Manifest, sub *domain.SubSpec, phase string) bool {
	switch phase {
	case domain.PhaseSpecify:
		return sub.Phases[domain.PhaseSpecify] == domain.StatusPending
	case domain.PhasePlan:
		return sub.Phases[domain.PhaseSpecify] == domain.StatusComplete &&
			sub.Phases[domain.PhasePlan] == domain.StatusPending
	case domain.PhaseTasks:
		return sub.Phases[domain.PhasePlan] == domain.StatusComplete &&
			sub.Phases[domain.PhaseTasks] == domain.StatusPending
	case domain.PhaseImplement:
		if !m.MetaSpec.Scheduled {
			return false
		}
		if sub.Phases[domain.PhaseTasks] != domain.StatusComplete ||
			sub.Phases[domain.PhaseImplement] != domain.StatusPending {
			return false
		}
		for _, dep := range sub.Depends {
			depSub := m.FindSubSpec(dep)
			if depSub == nil || depSub.Phases[domain.PhaseImplement] != domain.StatusComplete {
				return false
			}
		}
		return true
	}
	return false
}

// NextForPhase returns the first ready sub-spec in stored order, or "".
func (s *Store) NextForPhase(ctx context.Context, path, phase string) (string, error) {
	ready, err := s.ReadyForPhase(ctx, path, phase)
	if err != nil {
		return "", err
	}
	if len(ready) == 0 {
		return "", nil
	}
	return ready[0], nil
}

// AllPhaseComplete reports whether every sub-spec's named phase is complete.
// An empty sub-spec list is never complete.
func (s *Store) AllPhaseComplete(ctx context.Context, path, phase string) (bool, error) {
	if !domain.ValidPhase(phase) {
		return false, fmt.Errorf("phase %q: %w", phase, ErrInvalidPhase)
	}
	m, err := s.Backend.Load(ctx, path)
	if err != nil {
		return false, err
	}
	if len(m.SubSpecs) == 0 {
		return false, nil
	}
	for _, sub := range m.SubSpecs {
		if sub.Phases[phase] != domain.StatusComplete {
			return false, nil
		}
	}
	return true, nil
}

// Summary renders the meta-spec header plus one row per sub-spec with all
// four phase statuses.
func (s *Store) Summary(ctx context.Context, path string) (string, error) {
	m, err := s.Backend.Load(ctx, path)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	scheduled := "not scheduled"
	if m.MetaSpec.Scheduled {
		scheduled = "scheduled"
	}
	fmt.Fprintf(&b, "Meta-spec: %s %q (%s)\n", m.MetaSpec.ID, m.MetaSpec.Title, scheduled)
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"ID", "Title", "Specify", "Plan", "Tasks", "Implement", "Worktree"})
	for _, sub := range m.SubSpecs {
		worktree := ""
		if sub.Worktree != nil {
			worktree = *sub.Worktree
		}
		tw.AppendRow(table.Row{
			sub.ID, sub.Title,
			sub.Phases[domain.PhaseSpecify],
			sub.Phases[domain.PhasePlan],
			sub.Phases[domain.PhaseTasks],
			sub.Phases[domain.PhaseImplement],
			worktree,
		})
	}
	b.WriteString(tw.Render())
	b.WriteString("\n")
	return b.String(), nil
}

// logEvent appends to the audit trail. Failures are non-fatal: the manifest
// mutation has already committed and the trail is diagnostic only.
func (s *Store) logEvent(path, evtType, metaSpecID, subSpecID, actor string, payload events.EventPayload) {
	if err := s.Events.Append(path, evtType, metaSpecID, subSpecID, actor, payload); err != nil {
		log.Printf("WARNING: event log append failed for %s: %v", path, err)
	}
}
