package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/ports"
)

type dialogRow struct {
	id           domain.DialogID
	respondentID string
	messenger    domain.Messenger
	createdAt    time.Time
	finishedAt   *time.Time
	outcome      domain.Outcome
	steps        []domain.Step
	calls        []domain.CallKey
	pauses       []domain.PauseRecord
}

func (d *dialogRow) activePause() int {
	for i, p := range d.pauses {
		if p.Active {
			return i
		}
	}
	return -1
}

// Store implements ports.Storage in memory.
// Safe for concurrent use. Failures can be injected per operation to exercise
// retry policies without a real database.
type Store struct {
	mu          sync.RWMutex
	nextID      domain.DialogID
	respondents map[string]domain.Respondent
	dialogs     map[domain.DialogID]*dialogRow
	failures    map[string]int
	calls       map[string]int
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		respondents: make(map[string]domain.Respondent),
		dialogs:     make(map[domain.DialogID]*dialogRow),
		failures:    make(map[string]int),
		calls:       make(map[string]int),
	}
}

// FailNext makes the next n invocations of op fail with a retryable error.
// A negative n fails every invocation until Heal is called.
func (s *Store) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = n
}

// Heal clears all injected failures.
func (s *Store) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.failures)
}

// Calls returns how many times op was invoked, failed attempts included.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Respondent returns the stored copy of a respondent.
func (s *Store) Respondent(messenger domain.Messenger, id string) (domain.Respondent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.respondents[string(messenger)+":"+id]
	return r, ok
}

// Outcome returns the recorded outcome of a dialog and whether it is finished.
func (s *Store) Outcome(id domain.DialogID) (domain.Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.dialogs[id]
	if !ok || row.finishedAt == nil {
		return domain.OutcomeInterrupted, false
	}
	return row.outcome, true
}

// enter must be called with the write lock held.
func (s *Store) enter(ctx context.Context, op string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	n, ok := s.failures[op]
	if !ok || n == 0 {
		return nil
	}
	if n > 0 {
		s.failures[op] = n - 1
	}
	return fmt.Errorf("memory: %s: %w", op, domain.ErrStorageUnavailable)
}

func (s *Store) row(id domain.DialogID) (*dialogRow, error) {
	row, ok := s.dialogs[id]
	if !ok {
		return nil, fmt.Errorf("memory: dialog %d: %w", id, domain.ErrDialogNotFound)
	}
	return row, nil
}

func (s *Store) CreateDialog(ctx context.Context, respondent domain.Respondent) (domain.DialogID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, ports.OpCreateDialog); err != nil {
		return 0, err
	}

	stored := respondent
	stored.ExtraData = maps.Clone(respondent.ExtraData)
	s.respondents[respondent.Key()] = stored

	s.nextID++
	s.dialogs[s.nextID] = &dialogRow{
		id:           s.nextID,
		respondentID: respondent.ID,
		messenger:    respondent.Messenger,
		createdAt:    time.Now(),
	}
	return s.nextID, nil
}

func (s *Store) SaveQuestionAndAnswer(ctx context.Context, dialogID domain.DialogID, step domain.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, ports.OpSaveQuestionAndAnswer); err != nil {
		return err
	}
	row, err := s.row(dialogID)
	if err != nil {
		return err
	}
	row.steps = append(row.steps, step)
	return nil
}

func (s *Store) SaveFunctionCall(ctx context.Context, dialogID domain.DialogID, key domain.CallKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, ports.OpSaveFunctionCall); err != nil {
		return err
	}
	row, err := s.row(dialogID)
	if err != nil {
		return err
	}
	for _, k := range row.calls {
		if k == key {
			return nil
		}
	}
	row.calls = append(row.calls, key)
	return nil
}

func (s *Store) CloseDialog(ctx context.Context, dialogID domain.DialogID, outcome domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, ports.OpCloseDialog); err != nil {
		return err
	}
	row, err := s.row(dialogID)
	if err != nil {
		return err
	}
	if !outcome.Terminal() {
		return nil
	}
	now := time.Now()
	row.finishedAt = &now
	row.outcome = outcome
	return nil
}

func (s *Store) LastDialogID(ctx context.Context, respondentID string, messenger domain.Messenger, onPause bool) (domain.DialogID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, ports.OpLastDialogID); err != nil {
		return 0, false, err
	}

	var last domain.DialogID
	for id, row := range s.dialogs {
		if row.respondentID != respondentID || row.messenger != messenger || row.finishedAt != nil {
			continue
		}
		if (row.activePause() >= 0) != onPause {
			continue
		}
		last = max(last, id)
	}
	return last, last != 0, nil
}

func (s *Store) DialogSteps(ctx context.Context, dialogID domain.DialogID) ([]domain.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, ports.OpDialogSteps); err != nil {
		return nil, err
	}
	row, err := s.row(dialogID)
	if err != nil {
		return nil, err
	}
	return append([]domain.Step(nil), row.steps...), nil
}

func (s *Store) CalledFunctions(ctx context.Context, dialogID domain.DialogID) ([]domain.CallKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, ports.OpCalledFunctions); err != nil {
		return nil, err
	}
	row, err := s.row(dialogID)
	if err != nil {
		return nil, err
	}
	return append([]domain.CallKey(nil), row.calls...), nil
}

func (s *Store) Pause(ctx context.Context, dialogID domain.DialogID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, ports.OpPause); err != nil {
		return false, err
	}
	row, err := s.row(dialogID)
	if err != nil {
		return false, err
	}
	if row.activePause() >= 0 {
		return false, nil
	}
	row.pauses = append(row.pauses, domain.PauseRecord{DialogID: dialogID, CreatedAt: time.Now(), Active: true})
	return true, nil
}

func (s *Store) CancelPause(ctx context.Context, dialogID domain.DialogID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, ports.OpCancelPause); err != nil {
		return false, err
	}
	row, err := s.row(dialogID)
	if err != nil {
		return false, err
	}
	i := row.activePause()
	if i < 0 {
		return false, nil
	}
	now := time.Now()
	row.pauses[i].Active = false
	row.pauses[i].FinishedAt = &now
	return true, nil
}

// Retryable reports whether err is an injected transient failure.
func (s *Store) Retryable(err error) bool {
	return errors.Is(err, domain.ErrStorageUnavailable)
}
