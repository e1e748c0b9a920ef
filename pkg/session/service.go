package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/limpopo/internal/logging"
	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/observability"
	"github.com/aretw0/limpopo/pkg/ports"
	"github.com/aretw0/limpopo/pkg/retry"
)

// ErrStopped is returned when a dialog is created on a stopped service.
var ErrStopped = errors.New("session service stopped")

// QuizFunc is a quiz script. It runs once per dialog, from the top, and re-runs
// from the top after a restore; answered questions are replayed by Dialog.Ask.
type QuizFunc func(ctx context.Context, d *Dialog) error

// EscalationFunc is notified when a storage operation exhausted its retries.
type EscalationFunc func(ctx context.Context, op string, err error)

// CreateOptions selects how a dialog is created.
// A zero ID creates a new dialog in storage; a non-zero ID restores an existing one.
type CreateOptions struct {
	ID       domain.DialogID
	Prepared []domain.Step
	Called   []domain.CallKey
	// ReplayPending re-sends the first unanswered question of a restored dialog.
	ReplayPending bool
}

// Service owns the registry of live dialogs and runs their quiz scripts.
type Service struct {
	quiz       QuizFunc
	storage    ports.Storage
	transport  ports.Transport
	renderer   ports.QuestionRenderer
	settings   Settings
	policy     retry.Policy
	logger     *slog.Logger
	metrics    *observability.Metrics
	locker     ports.DistributedLocker
	lockTTL    time.Duration
	escalation EscalationFunc

	locks *keyLocks

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	dialogs  map[string]*Dialog
	stopped  bool
	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// Option configures the Service.
type Option func(*Service)

// WithSettings replaces DefaultSettings.
func WithSettings(settings Settings) Option {
	return func(s *Service) {
		s.settings = settings
	}
}

// WithRenderer selects how questions are rendered for the transport.
func WithRenderer(renderer ports.QuestionRenderer) Option {
	return func(s *Service) {
		s.renderer = renderer
	}
}

// WithRetryPolicy replaces retry.Default for storage calls.
// A nil Retryable defers to the storage adapter.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(s *Service) {
		s.policy = policy
	}
}

// WithLogger configures a logger for the Service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithLocker enables distributed locking of registry operations.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = locker
		s.lockTTL = ttl
	}
}

// WithEscalation registers the hook called when storage retries are exhausted.
func WithEscalation(fn EscalationFunc) Option {
	return func(s *Service) {
		s.escalation = fn
	}
}

// NewService creates a session service running quiz for every dialog.
func NewService(quiz QuizFunc, storage ports.Storage, transport ports.Transport, opts ...Option) (*Service, error) {
	if quiz == nil {
		return nil, fmt.Errorf("%w: quiz is required", domain.ErrInvalidSettings)
	}
	if storage == nil {
		return nil, fmt.Errorf("%w: storage is required", domain.ErrInvalidSettings)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is required", domain.ErrInvalidSettings)
	}

	s := &Service{
		quiz:      quiz,
		storage:   storage,
		transport: transport,
		renderer:  ports.PlainRenderer{},
		settings:  DefaultSettings(),
		policy:    retry.Default(),
		logger:    logging.NewNop(),
		lockTTL:   30 * time.Second,
		dialogs:   make(map[string]*Dialog),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.settings.Validate(); err != nil {
		return nil, err
	}

	if s.policy.Retryable == nil {
		s.policy.Retryable = storage.Retryable
	}
	onRetry := s.policy.OnRetry
	s.policy.OnRetry = func(op string, attempt int, err error) {
		s.metrics.StorageRetry(op)
		s.logger.Warn("storage call failed, retrying", "op", op, "attempt", attempt, "err", err)
		if onRetry != nil {
			onRetry(op, attempt, err)
		}
	}
	onExhausted := s.policy.OnExhausted
	s.policy.OnExhausted = func(ctx context.Context, op string, err error) {
		s.metrics.StorageExhausted(op)
		s.logger.Error("storage retries exhausted", "op", op, "err", err)
		if onExhausted != nil {
			onExhausted(ctx, op, err)
		}
		if s.escalation != nil {
			s.escalation(ctx, op, err)
		}
	}

	s.locks = newKeyLocks(s.locker, s.lockTTL, s.logger)
	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())
	return s, nil
}

// Settings returns the effective settings.
func (s *Service) Settings() Settings { return s.settings }

// Lookup returns the live dialog registered under a respondent key.
func (s *Service) Lookup(key string) (*Dialog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogs[key]
	return d, ok
}

// Len returns the number of live dialogs.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dialogs)
}

func (s *Service) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Done is closed when Stop has been called.
func (s *Service) Done() <-chan struct{} { return s.done }

// register adds d to the registry. With launch set, the dialog is accounted for
// in the supervisor wait group and must be handed to supervise.
func (s *Service) register(d *Dialog, launch bool) error {
	key := d.respondent.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, exists := s.dialogs[key]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDialogExists, key)
	}
	s.dialogs[key] = d
	if launch {
		s.wg.Add(1)
	}
	s.metrics.DialogOpened()
	return nil
}

// unregister removes d if it is still the registered dialog of its respondent.
func (s *Service) unregister(d *Dialog) bool {
	key := d.respondent.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialogs[key] != d {
		return false
	}
	delete(s.dialogs, key)
	return true
}

// drop removes a dialog whose storage is exhausted. Nothing is persisted.
func (s *Service) drop(d *Dialog) {
	if !s.unregister(d) {
		return
	}
	d.markClosed()
	s.metrics.DialogClosed(domain.OutcomeInterrupted.String())
	s.logger.Warn("dialog stopped", d.logAttrs()...)
}

// retrying runs a storage call under the retry policy outside of a dialog.
func (s *Service) retrying(ctx context.Context, op string, fn func(context.Context) error) error {
	err := s.policy.Do(ctx, op, fn)
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w: %w", domain.ErrDialogStopped, err)
	}
	return err
}

// CreateDialog registers a new live dialog without running it.
// The caller runs it with RunQuiz. Creation fails with domain.ErrDialogExists when
// the respondent already has a live dialog.
func (s *Service) CreateDialog(ctx context.Context, respondent domain.Respondent, opts CreateOptions) (*Dialog, error) {
	if err := respondent.Validate(); err != nil {
		return nil, err
	}
	var d *Dialog
	err := s.locks.withLock(ctx, respondent.Key(), func(ctx context.Context) error {
		var err error
		d, err = s.createLocked(ctx, respondent, opts, false)
		return err
	})
	return d, err
}

func (s *Service) createLocked(ctx context.Context, respondent domain.Respondent, opts CreateOptions, launch bool) (*Dialog, error) {
	if s.isStopped() {
		return nil, ErrStopped
	}
	if _, exists := s.Lookup(respondent.Key()); exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrDialogExists, respondent.Key())
	}

	id := opts.ID
	if id == 0 {
		err := s.retrying(ctx, ports.OpCreateDialog, func(ctx context.Context) error {
			var err error
			id, err = s.storage.CreateDialog(ctx, respondent)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	d := newDialog(s, id, respondent, opts)
	if err := s.register(d, launch); err != nil {
		d.cancel()
		return nil, err
	}
	s.logger.Info("dialog created", append(d.logAttrs(), "restored", d.restored)...)
	if launch {
		go s.supervise(d)
	}
	return d, nil
}

// RestoreDialog rebuilds the last open, unpaused dialog of the respondent from
// storage and runs it in the background. It fails with domain.ErrDialogNotFound
// when there is nothing to restore.
func (s *Service) RestoreDialog(ctx context.Context, respondent domain.Respondent) (*Dialog, error) {
	if err := respondent.Validate(); err != nil {
		return nil, err
	}
	var d *Dialog
	err := s.locks.withLock(ctx, respondent.Key(), func(ctx context.Context) error {
		var err error
		d, err = s.restoreLocked(ctx, respondent, false)
		return err
	})
	return d, err
}

// GetOrRestore returns the live dialog of the respondent, restoring it if needed.
func (s *Service) GetOrRestore(ctx context.Context, respondent domain.Respondent) (*Dialog, error) {
	if d, ok := s.Lookup(respondent.Key()); ok {
		return d, nil
	}
	if err := respondent.Validate(); err != nil {
		return nil, err
	}
	var d *Dialog
	err := s.locks.withLock(ctx, respondent.Key(), func(ctx context.Context) error {
		if live, ok := s.Lookup(respondent.Key()); ok {
			d = live
			return nil
		}
		var err error
		d, err = s.restoreLocked(ctx, respondent, false)
		return err
	})
	return d, err
}

func (s *Service) restoreLocked(ctx context.Context, respondent domain.Respondent, replayPending bool) (*Dialog, error) {
	var (
		id    domain.DialogID
		found bool
	)
	err := s.retrying(ctx, ports.OpLastDialogID, func(ctx context.Context) error {
		var err error
		id, found, err = s.storage.LastDialogID(ctx, respondent.ID, respondent.Messenger, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", domain.ErrDialogNotFound, respondent.Key())
	}

	var steps []domain.Step
	err = s.retrying(ctx, ports.OpDialogSteps, func(ctx context.Context) error {
		var err error
		steps, err = s.storage.DialogSteps(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	var called []domain.CallKey
	err = s.retrying(ctx, ports.OpCalledFunctions, func(ctx context.Context) error {
		var err error
		called, err = s.storage.CalledFunctions(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.createLocked(ctx, respondent, CreateOptions{
		ID:            id,
		Prepared:      steps,
		Called:        called,
		ReplayPending: replayPending,
	}, true)
}

// CloseDialog removes the live dialog registered under key, cancels its script and
// persists terminal outcomes.
func (s *Service) CloseDialog(ctx context.Context, key string, outcome domain.Outcome) error {
	return s.locks.withLock(ctx, key, func(ctx context.Context) error {
		d, ok := s.Lookup(key)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrDialogNotFound, key)
		}
		return s.closeLocked(ctx, d, outcome)
	})
}

// closeDialog closes d if it is still registered.
func (s *Service) closeDialog(ctx context.Context, d *Dialog, outcome domain.Outcome) error {
	return s.locks.withLock(ctx, d.respondent.Key(), func(ctx context.Context) error {
		return s.closeLocked(ctx, d, outcome)
	})
}

func (s *Service) closeLocked(ctx context.Context, d *Dialog, outcome domain.Outcome) error {
	if !s.unregister(d) {
		return nil
	}
	d.markClosed()
	s.metrics.DialogClosed(outcome.String())
	s.logger.Info("dialog closed", append(d.logAttrs(), "outcome", outcome)...)

	if !outcome.Terminal() {
		return nil
	}
	return s.retrying(ctx, ports.OpCloseDialog, func(ctx context.Context) error {
		return s.storage.CloseDialog(ctx, d.id, outcome)
	})
}

// Start cancels any live dialog of the respondent and runs a fresh one.
func (s *Service) Start(ctx context.Context, respondent domain.Respondent) (*Dialog, error) {
	if err := respondent.Validate(); err != nil {
		return nil, err
	}
	var d *Dialog
	err := s.locks.withLock(ctx, respondent.Key(), func(ctx context.Context) error {
		if live, ok := s.Lookup(respondent.Key()); ok {
			if err := s.closeLocked(ctx, live, domain.OutcomeCancelled); err != nil {
				return err
			}
		}
		var err error
		d, err = s.createLocked(ctx, respondent, CreateOptions{}, true)
		return err
	})
	return d, err
}

// Cancel closes the live dialog of the respondent as cancelled.
func (s *Service) Cancel(ctx context.Context, respondent domain.Respondent) error {
	return s.CloseDialog(ctx, respondent.Key(), domain.OutcomeCancelled)
}

// Pause persists a pause record for the live dialog and drops the session without
// finishing the dialog. It reports false when the dialog was already paused.
func (s *Service) Pause(ctx context.Context, respondent domain.Respondent) (bool, error) {
	var paused bool
	err := s.locks.withLock(ctx, respondent.Key(), func(ctx context.Context) error {
		d, ok := s.Lookup(respondent.Key())
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrDialogNotFound, respondent.Key())
		}
		err := s.retrying(ctx, ports.OpPause, func(ctx context.Context) error {
			var err error
			paused, err = s.storage.Pause(ctx, d.id)
			return err
		})
		if err != nil {
			return err
		}
		return s.closeLocked(ctx, d, domain.OutcomeInterrupted)
	})
	return paused, err
}

// CancelPause finishes the active pause of the respondent's last paused dialog
// without restoring it. It reports false when nothing was paused.
func (s *Service) CancelPause(ctx context.Context, respondent domain.Respondent) (bool, error) {
	var cancelled bool
	err := s.locks.withLock(ctx, respondent.Key(), func(ctx context.Context) error {
		var err error
		cancelled, err = s.cancelPauseLocked(ctx, respondent)
		return err
	})
	return cancelled, err
}

func (s *Service) cancelPauseLocked(ctx context.Context, respondent domain.Respondent) (bool, error) {
	var (
		id    domain.DialogID
		found bool
	)
	err := s.retrying(ctx, ports.OpLastDialogID, func(ctx context.Context) error {
		var err error
		id, found, err = s.storage.LastDialogID(ctx, respondent.ID, respondent.Messenger, true)
		return err
	})
	if err != nil || !found {
		return false, err
	}

	var cancelled bool
	err = s.retrying(ctx, ports.OpCancelPause, func(ctx context.Context) error {
		var err error
		cancelled, err = s.storage.CancelPause(ctx, id)
		return err
	})
	return cancelled, err
}

// Resume cancels the pause of the respondent's dialog and restores it, re-sending
// the pending question. It fails with domain.ErrDialogNotFound when nothing was paused.
func (s *Service) Resume(ctx context.Context, respondent domain.Respondent) (*Dialog, error) {
	return s.resume(ctx, respondent, "")
}

func (s *Service) resume(ctx context.Context, respondent domain.Respondent, notice string) (*Dialog, error) {
	if err := respondent.Validate(); err != nil {
		return nil, err
	}
	var d *Dialog
	err := s.locks.withLock(ctx, respondent.Key(), func(ctx context.Context) error {
		if _, ok := s.Lookup(respondent.Key()); ok {
			return fmt.Errorf("%w: %s", domain.ErrDialogExists, respondent.Key())
		}
		cancelled, err := s.cancelPauseLocked(ctx, respondent)
		if err != nil {
			return err
		}
		if !cancelled {
			return fmt.Errorf("%w: no paused dialog for %s", domain.ErrDialogNotFound, respondent.Key())
		}
		if err := s.notify(ctx, respondent, notice); err != nil {
			return err
		}
		d, err = s.restoreLocked(ctx, respondent, true)
		return err
	})
	return d, err
}

func (s *Service) notify(ctx context.Context, respondent domain.Respondent, text string) error {
	if text == "" {
		return nil
	}
	if _, err := s.transport.Send(ctx, respondent.ID, domain.TextPayload(text)); err != nil {
		return fmt.Errorf("send to %s: %w", respondent.Key(), err)
	}
	return nil
}

// Stop closes every live dialog without a terminal outcome, aborts pending storage
// retries and waits for the quiz goroutines to return or ctx to end.
// It is safe to call more than once.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		live := make([]*Dialog, 0, len(s.dialogs))
		for _, d := range s.dialogs {
			live = append(live, d)
		}
		clear(s.dialogs)
		s.mu.Unlock()

		s.baseCancel()
		for _, d := range live {
			d.markClosed()
			s.metrics.DialogClosed(domain.OutcomeInterrupted.String())
		}
		s.logger.Info("session service stopped", "dialogs", len(live))
		close(s.done)
	})

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
