package clone

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	"github.com/Proton-105/gemini-clone-bot/pkg/metrics"
)

const revokeWriteTimeout = 10 * time.Second

var (
	// ErrStopTimeout is returned when a listener did not finish within the stop timeout.
	ErrStopTimeout = errors.New("clone listener did not stop in time")
	// ErrSupervisorClosed is returned by Start after Shutdown.
	ErrSupervisorClosed = errors.New("clone supervisor is shut down")

	errListenerExited = errors.New("clone listener exited unexpectedly")
)

// Listener receives and handles updates for one bot token until ctx is cancelled.
// Run returns nil only after ctx is done; in-flight handlers must have finished
// and the transport connections must be released by then.
type Listener interface {
	Run(ctx context.Context) error
}

// ListenerFactory builds a listener for a registration. It authenticates the
// token; a rejected token yields an error matching apperrors.ErrTransportAuth.
type ListenerFactory interface {
	NewListener(ctx context.Context, reg *domain.CloneRegistration) (Listener, error)
}

// Notifier tells an owner that their clone was revoked by the system.
type Notifier interface {
	NotifyRevoked(ctx context.Context, reg *domain.CloneRegistration, reason string)
}

// StatusRecorder persists registration status changes made by the supervisor.
type StatusRecorder interface {
	MarkActive(ctx context.Context, reg *domain.CloneRegistration) error
	MarkRevoked(ctx context.Context, reg *domain.CloneRegistration, reason string) (bool, error)
}

// Options configures the crash policy and timeouts.
type Options struct {
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	MaxFailures        int
	HealthyAfter       time.Duration
	StopTimeout        time.Duration
	RestoreConcurrency int
}

func (o Options) withDefaults() Options {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 2 * time.Second
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = 5
	}
	if o.HealthyAfter <= 0 {
		o.HealthyAfter = 5 * time.Minute
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 15 * time.Second
	}
	if o.RestoreConcurrency <= 0 {
		o.RestoreConcurrency = 8
	}
	return o
}

// TaskInfo describes a running clone listener.
type TaskInfo struct {
	OwnerID     int64
	BotID       int64
	BotUsername string
	StartedAt   time.Time
	Restarts    int
}

type task struct {
	reg       *domain.CloneRegistration
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mu       sync.Mutex
	restarts int
	stopping bool
}

func (t *task) isStopping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopping
}

// Supervisor runs one listener per active registration, keyed by owner id.
// Start and Stop for the same owner are mutually exclusive; different owners never block each other.
type Supervisor struct {
	factory  ListenerFactory
	recorder StatusRecorder
	notifier Notifier
	log      *slog.Logger
	opts     Options

	locks *keyedMutex

	mu     sync.Mutex
	tasks  map[int64]*task
	closed bool

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a Supervisor. notifier may be nil.
func NewSupervisor(factory ListenerFactory, recorder StatusRecorder, notifier Notifier, log *slog.Logger, opts Options) *Supervisor {
	if log == nil {
		log = slog.Default()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		factory:   factory,
		recorder:  recorder,
		notifier:  notifier,
		log:       log.With(slog.String("component", "clone_supervisor")),
		opts:      opts.withDefaults(),
		locks:     newKeyedMutex(),
		tasks:     make(map[int64]*task),
		baseCtx:   baseCtx,
		cancelAll: cancel,
		now:       time.Now,
		sleep:     apperrors.Sleep,
	}
}

// Start authenticates reg's token and launches its supervised listener.
// Starting an owner that is already running is a no-op. An authentication
// failure revokes the registration and is returned without retry.
func (s *Supervisor) Start(ctx context.Context, reg *domain.CloneRegistration) error {
	return s.start(ctx, reg, false)
}

// start is Start. With adopt set, any other failure to bring the listener up
// still registers the task, and its loop retries under the crash policy.
func (s *Supervisor) start(ctx context.Context, reg *domain.CloneRegistration, adopt bool) error {
	unlock := s.locks.Lock(reg.OwnerID)
	defer unlock()

	running, err := s.settle(ctx, reg.OwnerID)
	if err != nil || running {
		return err
	}

	log := s.log.With(slog.Int64("owner_id", reg.OwnerID), slog.String("bot_username", reg.BotUsername))

	listener, err := s.factory.NewListener(ctx, reg)
	if err == nil {
		if err = s.recorder.MarkActive(ctx, reg); err != nil {
			listener = nil
		}
	}

	switch {
	case err == nil:
		metrics.RecordCloneStart("ok")
		s.launch(reg, listener, nil)
		log.Info("clone listener started")
		return nil
	case errors.Is(err, apperrors.ErrTransportAuth):
		metrics.RecordCloneStart("auth_failed")
		log.Warn("clone token rejected at start", slog.Any("error", err))
		// A fresh registration reports back to the requester; a restored one has nobody waiting.
		s.revoke(ctx, reg, domain.RevokeReasonAuthFailed, reg.Status == domain.CloneStatusActive)
		return err
	case adopt && ctx.Err() == nil && !errors.Is(err, ErrRegistrationRevoked):
		metrics.RecordCloneStart("retrying")
		log.Warn("clone start failed, retrying with backoff", slog.Any("error", err))
		s.launch(reg, nil, err)
		return nil
	default:
		metrics.RecordCloneStart("error")
		log.Warn("clone listener could not be created", slog.Any("error", err))
		return err
	}
}

// settle reports whether ownerID already has a live task. A task that is
// still winding down after a timed out stop is waited for, so one token is
// never polled twice.
func (s *Supervisor) settle(ctx context.Context, ownerID int64) (bool, error) {
	s.mu.Lock()
	closed := s.closed
	prev := s.tasks[ownerID]
	s.mu.Unlock()

	switch {
	case closed:
		return false, ErrSupervisorClosed
	case prev == nil:
		return false, nil
	case !prev.isStopping():
		return true, nil
	}

	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-prev.done:
		return false, nil
	case <-timer.C:
		return false, ErrStopTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// launch registers a task for reg and runs its loop. A nil listener with
// startErr set counts as the first failure.
func (s *Supervisor) launch(reg *domain.CloneRegistration, listener Listener, startErr error) {
	taskCtx, cancel := context.WithCancel(s.baseCtx)
	t := &task{
		reg:       reg,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: s.now(),
	}

	s.mu.Lock()
	s.tasks[reg.OwnerID] = t
	s.wg.Add(1)
	count := s.liveLocked()
	s.mu.Unlock()

	metrics.SetClonesRunning(count)
	go s.supervise(taskCtx, t, listener, startErr)
}

// Stop terminates the owner's listener. It is a no-op when nothing runs.
func (s *Supervisor) Stop(ctx context.Context, ownerID int64) error {
	return s.StopThen(ctx, ownerID, nil)
}

// StopThen stops the owner's listener, waiting up to the stop timeout, and then
// runs then while still holding the owner's start/stop exclusion. then runs even
// when the stop timed out; the returned error is ErrStopTimeout in that case.
func (s *Supervisor) StopThen(ctx context.Context, ownerID int64, then func(context.Context) error) error {
	unlock := s.locks.Lock(ownerID)
	defer unlock()

	s.mu.Lock()
	t := s.tasks[ownerID]
	s.mu.Unlock()

	var stopErr error
	if t != nil {
		stopErr = s.stopTask(ctx, t)
		if stopErr != nil && !errors.Is(stopErr, ErrStopTimeout) {
			return stopErr
		}
	}

	if then != nil {
		if err := then(ctx); err != nil {
			return err
		}
	}

	return stopErr
}

func (s *Supervisor) stopTask(ctx context.Context, t *task) error {
	t.mu.Lock()
	t.stopping = true
	t.mu.Unlock()
	t.cancel()

	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-t.done:
		s.log.Info("clone listener stopped", slog.Int64("owner_id", t.reg.OwnerID))
		return nil
	case <-timer.C:
		// The task stays registered as stopping until its goroutine exits.
		metrics.SetClonesRunning(s.Running())
		s.log.Error("clone listener stop timed out",
			slog.Int64("owner_id", t.reg.OwnerID),
			slog.Duration("timeout", s.opts.StopTimeout),
		)
		return ErrStopTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll stops every running listener concurrently.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	owners := make([]int64, 0, len(s.tasks))
	for ownerID := range s.tasks {
		owners = append(owners, ownerID)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, ownerID := range owners {
		g.Go(func() error {
			if err := s.Stop(ctx, ownerID); err != nil {
				return fmt.Errorf("stop clone of owner %d: %w", ownerID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Restore starts every registration from seq with bounded concurrency and
// returns how many were taken over. A registration whose listener cannot be
// built yet is kept and retried with the crash policy backoff, so every active
// registration ends up running or revoked.
func (s *Supervisor) Restore(ctx context.Context, seq iter.Seq2[*domain.CloneRegistration, error]) (int, error) {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		started int
	)
	g.SetLimit(s.opts.RestoreConcurrency)

	for reg, err := range seq {
		if err != nil {
			_ = g.Wait()
			return started, fmt.Errorf("list active clones: %w", err)
		}

		g.Go(func() error {
			if err := s.start(ctx, reg, true); err != nil {
				s.log.Warn("clone restore failed",
					slog.Int64("owner_id", reg.OwnerID),
					slog.Any("error", err),
				)
				return nil
			}

			mu.Lock()
			started++
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return started, nil
}

// Shutdown stops all listeners and refuses further starts.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.StopAll(ctx)
	s.cancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// Running returns the number of running listeners.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked()
}

func (s *Supervisor) liveLocked() int {
	n := 0
	for _, t := range s.tasks {
		if !t.isStopping() {
			n++
		}
	}
	return n
}

// IsRunning reports whether the owner's listener runs.
func (s *Supervisor) IsRunning(ownerID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[ownerID]
	return ok && !t.isStopping()
}

// Snapshot lists running listeners ordered by owner id.
func (s *Supervisor) Snapshot() []TaskInfo {
	s.mu.Lock()
	infos := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		if t.stopping {
			t.mu.Unlock()
			continue
		}
		infos = append(infos, TaskInfo{
			OwnerID:     t.reg.OwnerID,
			BotID:       t.reg.BotID,
			BotUsername: t.reg.BotUsername,
			StartedAt:   t.startedAt,
			Restarts:    t.restarts,
		})
		t.mu.Unlock()
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].OwnerID < infos[j].OwnerID })
	return infos
}

// HealthCheck fails once the supervisor is shut down.
func (s *Supervisor) HealthCheck(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSupervisorClosed
	}
	return nil
}

func (s *Supervisor) supervise(ctx context.Context, t *task, listener Listener, err error) {
	defer s.wg.Done()
	defer close(t.done)
	defer s.remove(t)

	log := s.log.With(slog.Int64("owner_id", t.reg.OwnerID), slog.String("bot_username", t.reg.BotUsername))
	failures := 0

	for {
		startedAt := s.now()
		if err == nil && listener == nil {
			listener, err = s.factory.NewListener(ctx, t.reg)
			if err == nil {
				err = s.recorder.MarkActive(ctx, t.reg)
				if errors.Is(err, ErrRegistrationRevoked) {
					log.Info("clone revoked while restarting, giving up")
					return
				}
			}
		}

		if err == nil {
			err = runListener(ctx, listener)
		}
		listener = nil

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errListenerExited
		}

		if s.now().Sub(startedAt) >= s.opts.HealthyAfter {
			failures = 0
		}
		failures++

		log.Warn("clone listener failed", slog.Int("failures", failures), slog.Any("error", err))

		if errors.Is(err, apperrors.ErrTransportAuth) {
			s.revoke(ctx, t.reg, domain.RevokeReasonAuthFailed, true)
			return
		}
		if failures >= s.opts.MaxFailures {
			s.revoke(ctx, t.reg, domain.RevokeReasonTooManyFailures, true)
			return
		}

		delay := apperrors.ExponentialBackoff(failures, s.opts.InitialBackoff, s.opts.MaxBackoff)
		if err := s.sleep(ctx, delay); err != nil {
			return
		}
		err = nil

		t.mu.Lock()
		t.restarts++
		t.mu.Unlock()
		metrics.RecordCloneRestart()
	}
}

// runListener turns a panic inside the listener into an error so one clone cannot take the process down.
func runListener(ctx context.Context, listener Listener) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("clone listener panic: %v\n%s", r, debug.Stack())
		}
	}()
	return listener.Run(ctx)
}

func (s *Supervisor) revoke(ctx context.Context, reg *domain.CloneRegistration, reason string, notify bool) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeWriteTimeout)
	defer cancel()

	changed, err := s.recorder.MarkRevoked(writeCtx, reg, reason)
	if err != nil {
		s.log.Error("failed to revoke clone",
			slog.Int64("owner_id", reg.OwnerID),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
		return
	}

	if changed && notify && s.notifier != nil {
		s.notifier.NotifyRevoked(writeCtx, reg, reason)
	}
}

func (s *Supervisor) remove(t *task) {
	s.mu.Lock()
	if current, ok := s.tasks[t.reg.OwnerID]; ok && current == t {
		delete(s.tasks, t.reg.OwnerID)
	}
	running := s.liveLocked()
	s.mu.Unlock()

	metrics.SetClonesRunning(running)
}
