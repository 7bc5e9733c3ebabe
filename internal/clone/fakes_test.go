package clone

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
)

const (
	tokenA = "100000001:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	tokenB = "100000002:BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	tokenC = "100000003:CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"
	tokenD = "100000004:DDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore mimics the partial unique indexes of clone_registrations.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	regs   []*domain.CloneRegistration
	err    error
}

func newMemStore() *memStore {
	return &memStore{}
}

func (s *memStore) failWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *memStore) Create(_ context.Context, reg *domain.CloneRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}

	for _, existing := range s.regs {
		if !existing.Status.Live() {
			continue
		}
		if existing.OwnerID == reg.OwnerID {
			return apperrors.NewDuplicateOwnerError(reg.OwnerID)
		}
		if existing.BotToken == reg.BotToken {
			return apperrors.NewDuplicateTokenError()
		}
	}

	s.nextID++
	reg.ID = s.nextID
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now()
	}
	reg.UpdatedAt = reg.CreatedAt
	stored := *reg
	s.regs = append(s.regs, &stored)
	return nil
}

func (s *memStore) insert(reg domain.CloneRegistration) *domain.CloneRegistration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	reg.ID = s.nextID
	s.regs = append(s.regs, &reg)
	copied := reg
	return &copied
}

func (s *memStore) find(match func(*domain.CloneRegistration) bool) (*domain.CloneRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	for i := len(s.regs) - 1; i >= 0; i-- {
		if match(s.regs[i]) {
			copied := *s.regs[i]
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memStore) FindLiveByOwner(_ context.Context, ownerID int64) (*domain.CloneRegistration, error) {
	return s.find(func(r *domain.CloneRegistration) bool { return r.OwnerID == ownerID && r.Status.Live() })
}

func (s *memStore) FindLiveByToken(_ context.Context, token string) (*domain.CloneRegistration, error) {
	return s.find(func(r *domain.CloneRegistration) bool { return r.BotToken == token && r.Status.Live() })
}

func (s *memStore) FindLatestByOwner(_ context.Context, ownerID int64) (*domain.CloneRegistration, error) {
	return s.find(func(r *domain.CloneRegistration) bool { return r.OwnerID == ownerID })
}

func (s *memStore) UpdateStatus(_ context.Context, id int64, status domain.CloneStatus, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}

	for _, r := range s.regs {
		if r.ID != id {
			continue
		}
		if r.Status == domain.CloneStatusRevoked {
			return false, nil
		}
		r.Status = status
		r.RevokeReason = reason
		r.UpdatedAt = time.Now()
		return true, nil
	}
	return false, nil
}

func (s *memStore) ListByStatus(_ context.Context, status domain.CloneStatus, afterID int64, limit int) ([]*domain.CloneRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	var page []*domain.CloneRegistration
	for _, r := range s.regs {
		if r.Status == status && r.ID > afterID {
			copied := *r
			page = append(page, &copied)
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	if len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func (s *memStore) CountByStatus(context.Context) (map[domain.CloneStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.CloneStatus]int64)
	for _, r := range s.regs {
		counts[r.Status]++
	}
	return counts, nil
}

func (s *memStore) ExpirePending(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.regs {
		if r.Status == domain.CloneStatusPending && r.CreatedAt.Before(olderThan) {
			r.Status = domain.CloneStatusRevoked
			r.RevokeReason = domain.RevokeReasonAbandoned
			n++
		}
	}
	return n, nil
}

func (s *memStore) liveCount(ownerID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, r := range s.regs {
		if r.OwnerID == ownerID && r.Status.Live() {
			n++
		}
	}
	return n
}

func (s *memStore) latest(t *testing.T, ownerID int64) *domain.CloneRegistration {
	t.Helper()
	reg, err := s.FindLatestByOwner(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("no registration for owner %d: %v", ownerID, err)
	}
	return reg
}

// fakeProber accepts every token except those listed as rejected or failing.
type fakeProber struct {
	mu       sync.Mutex
	rejected map[string]bool
	failing  map[string]error
	calls    int
	delay    time.Duration
}

func newFakeProber() *fakeProber {
	return &fakeProber{rejected: map[string]bool{}, failing: map[string]error{}}
}

func (p *fakeProber) Probe(ctx context.Context, token string) (*domain.BotIdentity, error) {
	p.mu.Lock()
	p.calls++
	rejected := p.rejected[token]
	failErr := p.failing[token]
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if rejected {
		return nil, apperrors.NewTransportAuthError(errors.New("telegram: Unauthorized (401)"))
	}
	if failErr != nil {
		return nil, failErr
	}

	id, _ := domain.BotIDFromToken(token)
	return &domain.BotIdentity{ID: id, Username: fmt.Sprintf("clone%d_bot", id), FirstName: "Clone"}, nil
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// runStep is one scripted listener run. A nil step blocks until cancelled.
type runStep func(ctx context.Context) error

func failWith(err error) runStep {
	return func(context.Context) error { return err }
}

// fakeFactory creates listeners whose runs follow a per-token script.
type fakeFactory struct {
	mu         sync.Mutex
	authFail   map[string]bool
	transient  map[string]int
	scripts    map[string][]runStep
	created    map[string]int
	running    map[string]int
	maxRunning map[string]int
	cancelled  map[string]int
	ignoreStop map[string]chan struct{}
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		authFail:   map[string]bool{},
		transient:  map[string]int{},
		scripts:    map[string][]runStep{},
		created:    map[string]int{},
		running:    map[string]int{},
		maxRunning: map[string]int{},
		cancelled:  map[string]int{},
		ignoreStop: map[string]chan struct{}{},
	}
}

func (f *fakeFactory) script(token string, steps ...runStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[token] = append(f.scripts[token], steps...)
}

func (f *fakeFactory) NewListener(_ context.Context, reg *domain.CloneRegistration) (Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.authFail[reg.BotToken] {
		return nil, apperrors.NewTransportAuthError(errors.New("telegram: Unauthorized (401)"))
	}
	if f.transient[reg.BotToken] > 0 {
		f.transient[reg.BotToken]--
		return nil, apperrors.NewTransientTransportError(errors.New("telegram: Bad Gateway (502)"))
	}
	f.created[reg.BotToken]++
	return &fakeListener{factory: f, token: reg.BotToken}, nil
}

func (f *fakeFactory) failTransiently(token string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transient[token] = times
}

func (f *fakeFactory) unstick(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ignoreStop, token)
}

func (f *fakeFactory) nextStep(token string) runStep {
	f.mu.Lock()
	defer f.mu.Unlock()

	steps := f.scripts[token]
	if len(steps) == 0 {
		return nil
	}
	f.scripts[token] = steps[1:]
	return steps[0]
}

func (f *fakeFactory) runningCount(token string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[token]
}

func (f *fakeFactory) createdCount(token string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[token]
}

func (f *fakeFactory) maxConcurrent(token string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning[token]
}

type fakeListener struct {
	factory *fakeFactory
	token   string
}

func (l *fakeListener) Run(ctx context.Context) error {
	f := l.factory

	f.mu.Lock()
	f.running[l.token]++
	if f.running[l.token] > f.maxRunning[l.token] {
		f.maxRunning[l.token] = f.running[l.token]
	}
	stuck := f.ignoreStop[l.token]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running[l.token]--
		f.mu.Unlock()
	}()

	if step := f.nextStep(l.token); step != nil {
		return step(ctx)
	}

	if stuck != nil {
		<-stuck
		return nil
	}

	<-ctx.Done()
	f.mu.Lock()
	f.cancelled[l.token]++
	f.mu.Unlock()
	return nil
}

type revokedNotice struct {
	ownerID int64
	reason  string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []revokedNotice
}

func (n *recordingNotifier) NotifyRevoked(_ context.Context, reg *domain.CloneRegistration, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, revokedNotice{ownerID: reg.OwnerID, reason: reason})
}

func (n *recordingNotifier) all() []revokedNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]revokedNotice(nil), n.notices...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness wires a registry, supervisor and service over fakes.
type harness struct {
	store      *memStore
	prober     *fakeProber
	factory    *fakeFactory
	notifier   *recordingNotifier
	registry   *Registry
	supervisor *Supervisor
	service    *Service

	sleepMu sync.Mutex
	delays  []time.Duration
}

func testOptions() Options {
	return Options{
		InitialBackoff:     10 * time.Millisecond,
		MaxBackoff:         40 * time.Millisecond,
		MaxFailures:        3,
		HealthyAfter:       time.Hour,
		StopTimeout:        time.Second,
		RestoreConcurrency: 4,
	}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{
		store:    newMemStore(),
		prober:   newFakeProber(),
		factory:  newFakeFactory(),
		notifier: &recordingNotifier{},
	}
	h.registry = NewRegistry(h.store, h.prober, testLogger(), WithPageSize(2))
	h.supervisor = NewSupervisor(h.factory, h.registry, h.notifier, testLogger(), opts)
	h.supervisor.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleepMu.Lock()
		h.delays = append(h.delays, d)
		h.sleepMu.Unlock()
		return ctx.Err()
	}
	h.service = NewService(h.registry, h.supervisor, testLogger(), time.Minute)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.service.Shutdown(ctx)
	})
	return h
}

func (h *harness) backoffs() []time.Duration {
	h.sleepMu.Lock()
	defer h.sleepMu.Unlock()
	return append([]time.Duration(nil), h.delays...)
}
