package clone

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
)

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testOptions())
	ctx := context.Background()

	reg, err := h.registry.Register(ctx, 1, 0, "  "+tokenA+"\n")
	require.NoError(t, err)
	assert.Equal(t, domain.CloneStatusPending, reg.Status)
	assert.Equal(t, int64(1), reg.AdminID, "admin defaults to the owner")
	assert.Equal(t, int64(100000001), reg.BotID)
	assert.Equal(t, "clone100000001_bot", reg.BotUsername)
	assert.Equal(t, tokenA, reg.BotToken)
}

func TestRegistry_RegisterRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		setup     func(h *harness)
		ownerID   int64
		token     string
		wantErr   error
		wantProbe bool
	}{
		{
			name:    "malformed token",
			ownerID: 1,
			token:   "not-a-token",
			wantErr: apperrors.ErrInvalidToken,
		},
		{
			name:      "token rejected by platform",
			setup:     func(h *harness) { h.prober.rejected[tokenA] = true },
			ownerID:   1,
			token:     tokenA,
			wantErr:   apperrors.ErrInvalidToken,
			wantProbe: true,
		},
		{
			name:      "platform unreachable",
			setup:     func(h *harness) { h.prober.failing[tokenA] = errors.New("dial tcp: i/o timeout") },
			ownerID:   1,
			token:     tokenA,
			wantErr:   apperrors.ErrTransientTransport,
			wantProbe: true,
		},
		{
			name: "owner already has a clone",
			setup: func(h *harness) {
				h.store.insert(domain.CloneRegistration{OwnerID: 1, BotToken: tokenB, Status: domain.CloneStatusActive})
			},
			ownerID: 1,
			token:   tokenA,
			wantErr: apperrors.ErrDuplicateOwner,
		},
		{
			name: "pending registration counts as live",
			setup: func(h *harness) {
				h.store.insert(domain.CloneRegistration{OwnerID: 1, BotToken: tokenB, Status: domain.CloneStatusPending})
			},
			ownerID: 1,
			token:   tokenA,
			wantErr: apperrors.ErrDuplicateOwner,
		},
		{
			name: "token held by another owner",
			setup: func(h *harness) {
				h.store.insert(domain.CloneRegistration{OwnerID: 2, BotToken: tokenA, Status: domain.CloneStatusActive})
			},
			ownerID: 1,
			token:   tokenA,
			wantErr: apperrors.ErrDuplicateToken,
		},
		{
			name:    "store unavailable",
			setup:   func(h *harness) { h.store.failWith(apperrors.NewDatabaseError(errors.New("connection refused"))) },
			ownerID: 1,
			token:   tokenA,
			wantErr: apperrors.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, testOptions())
			if tt.setup != nil {
				tt.setup(h)
			}

			reg, err := h.registry.Register(context.Background(), tt.ownerID, 0, tt.token)
			require.Error(t, err)
			assert.Nil(t, reg)
			assert.ErrorIs(t, err, tt.wantErr)

			if tt.wantProbe {
				assert.Equal(t, 1, h.prober.callCount())
			} else {
				assert.Zero(t, h.prober.callCount())
			}
		})
	}
}

func TestRegistry_RevokedTokenCanBeRegisteredAgain(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testOptions())
	h.store.insert(domain.CloneRegistration{OwnerID: 2, BotToken: tokenA, Status: domain.CloneStatusRevoked})
	h.store.insert(domain.CloneRegistration{OwnerID: 1, BotToken: tokenB, Status: domain.CloneStatusRevoked})

	reg, err := h.registry.Register(context.Background(), 1, 0, tokenA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reg.OwnerID)
}

func TestRegistry_ConcurrentRegisterSameOwner(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testOptions())
	h.prober.delay = 5 * time.Millisecond

	tokens := []string{tokenA, tokenB, tokenC, tokenD}

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		successes int
		dupOwner  int
	)
	for _, token := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.registry.Register(context.Background(), 7, 0, token)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperrors.ErrDuplicateOwner):
				dupOwner++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, len(tokens)-1, dupOwner)
	assert.Equal(t, 1, h.store.liveCount(7))
}

func TestRegistry_SameTokenTwoOwners(t *testing.T) {
	t.Parallel()

	for round := 0; round < 20; round++ {
		h := newHarness(t, testOptions())
		h.prober.delay = time.Millisecond

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		for i, owner := range []int64{10, 20} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, errs[i] = h.registry.Register(context.Background(), owner, 0, tokenA)
			}()
		}
		close(start)
		wg.Wait()

		var ok, dup int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperrors.ErrDuplicateToken):
				dup++
			}
		}
		require.Equal(t, 1, ok, "round %d: %v", round, errs)
		require.Equal(t, 1, dup, "round %d: %v", round, errs)
	}
}

type stubLocker struct {
	err      error
	released int
}

func (l *stubLocker) Acquire(context.Context, int64) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	return func() { l.released++ }, nil
}

func TestRegistry_Locker(t *testing.T) {
	t.Parallel()

	t.Run("lock released after register", func(t *testing.T) {
		t.Parallel()
		locker := &stubLocker{}
		r := NewRegistry(newMemStore(), newFakeProber(), testLogger(), WithLocker(locker))

		_, err := r.Register(context.Background(), 1, 0, tokenA)
		require.NoError(t, err)
		assert.Equal(t, 1, locker.released)
	})

	t.Run("busy lock rejects", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry(newMemStore(), newFakeProber(), testLogger(), WithLocker(&stubLocker{err: apperrors.NewBusyError()}))

		_, err := r.Register(context.Background(), 1, 0, tokenA)
		assert.ErrorIs(t, err, apperrors.ErrBusy)
	})

	t.Run("broken lock falls back to store constraints", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry(newMemStore(), newFakeProber(), testLogger(), WithLocker(&stubLocker{err: errors.New("redis down")}))

		_, err := r.Register(context.Background(), 1, 0, tokenA)
		assert.NoError(t, err)
	})
}

func TestRegistry_ListActive(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	var want []int64
	for i := int64(1); i <= 7; i++ {
		status := domain.CloneStatusActive
		if i%3 == 0 {
			status = domain.CloneStatusRevoked
		}
		reg := store.insert(domain.CloneRegistration{OwnerID: i, Status: status})
		if status == domain.CloneStatusActive {
			want = append(want, reg.ID)
		}
	}

	r := NewRegistry(store, newFakeProber(), testLogger(), WithPageSize(2))
	seq := r.ListActive(context.Background())

	collect := func() []int64 {
		var ids []int64
		for reg, err := range seq {
			require.NoError(t, err)
			ids = append(ids, reg.ID)
		}
		return ids
	}

	assert.Equal(t, want, collect())
	assert.Equal(t, want, collect(), "sequence can be ranged again")

	var first []int64
	for reg, err := range seq {
		require.NoError(t, err)
		first = append(first, reg.ID)
		if len(first) == 3 {
			break
		}
	}
	assert.Equal(t, want[:3], first)
}

func TestRegistry_ListActiveStoreError(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.failWith(apperrors.NewDatabaseError(errors.New("boom")))
	r := NewRegistry(store, newFakeProber(), testLogger())

	var errs []error
	for reg, err := range r.ListActive(context.Background()) {
		assert.Nil(t, reg)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], apperrors.ErrStoreUnavailable)
}

func TestRegistry_RevokeWithoutRegistrationIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testOptions())
	require.NoError(t, h.registry.Revoke(context.Background(), 99, domain.RevokeReasonOwnerDeleted))

	_, err := h.registry.Get(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.registry.Latest(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_MarkActiveAfterRevoke(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testOptions())
	reg := h.store.insert(domain.CloneRegistration{OwnerID: 1, BotToken: tokenA, Status: domain.CloneStatusPending})

	changed, err := h.registry.MarkRevoked(context.Background(), reg, domain.RevokeReasonAdminRevoked)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotNil(t, reg.RevokedAt)

	changed, err = h.registry.MarkRevoked(context.Background(), reg, domain.RevokeReasonAdminRevoked)
	require.NoError(t, err)
	assert.False(t, changed, "second revoke is a no-op")

	assert.ErrorIs(t, h.registry.MarkActive(context.Background(), reg), ErrRegistrationRevoked)
}

func TestRegistry_ExpirePendingAndStats(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testOptions())
	old := time.Now().Add(-2 * time.Hour)
	h.store.insert(domain.CloneRegistration{OwnerID: 1, Status: domain.CloneStatusPending, CreatedAt: old})
	h.store.insert(domain.CloneRegistration{OwnerID: 2, Status: domain.CloneStatusPending, CreatedAt: time.Now()})
	h.store.insert(domain.CloneRegistration{OwnerID: 3, Status: domain.CloneStatusActive, CreatedAt: old})

	n, err := h.registry.ExpirePending(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := h.registry.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CloneStats{Pending: 1, Active: 1, Revoked: 1}, stats)
	assert.Equal(t, domain.RevokeReasonAbandoned, h.store.latest(t, 1).RevokeReason)
}
