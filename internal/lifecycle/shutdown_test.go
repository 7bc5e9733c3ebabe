package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/gemini-clone-bot/internal/health"
)

func TestShutdown_RunsPhasesInOrder(t *testing.T) {
	s := NewShutdown(nil)

	var mu sync.Mutex
	var order []string
	record := func(name string, err error) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		}
	}

	s.Register(PhaseStorage, "db", record("db", nil))
	s.Register(PhaseIntake, "http", record("http", nil))
	s.Register(PhaseWorkers, "clones", record("clones", errors.New("stuck")))

	err := s.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clones: stuck")
	assert.Equal(t, []string{"http", "clones", "db"}, order)
}

func TestProbes_Readiness(t *testing.T) {
	healthy := true
	checker := health.NewChecker(nil, 0)
	checker.AddCheck("db", health.CheckFunc(func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	}))

	p := NewProbes(checker, nil)
	mux := http.NewServeMux()
	p.Register(mux)

	get := func(path string) int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/healthz"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))
	assert.ErrorIs(t, p.Readiness(context.Background()), ErrNotReady)

	p.MarkReady()
	assert.Equal(t, http.StatusOK, get("/readyz"))

	healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))

	healthy = true
	p.MarkDraining()
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))
}

func TestShutdown_ExecuteRunsOnce(t *testing.T) {
	s := NewShutdown(nil)
	calls := 0
	s.Register(PhaseIntake, "http", func(context.Context) error {
		calls++
		return errors.New("closed twice")
	})

	first := s.Execute(context.Background())
	second := s.Execute(context.Background())

	require.Error(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestShutdown_PhaseHooksRunConcurrently(t *testing.T) {
	s := NewShutdown(nil)

	var wg sync.WaitGroup
	wg.Add(2)
	both := func(context.Context) error {
		wg.Done()
		wg.Wait()
		return nil
	}
	s.Register(PhaseWorkers, "clones", both)
	s.Register(PhaseWorkers, "jobs", both)

	done := make(chan error, 1)
	go func() { done <- s.Execute(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hooks of one phase ran sequentially")
	}
}
