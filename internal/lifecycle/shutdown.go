package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Shutdown runs registered hooks once, phase by phase. Hooks of one phase
// run concurrently and the next phase starts when all of them returned,
// whether or not they failed.
type Shutdown struct {
	mu     sync.Mutex
	phases map[Phase][]Hook
	log    *slog.Logger

	once sync.Once
	err  error
}

func NewShutdown(log *slog.Logger) *Shutdown {
	if log == nil {
		log = slog.Default()
	}
	return &Shutdown{
		phases: make(map[Phase][]Hook),
		log:    log.With(slog.String("component", "shutdown")),
	}
}

// Register adds a named hook to phase. Hooks registered after Execute never run.
func (s *Shutdown) Register(phase Phase, name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.phases[phase] = append(s.phases[phase], Hook{Name: name, Phase: phase, Fn: fn})
	s.mu.Unlock()
}

// Execute runs every phase in order, bounded by ctx, and joins the hook
// errors. Later calls return the first result without running anything.
func (s *Shutdown) Execute(ctx context.Context) error {
	s.once.Do(func() { s.err = s.run(ctx) })
	return s.err
}

func (s *Shutdown) run(ctx context.Context) error {
	s.mu.Lock()
	phases := maps.Clone(s.phases)
	s.mu.Unlock()

	start := time.Now()
	var errs []error
	for _, phase := range slices.Sorted(maps.Keys(phases)) {
		errs = append(errs, s.runPhase(ctx, phase, phases[phase])...)
	}
	s.log.Info("shutdown finished", slog.Duration("elapsed", time.Since(start)), slog.Int("failed_hooks", len(errs)))
	return errors.Join(errs...)
}

func (s *Shutdown) runPhase(ctx context.Context, phase Phase, hooks []Hook) []error {
	errs := make([]error, len(hooks))

	var wg sync.WaitGroup
	for i, h := range hooks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := time.Now()
			err := h.Fn(ctx)

			log := s.log.With(slog.String("hook", h.Name), slog.Int("phase", int(phase)), slog.Duration("took", time.Since(started)))
			if err != nil {
				log.Error("shutdown hook failed", slog.Any("error", err))
				errs[i] = fmt.Errorf("%s: %w", h.Name, err)
				return
			}
			log.Info("shutdown hook done")
		}()
	}
	wg.Wait()

	return slices.DeleteFunc(errs, func(err error) bool { return err == nil })
}
