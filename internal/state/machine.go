package state

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockTTL = 5 * time.Second

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStateNotFound     = errors.New("user state not found")
	// ErrStateLocked is returned while another update of the same user changes its dialog.
	ErrStateLocked = errors.New("state is locked, try again later")
)

// releaseScript deletes the lock only if it still carries our token, so a
// lock that expired and was taken by another update survives.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// StateMachine moves users between dialog states.
type StateMachine interface {
	// Current returns ErrStateNotFound for idle users.
	Current(ctx context.Context, userID int64) (*Dialog, error)
	// TransitionTo validates the move from the stored state and replaces the dialog data.
	TransitionTo(ctx context.Context, userID int64, to State, data map[string]string) error
	// Reset returns the user to idle.
	Reset(ctx context.Context, userID int64) error
	// Census counts stored dialogs per state.
	Census(ctx context.Context) (map[State]int, error)
}

// Option customizes a state machine.
type Option func(*machine)

// WithNamespace scopes the per-user locks to a bot instance. It must match the store namespace.
func WithNamespace(namespace string) Option {
	return func(m *machine) {
		m.namespace = namespace
	}
}

// WithObserver reports every accepted transition.
func WithObserver(fn func(from, to State)) Option {
	return func(m *machine) {
		if fn != nil {
			m.observe = fn
		}
	}
}

type machine struct {
	store     Store
	locks     *redis.Client
	log       *slog.Logger
	namespace string
	observe   func(from, to State)
}

// NewStateMachine builds a machine over store. A nil locks client disables locking.
func NewStateMachine(store Store, log *slog.Logger, locks *redis.Client, opts ...Option) StateMachine {
	if log == nil {
		log = slog.Default()
	}

	m := &machine{
		store:     store,
		locks:     locks,
		log:       log,
		namespace: "default",
		observe:   func(State, State) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *machine) Current(ctx context.Context, userID int64) (*Dialog, error) {
	return m.store.Load(ctx, userID)
}

func (m *machine) TransitionTo(ctx context.Context, userID int64, to State, data map[string]string) error {
	unlock, err := m.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	from := StateIdle
	current, err := m.store.Load(ctx, userID)
	switch {
	case err == nil:
		from = current.State
	case !errors.Is(err, ErrStateNotFound):
		return err
	}

	if !IsTransitionAllowed(from, to) {
		m.log.Warn("invalid state transition",
			slog.Int64("user_id", userID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return ErrInvalidTransition
	}

	if to == StateIdle {
		err = m.store.Delete(ctx, userID)
	} else {
		err = m.store.Save(ctx, &Dialog{UserID: userID, State: to, Data: data})
	}
	if err != nil {
		return err
	}

	m.observe(from, to)
	return nil
}

func (m *machine) Reset(ctx context.Context, userID int64) error {
	unlock, err := m.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	return m.store.Delete(ctx, userID)
}

func (m *machine) Census(ctx context.Context) (map[State]int, error) {
	dialogs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[State]int, len(Known))
	for _, d := range dialogs {
		counts[d.State]++
	}
	return counts, nil
}

func (m *machine) lock(ctx context.Context, userID int64) (func(), error) {
	if m.locks == nil {
		return func() {}, nil
	}

	key := lockKey(m.namespace, userID)
	token := uuid.NewString()

	acquired, err := m.locks.SetNX(ctx, key, token, lockTTL).Result()
	if err != nil {
		m.log.Error("failed to acquire user state lock", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, err
	}
	if !acquired {
		return nil, ErrStateLocked
	}

	return func() {
		// The caller's context may already be cancelled; the lock must still go.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, m.locks, []string{key}, token).Err(); err != nil {
			m.log.Error("failed to release user state lock", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}, nil
}
