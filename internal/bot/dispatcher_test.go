package bot

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/bot/handlers"
	"github.com/Proton-105/gemini-clone-bot/internal/state"
)

type stubFSM struct {
	dialog *state.Dialog
	err    error
	resets int
}

func (f *stubFSM) Current(context.Context, int64) (*state.Dialog, error) {
	return f.dialog, f.err
}

func (f *stubFSM) TransitionTo(context.Context, int64, state.State, map[string]string) error {
	return nil
}

func (f *stubFSM) Reset(context.Context, int64) error {
	f.resets++
	return nil
}

func (f *stubFSM) Census(context.Context) (map[state.State]int, error) {
	return nil, nil
}

func TestDispatcher_Lookup(t *testing.T) {
	d := NewDispatcher(slog.Default())
	called := false
	d.RegisterStateHandler(state.StateAwaitingCloneToken, func(telebot.Context) error {
		called = true
		return nil
	})

	storeDown := errors.New("redis down")
	tests := []struct {
		name       string
		fsm        *stubFSM
		wantFound  bool
		wantErr    error
		wantResets int
	}{
		{name: "idle", fsm: &stubFSM{err: state.ErrStateNotFound}},
		{name: "registered state", fsm: &stubFSM{dialog: &state.Dialog{State: state.StateAwaitingCloneToken}}, wantFound: true},
		{name: "state without text handler", fsm: &stubFSM{dialog: &state.Dialog{State: state.StateConfirmingBroadcast}}},
		{name: "error state resets", fsm: &stubFSM{dialog: &state.Dialog{State: state.StateError}}, wantResets: 1},
		{name: "store failure", fsm: &stubFSM{err: storeDown}, wantErr: storeDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestContext(t, telebot.Update{Message: &telebot.Message{Text: "x", Sender: &telebot.User{ID: 4}}})
			handlers.SetSession(c, &handlers.Session{Ctx: context.Background(), FSM: tt.fsm})

			h, err := d.Lookup(c)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, h != nil)
			assert.Equal(t, tt.wantResets, tt.fsm.resets)
		})
	}

	h, err := d.Lookup(newTestContext(t, telebot.Update{Message: &telebot.Message{Text: "x", Sender: &telebot.User{ID: 4}}}))
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.False(t, called)
}
