package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Append(ctx context.Context, messages ...*domain.ConversationMessage) error {
	return m.Called(ctx, messages).Error(0)
}

func (m *mockStore) Recent(ctx context.Context, userID, botID int64, limit int) ([]*domain.ConversationMessage, error) {
	args := m.Called(ctx, userID, botID, limit)
	msgs, _ := args.Get(0).([]*domain.ConversationMessage)
	return msgs, args.Error(1)
}

func (m *mockStore) Clear(ctx context.Context, userID, botID int64) (int64, error) {
	args := m.Called(ctx, userID, botID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) Stats(ctx context.Context, userID, botID int64) (*domain.MemoryStats, error) {
	args := m.Called(ctx, userID, botID)
	stats, _ := args.Get(0).(*domain.MemoryStats)
	return stats, args.Error(1)
}

func (m *mockStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func TestRemember_StoresExchange(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store, 10, nil)

	long := strings.Repeat("é", maxStoredRunes+10)
	store.On("Append", mock.Anything, mock.MatchedBy(func(msgs []*domain.ConversationMessage) bool {
		return len(msgs) == 2 &&
			msgs[0].Role == domain.RoleUser && msgs[0].Text == "hi" && msgs[0].BotID == 7 &&
			msgs[1].Role == domain.RoleModel && len([]rune(msgs[1].Text)) == maxStoredRunes
	})).Return(nil).Once()

	svc.Remember(context.Background(), 1, 7, domain.MessageKindText, "hi", long)
	store.AssertExpectations(t)
}

func TestRemember_SwallowsStoreErrors(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store, 10, nil)
	store.On("Append", mock.Anything, mock.Anything).Return(errors.New("down")).Once()

	assert.NotPanics(t, func() {
		svc.Remember(context.Background(), 1, 7, domain.MessageKindText, "hi", "hello")
	})
}

func TestHistory_UsesLimit(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store, 0, nil)
	store.On("Recent", mock.Anything, int64(1), int64(7), 10).
		Return([]*domain.ConversationMessage{{Text: "a"}}, nil).Once()

	msgs, err := svc.History(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestPrune(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store, 10, nil)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	store.On("DeleteOlderThan", mock.Anything, now.Add(-30*24*time.Hour)).Return(int64(4), nil).Once()

	n, err := svc.Prune(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
