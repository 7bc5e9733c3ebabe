package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/bot"
	"github.com/Proton-105/gemini-clone-bot/internal/clone"
	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	"github.com/Proton-105/gemini-clone-bot/internal/i18n"
	"github.com/Proton-105/gemini-clone-bot/internal/jobs"
	"github.com/Proton-105/gemini-clone-bot/pkg/config"
)

type recordingSender struct {
	mu      sync.Mutex
	sent    map[int64][]string
	flooded map[int64]int
	errs    map[int64]error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: map[int64][]string{}, flooded: map[int64]int{}, errs: map[int64]error{}}
}

func (s *recordingSender) Send(to telebot.Recipient, what interface{}, _ ...interface{}) (*telebot.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := to.(*telebot.User).ID
	if s.flooded[id] > 0 {
		s.flooded[id]--
		return nil, telebot.FloodError{RetryAfter: 1}
	}
	if err := s.errs[id]; err != nil {
		return nil, err
	}
	s.sent[id] = append(s.sent[id], what.(string))
	return &telebot.Message{}, nil
}

type staticSenders struct {
	sender bot.Sender
	err    error
}

func (s staticSenders) Sender(context.Context, int64, int64) (bot.Sender, error) {
	return s.sender, s.err
}

type memberList []int64

func (m memberList) ListMembers(_ context.Context, _ int64, after int64, limit uint64) ([]int64, error) {
	sorted := append([]int64(nil), m...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var page []int64
	for _, id := range sorted {
		if id > after && uint64(len(page)) < limit {
			page = append(page, id)
		}
	}
	return page, nil
}

type languages map[int64]string

func (l languages) Get(_ context.Context, id int64) (*domain.User, error) {
	return &domain.User{TelegramID: id, Language: l[id]}, nil
}

func newBroadcastHandler(t *testing.T, senders Senders, members Members) (*BroadcastHandler, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	messages, err := i18n.Load("en")
	require.NoError(t, err)

	h := NewBroadcastHandler(senders, members, languages{}, messages, rdb,
		config.JobsConfig{BroadcastRate: 1000, BroadcastBatch: 2}, nil)
	h.sleep = func(context.Context, time.Duration) error { return nil }
	return h, rdb
}

func broadcastTask(t *testing.T, p jobs.BroadcastPayload) *asynq.Task {
	t.Helper()
	task, err := jobs.NewBroadcastTask(p)
	require.NoError(t, err)
	return task
}

func TestBroadcastHandler_DeliversToEveryMember(t *testing.T) {
	sender := newRecordingSender()
	sender.flooded[2] = 1
	sender.errs[3] = telebot.ErrBlockedByUser
	sender.errs[4] = errors.New("boom")

	h, rdb := newBroadcastHandler(t, staticSenders{sender: sender}, memberList{5, 1, 2, 3, 4})

	p := jobs.BroadcastPayload{ID: uuid.New(), BotID: 42, RequestedBy: 1, Text: "hello"}
	require.NoError(t, h.ProcessTask(context.Background(), broadcastTask(t, p)))

	assert.Equal(t, []string{"hello", "📣 Broadcast finished\nSent: 3\nBlocked: 1\nFailed: 1"}, sender.sent[1])
	assert.Equal(t, []string{"hello"}, sender.sent[2])
	assert.Equal(t, []string{"hello"}, sender.sent[5])

	raw, err := rdb.Get(context.Background(), progressKey(p)).Bytes()
	require.NoError(t, err)
	var progress broadcastProgress
	require.NoError(t, json.Unmarshal(raw, &progress))
	assert.Equal(t, broadcastProgress{Cursor: 5, Sent: 3, Blocked: 1, Failed: 1}, progress)
}

func TestBroadcastHandler_ResumesFromCheckpoint(t *testing.T) {
	sender := newRecordingSender()
	h, rdb := newBroadcastHandler(t, staticSenders{sender: sender}, memberList{1, 2, 3})

	p := jobs.BroadcastPayload{ID: uuid.New(), BotID: 42, Text: "hi"}
	data, _ := json.Marshal(broadcastProgress{Cursor: 2, Sent: 2})
	require.NoError(t, rdb.Set(context.Background(), progressKey(p), data, time.Hour).Err())

	require.NoError(t, h.ProcessTask(context.Background(), broadcastTask(t, p)))

	assert.Empty(t, sender.sent[1])
	assert.Empty(t, sender.sent[2])
	assert.Equal(t, []string{"hi"}, sender.sent[3])
}

func TestBroadcastHandler_SkipsRevokedClone(t *testing.T) {
	h, _ := newBroadcastHandler(t, staticSenders{err: clone.ErrNotFound}, memberList{1})

	p := jobs.BroadcastPayload{ID: uuid.New(), BotID: 42, OwnerID: 7, Text: "hi"}
	err := h.ProcessTask(context.Background(), broadcastTask(t, p))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestBroadcastHandler_BadPayload(t *testing.T) {
	h, _ := newBroadcastHandler(t, staticSenders{}, memberList{})

	err := h.ProcessTask(context.Background(), asynq.NewTask(jobs.TaskTypeBroadcast, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
