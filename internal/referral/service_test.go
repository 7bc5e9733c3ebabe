package referral

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FindByReferralCode(ctx context.Context, code string) (*domain.User, error) {
	args := m.Called(ctx, code)
	user, _ := args.Get(0).(*domain.User)
	return user, args.Error(1)
}

func (m *mockStore) ApplyReferral(ctx context.Context, telegramID, referrerID int64, bonus int) (bool, error) {
	args := m.Called(ctx, telegramID, referrerID, bonus)
	return args.Bool(0), args.Error(1)
}

func TestCodeFromPayload(t *testing.T) {
	code, ok := CodeFromPayload("ref_ab12cd34")
	assert.True(t, ok)
	assert.Equal(t, "AB12CD34", code)

	for _, payload := range []string{"", "ref_", "hello", "REF_X"} {
		_, ok := CodeFromPayload(payload)
		assert.False(t, ok, payload)
	}
}

func TestLink(t *testing.T) {
	assert.Equal(t, "https://t.me/nova_bot?start=ref_AB12CD34", Link("@nova_bot", "AB12CD34"))
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	referrer := &domain.User{TelegramID: 10, ReferralCode: "AAAA1111"}
	already := int64(99)

	testCases := []struct {
		name  string
		user  *domain.User
		setup func(ms *mockStore)
		want  *domain.User
	}{
		{
			name: "applies once",
			user: &domain.User{TelegramID: 20},
			setup: func(ms *mockStore) {
				ms.On("FindByReferralCode", mock.Anything, "AAAA1111").Return(referrer, nil).Once()
				ms.On("ApplyReferral", mock.Anything, int64(20), int64(10), 3).Return(true, nil).Once()
			},
			want: referrer,
		},
		{
			name: "self referral ignored",
			user: &domain.User{TelegramID: 10},
			setup: func(ms *mockStore) {
				ms.On("FindByReferralCode", mock.Anything, "AAAA1111").Return(referrer, nil).Once()
			},
		},
		{
			name: "unknown code ignored",
			user: &domain.User{TelegramID: 20},
			setup: func(ms *mockStore) {
				ms.On("FindByReferralCode", mock.Anything, "AAAA1111").Return(nil, sql.ErrNoRows).Once()
			},
		},
		{
			name:  "already referred",
			user:  &domain.User{TelegramID: 20, ReferredBy: &already},
			setup: func(*mockStore) {},
		},
		{
			name: "lost race to another referral",
			user: &domain.User{TelegramID: 20},
			setup: func(ms *mockStore) {
				ms.On("FindByReferralCode", mock.Anything, "AAAA1111").Return(referrer, nil).Once()
				ms.On("ApplyReferral", mock.Anything, int64(20), int64(10), 3).Return(false, nil).Once()
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := &mockStore{}
			tc.setup(store)
			svc := NewService(store, nil, 3, nil)

			got, err := svc.Apply(ctx, tc.user, "AAAA1111")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			store.AssertExpectations(t)
		})
	}
}
