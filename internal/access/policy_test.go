package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
)

const ownerID int64 = 42

type mockAdmins struct {
	mock.Mock
}

func (m *mockAdmins) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPolicy_OwnerIsOwnerOnFreshClone(t *testing.T) {
	admins := &mockAdmins{}
	p := NewPolicy(ownerID, admins, testLogger())

	clone := Instance{BotID: 555, Clone: &domain.CloneRegistration{OwnerID: 7, AdminID: 8}}
	assert.Equal(t, RoleOwner, p.Role(context.Background(), clone, ownerID))
	assert.True(t, p.Allowed(context.Background(), clone, ownerID, RoleAdmin))

	admins.AssertNotCalled(t, "IsAdmin", mock.Anything, mock.Anything)
}

func TestPolicy_Roles(t *testing.T) {
	clone := Instance{BotID: 555, Clone: &domain.CloneRegistration{OwnerID: 7, AdminID: 8}}
	primary := Instance{BotID: 1}

	tests := []struct {
		name   string
		inst   Instance
		userID int64
		setup  func(m *mockAdmins)
		want   Role
	}{
		{name: "owner on primary", inst: primary, userID: ownerID, want: RoleOwner},
		{name: "clone admin", inst: clone, userID: 8, want: RoleAdmin},
		{name: "clone registrant", inst: clone, userID: 7, want: RoleAdmin},
		{name: "stranger on clone", inst: clone, userID: 9, want: RoleUser},
		{
			name:   "primary admin flag",
			inst:   primary,
			userID: 10,
			setup:  func(m *mockAdmins) { m.On("IsAdmin", mock.Anything, int64(10)).Return(true, nil) },
			want:   RoleAdmin,
		},
		{
			name:   "primary plain user",
			inst:   primary,
			userID: 11,
			setup:  func(m *mockAdmins) { m.On("IsAdmin", mock.Anything, int64(11)).Return(false, nil) },
			want:   RoleUser,
		},
		{
			name:   "lookup failure falls back to user",
			inst:   primary,
			userID: 12,
			setup:  func(m *mockAdmins) { m.On("IsAdmin", mock.Anything, int64(12)).Return(false, errors.New("db down")) },
			want:   RoleUser,
		},
		{name: "anonymous", inst: primary, userID: 0, want: RoleUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admins := &mockAdmins{}
			if tt.setup != nil {
				tt.setup(admins)
			}
			p := NewPolicy(ownerID, admins, testLogger())

			assert.Equal(t, tt.want, p.Role(context.Background(), tt.inst, tt.userID))
			admins.AssertExpectations(t)
		})
	}
}

func TestPolicy_PrimaryAdminsAreNotCloneAdmins(t *testing.T) {
	admins := &mockAdmins{}
	p := NewPolicy(ownerID, admins, testLogger())

	clone := Instance{BotID: 555, Clone: &domain.CloneRegistration{OwnerID: 7, AdminID: 7}}
	assert.Equal(t, RoleUser, p.Role(context.Background(), clone, 10))
	admins.AssertNotCalled(t, "IsAdmin", mock.Anything, mock.Anything)
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "user", RoleUser.String())
	assert.Equal(t, "admin", RoleAdmin.String())
	assert.Equal(t, "owner", RoleOwner.String())
	assert.True(t, RoleOwner.AtLeast(RoleAdmin))
	assert.False(t, RoleUser.AtLeast(RoleAdmin))
}
