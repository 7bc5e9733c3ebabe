package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneStatus_CanTransitionTo(t *testing.T) {
	testCases := []struct {
		from     CloneStatus
		to       CloneStatus
		expected bool
	}{
		{CloneStatusPending, CloneStatusActive, true},
		{CloneStatusPending, CloneStatusRevoked, true},
		{CloneStatusActive, CloneStatusActive, true},
		{CloneStatusActive, CloneStatusRevoked, true},
		{CloneStatusActive, CloneStatusPending, false},
		{CloneStatusRevoked, CloneStatusActive, false},
		{CloneStatusRevoked, CloneStatusPending, false},
		{CloneStatusRevoked, CloneStatusRevoked, false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidBotTokenFormat(t *testing.T) {
	valid := "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsawQ"
	assert.True(t, ValidBotTokenFormat(valid))
	assert.False(t, ValidBotTokenFormat("1234:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsawQ"))
	assert.False(t, ValidBotTokenFormat("123456789:short"))
	assert.False(t, ValidBotTokenFormat("not a token"))
	assert.False(t, ValidBotTokenFormat(" "+valid))

	id, ok := BotIDFromToken(valid)
	require.True(t, ok)
	assert.Equal(t, int64(123456789), id)
	assert.Equal(t, "123456789:***", MaskToken(valid))
}

func TestUser_SpendPoint(t *testing.T) {
	u := &User{DailyPoints: 1, ReferralPoints: 1}

	source, ok := u.SpendPoint()
	require.True(t, ok)
	assert.Equal(t, PointSourceReferral, source)

	source, ok = u.SpendPoint()
	require.True(t, ok)
	assert.Equal(t, PointSourceDaily, source)

	_, ok = u.SpendPoint()
	assert.False(t, ok)
	assert.Zero(t, u.TotalPoints())
}

func TestUser_ApplyDailyReset(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	// 23:30 WIB on March 1.
	lastReset := time.Date(2025, 3, 1, 16, 30, 0, 0, time.UTC)
	u := &User{DailyPoints: 0, LastDailyReset: lastReset}

	// 06:59 WIB on March 2 is a new day in WIB but the same day in UTC.
	now := time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)
	assert.True(t, u.ApplyDailyReset(now, loc, 5))
	assert.Equal(t, 5, u.DailyPoints)

	u.DailyPoints = 2
	assert.False(t, u.ApplyDailyReset(now.Add(time.Hour), loc, 5))
	assert.Equal(t, 2, u.DailyPoints)
}

func TestGenerateReferralCode(t *testing.T) {
	code, err := GenerateReferralCode()
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z0-9]{8}$`, code)
}
