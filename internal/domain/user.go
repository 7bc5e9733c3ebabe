package domain

import (
	"crypto/rand"
	"time"
)

// Point buckets, spent in this order.
const (
	PointSourceReferral = "referral"
	PointSourceDaily    = "daily"
)

// Languages supported by the bot.
const (
	LanguageEnglish    = "en"
	LanguageIndonesian = "id"
)

const (
	referralCodeLength   = 8
	referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// User represents an application user stored in the database.
type User struct {
	ID             int64
	TelegramID     int64
	FirstName      string
	LastName       string
	Username       string
	Language       string
	DailyPoints    int
	ReferralPoints int
	LastDailyReset time.Time
	ReferralCode   string
	ReferredBy     *int64
	ReferralCount  int
	TotalImages    int
	TotalMessages  int
	IsBanned       bool
	IsAdmin        bool
	CreatedAt      time.Time
	LastActiveAt   time.Time
}

// TotalPoints is the spendable balance.
func (u *User) TotalPoints() int {
	return u.DailyPoints + u.ReferralPoints
}

// DisplayName returns the best human readable name for the user.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	default:
		return "user"
	}
}

// NeedsDailyReset reports whether the last reset happened before today's midnight in loc.
func (u *User) NeedsDailyReset(now time.Time, loc *time.Location) bool {
	return u.LastDailyReset.Before(StartOfDay(now, loc))
}

// ApplyDailyReset refills daily points when a new day started in loc. It reports whether it changed u.
func (u *User) ApplyDailyReset(now time.Time, loc *time.Location, daily int) bool {
	if !u.NeedsDailyReset(now, loc) {
		return false
	}
	u.DailyPoints = daily
	u.LastDailyReset = now
	return true
}

// SpendPoint takes one point, referral points first, and returns the bucket it came from.
func (u *User) SpendPoint() (string, bool) {
	switch {
	case u.ReferralPoints > 0:
		u.ReferralPoints--
		return PointSourceReferral, true
	case u.DailyPoints > 0:
		u.DailyPoints--
		return PointSourceDaily, true
	default:
		return "", false
	}
}

// StartOfDay returns midnight of now's date in loc.
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// GenerateReferralCode returns a random code of uppercase letters and digits.
func GenerateReferralCode() (string, error) {
	buf := make([]byte, referralCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = referralCodeAlphabet[int(b)%len(referralCodeAlphabet)]
	}
	return string(buf), nil
}
