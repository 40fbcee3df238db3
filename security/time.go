package security

import "time"

// DefaultClockSkewGracePeriod is the default grace period for expiry checks.
// It prevents false expiration errors from NTP drift between systems while
// extending effective lifetimes by only a few seconds.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired checks expiry with the default clock skew grace period.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks expiry with a custom grace period. A zero
// expiresAt means no expiration.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}
