package common

import "time"

const (
	// FingerprintRetention is how long an unseen fingerprint survives
	// before the janitor evicts it.
	FingerprintRetention = 30 * 24 * time.Hour

	// BehaviorRetention bounds the rolling action history per identity.
	BehaviorRetention = 30 * 24 * time.Hour

	// CacheCallTimeout caps every round trip to the shared cache so an
	// outage degrades accuracy instead of latency.
	CacheCallTimeout = 2 * time.Second

	IdentityHeader  = "X-User-ID"
	RequestIDHeader = "X-Request-Id"
	ChallengeHeader = "X-Challenge"
)
