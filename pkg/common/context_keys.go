package common

type contextKey string

const (
	RequestIdKey     contextKey = "request_id"
	IdentityKey      contextKey = "identity"
	FingerprintIdKey contextKey = "fingerprint_id"
	DecisionKey      contextKey = "decision"
)
