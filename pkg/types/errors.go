package types

// EngineError carries the HTTP status the boundary should answer with when
// an engine stage fails. Message is safe for clients; Err keeps the cause
// for logs.
type EngineError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *EngineError) Error() string {
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
