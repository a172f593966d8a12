package auth

// Scopes understood by the readings API.
const (
	ScopeReadingsWrite = "readings:write"
	ScopeReadingsRead  = "readings:read"
)

// APIKeySubject is the subject recorded for callers authenticated by X-API-Key.
const APIKeySubject = "api-key"
