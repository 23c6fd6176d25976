package session

import "errors"

// ErrNotFound is returned by Append when the session id is unknown;
// callers should Create a new session and retry (§4.9 Resumption).
var ErrNotFound = errors.New("session: not found")
