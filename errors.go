package httpsx

import (
	"github.com/watt-toolkit/httpsx/internal/reqjob"
)

// ErrCancelled is returned by Client.Do/Get/Post when the request's
// context is cancelled before completion, replacing the source's
// CANCEL_RVAL = -42 sentinel with a first-class error (spec.md §9).
var ErrCancelled = reqjob.ErrCancelled

// ErrUnknownType is returned by the request runner for a Location whose
// scheme is not https, fulls, or posts. Client.Do parses its URL first and
// rejects any other scheme with that parse error, which does not wrap
// ErrUnknownType.
var ErrUnknownType = reqjob.ErrUnknownType

// ProtocolError reports a non-2xx HTTP response, carrying the status code
// the server actually sent. Use errors.As to recover the code.
type ProtocolError = reqjob.ErrProtocol
