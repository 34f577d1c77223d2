package http11

// Status codes this transport's server pipeline can emit, per spec.md
// §4.6's status-kind table.
const (
	StatusOK                     = 200
	StatusBadRequest             = 400
	StatusForbidden              = 403
	StatusNotFound               = 404
	StatusTooManyRequests        = 429
	StatusInternalServerError    = 500
	StatusNotImplemented         = 501
	StatusBadGateway             = 502
	StatusServiceUnavailable     = 503
	StatusBandwidthLimitExceeded = 509
)

var reasonPhrases = map[int]string{
	StatusOK:                     "OK",
	StatusBadRequest:             "Bad Request",
	StatusForbidden:              "Forbidden",
	StatusNotFound:               "Not Found",
	StatusTooManyRequests:        "Too Many Requests",
	StatusInternalServerError:    "Internal Server Error",
	StatusNotImplemented:         "Not Implemented",
	StatusBadGateway:             "Bad Gateway",
	StatusServiceUnavailable:     "Service Unavailable",
	StatusBandwidthLimitExceeded: "Bandwidth Limit Exceeded",
}

// ReasonPhrase returns the standard reason phrase for code, or "Unknown"
// if this transport has no table entry for it.
func ReasonPhrase(code int) string {
	if phrase, ok := reasonPhrases[code]; ok {
		return phrase
	}
	return "Unknown"
}
