package eventcache

import "time"

// Outcome classifies one challenge attempt.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeRejected      Outcome = "rejected"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeError         Outcome = "error"
	OutcomeNoPhone       Outcome = "no_phone"
	OutcomeNotConfigured Outcome = "not_configured"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeRejected, OutcomeTimeout, OutcomeError, OutcomeNoPhone, OutcomeNotConfigured:
		return true
	}
	return false
}

// Event is one recorded authentication attempt. Empty strings stand for
// absent values and render as "" in both JSON and CSV.
//
// Events are values: the cache hands out copies and never shares its storage.
type Event struct {
	Username     string    `json:"username"`
	PhoneNumber  string    `json:"phoneNumber"`
	Outcome      Outcome   `json:"outcome"`
	ResponseCode string    `json:"responseCode"`
	IPAddress    string    `json:"ipAddress"`
	Timestamp    time.Time `json:"timestamp"`
	DurationMs   int64     `json:"durationMs"`
	ErrorMessage string    `json:"errorMessage"`
}

// UserCount is one row of [Cache.TopUsernames].
type UserCount struct {
	Username string `json:"username"`
	Count    int64  `json:"count"`
}

// Stats is a point-in-time view of a cache's counters and limits.
type Stats struct {
	TotalAttempts   uint64 `json:"totalAttempts"`
	TotalSuccess    uint64 `json:"totalSuccess"`
	TotalRejected   uint64 `json:"totalRejected"`
	TotalErrors     uint64 `json:"totalErrors"`
	TotalNoPhone    uint64 `json:"totalNoPhone"`
	TotalTimeout    uint64 `json:"totalTimeout"`
	EventLogSize    int    `json:"eventLogSize"`
	EventLogMaxSize int    `json:"eventLogMaxSize"`
	EventTTLHours   int    `json:"eventTtlHours"`
}
