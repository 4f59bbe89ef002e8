package broadcast

import (
	"sync"
	"time"
)

type Config struct {
	// MaxInFlight bounds concurrent sends within one broadcast; values <= 0
	// fall back to the default.
	MaxInFlight int
	// RetryMax is the number of retries after the first attempt.
	RetryMax int
	// RatePerSec is the global outbound rate shared by all broadcasts.
	RatePerSec int
	// RetryBase and RetryMaxDelay shape the exponential backoff schedule.
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

const (
	defaultMaxInFlight   = 4
	defaultRetryMax      = 3
	defaultRatePerSec    = 10
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMaxDelay = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = defaultMaxInFlight
	}
	if c.RetryMax < 0 {
		c.RetryMax = defaultRetryMax
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultRatePerSec
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	return c
}

// EndpointStatus is the terminal state of one endpoint's attempt.
type EndpointStatus string

const (
	StatusSkipped   EndpointStatus = "already-delivered-skipped"
	StatusDelivered EndpointStatus = "delivered"
	StatusFailed    EndpointStatus = "failed"
)

// EndpointResult reports one endpoint's terminal state within a broadcast.
type EndpointResult struct {
	EndpointID string
	Status     EndpointStatus
	Attempts   int
	Error      string
}

// Outcome aggregates one Broadcast invocation. Transient: returned to the
// caller, never persisted.
type Outcome struct {
	ItemID     string
	Matched    int
	Endpoints  []EndpointResult
	StartedAt  time.Time
	FinishedAt time.Time
	// Incomplete is set when the caller's context was cancelled before every
	// endpoint reached a terminal state. In-flight deliveries still ran to
	// completion and updated the ledger.
	Incomplete bool
}

func (o Outcome) count(st EndpointStatus) int {
	var n int
	for _, r := range o.Endpoints {
		if r.Status == st {
			n++
		}
	}
	return n
}

func (o Outcome) Delivered() int { return o.count(StatusDelivered) }
func (o Outcome) Skipped() int   { return o.count(StatusSkipped) }
func (o Outcome) Failed() int    { return o.count(StatusFailed) }

// resultSet collects endpoint results from concurrent workers and supports
// a consistent snapshot when the caller stops waiting early.
type resultSet struct {
	mu      sync.Mutex
	results []EndpointResult
}

func (rs *resultSet) add(r EndpointResult) {
	rs.mu.Lock()
	rs.results = append(rs.results, r)
	rs.mu.Unlock()
}

func (rs *resultSet) snapshot() []EndpointResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]EndpointResult(nil), rs.results...)
}
