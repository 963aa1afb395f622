package throttle

import (
	"math"
	"sync"
	"time"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

// Limit is a refill rate in events per second.
type Limit float64

// Inf is the unthrottled limit.
var Inf = Limit(math.Inf(1))

// Every converts a minimum interval between events to a Limit.
func Every(interval time.Duration) Limit {
	if interval <= 0 {
		return Inf
	}
	return Limit(time.Second) / Limit(interval)
}

// Clock provides the current time. It can be mocked for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Config holds configuration options for a Bucket.
type Config struct {
	// Rate is the number of tokens added per second. Zero or Inf disables
	// throttling.
	Rate Limit

	// Burst is the maximum number of tokens that can be stored.
	Burst int

	// Clock provides the current time. If nil, SystemClock is used.
	Clock Clock
}

// Bucket is a token bucket that paces events. Unlike a limiter it never
// refuses: Reserve always succeeds and reports how long the caller must
// delay, so paced work is postponed rather than dropped.
type Bucket struct {
	mu         sync.Mutex
	limit      Limit
	burst      int
	tokens     float64
	lastUpdate time.Time
	clock      Clock
}

// New creates a bucket that starts full. It panics on invalid arguments.
func New(rate Limit, burst int) *Bucket {
	b, err := NewWithConfigSafe(Config{Rate: rate, Burst: burst})
	if err != nil {
		panic(err)
	}
	return b
}

// NewSafe is New returning an error instead of panicking.
func NewSafe(rate Limit, burst int) (*Bucket, error) {
	return NewWithConfigSafe(Config{Rate: rate, Burst: burst})
}

// NewWithConfigSafe creates a bucket from config, validating it.
func NewWithConfigSafe(config Config) (*Bucket, error) {
	if config.Rate < 0 || math.IsNaN(float64(config.Rate)) {
		return nil, gberrors.NewValidationError("throttle", "rate", config.Rate, "rate cannot be negative").
			WithHint("use 0 to disable throttling")
	}
	if config.Burst <= 0 {
		return nil, gberrors.NewValidationError("throttle", "burst", config.Burst, "burst must be positive").
			WithHint("burst is how many events may happen back to back")
	}
	if config.Clock == nil {
		config.Clock = SystemClock{}
	}
	if config.Rate == 0 {
		config.Rate = Inf
	}

	return &Bucket{
		limit:      config.Rate,
		burst:      config.Burst,
		tokens:     float64(config.Burst),
		lastUpdate: config.Clock.Now(),
		clock:      config.Clock,
	}, nil
}

// Allow takes a token if one is available now.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.updateTokens(b.clock.Now())
	if b.limit == Inf || b.tokens >= 1 {
		if b.limit != Inf {
			b.tokens--
		}
		return true
	}
	return false
}

// Reserve takes a token and returns how long to wait before using it. The
// token count may go negative, which queues later reservations behind
// earlier ones.
func (b *Bucket) Reserve() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit == Inf {
		return 0
	}

	b.updateTokens(b.clock.Now())
	b.tokens--
	if b.tokens >= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) * -b.tokens / float64(b.limit))
}

// Tokens returns the number of tokens currently available.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateTokens(b.clock.Now())
	return b.tokens
}

// Limit returns the refill rate.
func (b *Bucket) Limit() Limit {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit
}

// Burst returns the bucket capacity.
func (b *Bucket) Burst() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.burst
}

// SetLimit changes the refill rate. Zero disables throttling.
func (b *Bucket) SetLimit(limit Limit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateTokens(b.clock.Now())
	if limit <= 0 {
		limit = Inf
	}
	b.limit = limit
}

// SetBurst changes the bucket capacity. Tokens above the new capacity are
// discarded.
func (b *Bucket) SetBurst(burst int) error {
	if burst <= 0 {
		return gberrors.NewValidationError("throttle", "burst", burst, "burst must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateTokens(b.clock.Now())
	b.burst = burst
	if b.tokens > float64(burst) {
		b.tokens = float64(burst)
	}
	return nil
}

// updateTokens adds tokens for the time elapsed since the last update.
func (b *Bucket) updateTokens(now time.Time) {
	if b.limit == Inf {
		b.tokens = float64(b.burst)
		b.lastUpdate = now
		return
	}
	elapsed := now.Sub(b.lastUpdate)
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.tokens+elapsed.Seconds()*float64(b.limit), float64(b.burst))
	b.lastUpdate = now
}
