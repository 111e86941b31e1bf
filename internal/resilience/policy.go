package resilience

import (
	"math"
	"time"

	"github.com/phrazzld/jobstream/internal/config"
)

// Policy is the retry policy for transient failures.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Base is the delay before the first retry.
	Base time.Duration
	// Cap bounds every delay.
	Cap time.Duration
}

// DefaultPolicy returns three retries backing off from 500ms up to 30s.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, Base: 500 * time.Millisecond, Cap: 30 * time.Second}
}

// PolicyFromConfig builds a Policy from the retry configuration section.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxRetries: cfg.MaxRetries,
		Base:       cfg.BackoffBase(),
		Cap:        cfg.BackoffCap(),
	}
}

// Delay returns min(Base * 2^attempt, Cap), where attempt 0 is the wait
// before the first retry.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Base) * math.Pow(2, float64(attempt))
	if p.Cap > 0 && d > float64(p.Cap) {
		return p.Cap
	}
	return time.Duration(d)
}
