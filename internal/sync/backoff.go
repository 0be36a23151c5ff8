package sync

import "time"

// Policy controls how failed operations are re-attempted before being
// quarantined.
type Policy struct {
	// BaseDelay is the wait after the first failure. Every further
	// failure doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the doubled delay.
	MaxDelay time.Duration
	// MaxRetries is the total number of remote attempts a record gets
	// before it is marked FAILED.
	MaxRetries int
}

// DefaultPolicy mirrors the defaults in config: 30s base, 10m cap,
// three attempts.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  30 * time.Second,
		MaxDelay:   10 * time.Minute,
		MaxRetries: 3,
	}
}

// NextDelay returns how long a record with the given retry count has to
// wait after its last attempt before it becomes due again. retryCount is
// the value stored on the record, i.e. the number of failures so far.
func (p Policy) NextDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := p.BaseDelay
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether a record that just failed for the
// retryCount-th time has used up its attempt budget.
func (p Policy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}
