package engine

import "github.com/roach88/tether/internal/model"

// QuotaEnforcer bounds the clicks a single context may consume across all
// of its events, including retries after transient failures and repeated
// resumes of a suspended context.
//
// A context that completes normally needs four clicks. The quota catches
// contexts that are retried forever.
type QuotaEnforcer struct {
	maxClicks int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
func NewQuotaEnforcer(maxClicks int) *QuotaEnforcer {
	return &QuotaEnforcer{maxClicks: maxClicks}
}

// Check returns a quota error if c may not be clicked again.
func (q *QuotaEnforcer) Check(c *model.Context) error {
	if c.Clicks >= q.maxClicks {
		return NewQuotaError(c.ID, c.Clicks, q.maxClicks)
	}
	return nil
}

// MaxClicks returns the limit.
func (q *QuotaEnforcer) MaxClicks() int {
	return q.maxClicks
}
