// Package monitoring watches the verification request backlog and raises
// webhook alerts when it degrades.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provenance-cli/internal/model"
	"github.com/sells-group/provenance-cli/internal/store"
)

const collectPageSize = 500

// MetricsSnapshot holds a point-in-time view of the request backlog.
type MetricsSnapshot struct {
	// Activity within the lookback window.
	Opened   int `json:"opened"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Expired  int `json:"expired"`

	// ExpiryRate is Expired over all requests resolved in the window.
	ExpiryRate float64 `json:"expiry_rate"`

	// Backlog regardless of window.
	Pending        int `json:"pending"`
	OverduePending int `json:"overdue_pending"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Resolved is the number of requests that reached a terminal state in the window.
func (s *MetricsSnapshot) Resolved() int {
	return s.Approved + s.Rejected + s.Expired
}

// Collector gathers backlog metrics from a request store.
type Collector struct {
	store store.RequestStore
	now   func() time.Time
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithClock overrides the collector's time source.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.RequestStore, opts ...CollectorOption) *Collector {
	c := &Collector{store: st, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Collect gathers a snapshot of request metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	for offset := 0; ; offset += collectPageSize {
		page, err := c.store.ListRequests(ctx, store.RequestFilter{Limit: collectPageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list requests")
		}
		for _, r := range page {
			snap.add(r, cutoff, now)
		}
		if len(page) < collectPageSize {
			break
		}
	}

	if resolved := snap.Resolved(); resolved > 0 {
		snap.ExpiryRate = float64(snap.Expired) / float64(resolved)
	}
	return snap, nil
}

func (s *MetricsSnapshot) add(r *model.VerificationRequest, cutoff, now time.Time) {
	if !r.CreatedAt.Before(cutoff) {
		s.Opened++
	}

	if r.State == model.RequestPending {
		s.Pending++
		if now.After(r.ExpiresAt()) {
			s.OverduePending++
		}
		return
	}

	if r.ResolvedAt == nil || r.ResolvedAt.Before(cutoff) {
		return
	}
	switch r.State {
	case model.RequestApproved:
		s.Approved++
	case model.RequestRejected:
		s.Rejected++
	case model.RequestExpired:
		s.Expired++
	}
}
