package model

import "time"

// RequestState is the lifecycle state of a verification or dispute request.
type RequestState string

const (
	RequestPending  RequestState = "pending"
	RequestApproved RequestState = "approved"
	RequestRejected RequestState = "rejected"
	RequestExpired  RequestState = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s RequestState) Terminal() bool {
	return s == RequestApproved || s == RequestRejected || s == RequestExpired
}

// RequestKind distinguishes verifier-facing from arbiter-facing requests.
type RequestKind string

const (
	RequestVerification RequestKind = "verification"
	RequestDispute      RequestKind = "dispute"
)

// Vote is one ballot cast on a request.
type Vote struct {
	Voter   string    `json:"voter"`
	Approve bool      `json:"approve"`
	CastAt  time.Time `json:"cast_at"`
}

// VerificationRequest is a request tracked by the orchestrator.
type VerificationRequest struct {
	ID               string        `json:"id"`
	ProductID        string        `json:"product_id"`
	Kind             RequestKind   `json:"kind"`
	State            RequestState  `json:"state"`
	Eligible         []string      `json:"eligible"`
	ApproveThreshold int           `json:"approve_threshold"`
	RejectThreshold  int           `json:"reject_threshold"`
	Votes            []Vote        `json:"votes"`
	CreatedAt        time.Time     `json:"created_at"`
	Timeout          time.Duration `json:"timeout"`
	ResolvedAt       *time.Time    `json:"resolved_at,omitempty"`
	// Version counts stored updates. Stores only apply an update whose
	// Version matches the stored one.
	Version int64 `json:"version"`
}

// Tally counts approve and reject votes.
func (r *VerificationRequest) Tally() (approve, reject int) {
	for _, v := range r.Votes {
		if v.Approve {
			approve++
		} else {
			reject++
		}
	}
	return approve, reject
}

// ExpiresAt is the instant after which a pending request may be expired.
func (r *VerificationRequest) ExpiresAt() time.Time {
	return r.CreatedAt.Add(r.Timeout)
}

// Clone returns a deep copy so stores never share slices with callers.
func (r *VerificationRequest) Clone() *VerificationRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Eligible = append([]string(nil), r.Eligible...)
	c.Votes = append([]Vote(nil), r.Votes...)
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
