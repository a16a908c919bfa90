// Package events publishes verification request transitions.
package events

import (
	"context"
	"time"

	"github.com/sells-group/provenance-cli/internal/model"
)

// DefaultPrefix is the subject prefix every topic starts with.
const DefaultPrefix = "provenance.request"

// Event topic constants
const (
	TopicRequestOpened   = DefaultPrefix + ".opened"
	TopicVoteCast        = DefaultPrefix + ".voted"
	TopicRequestApproved = DefaultPrefix + ".approved"
	TopicRequestRejected = DefaultPrefix + ".rejected"
	TopicRequestExpired  = DefaultPrefix + ".expired"
)

// TopicForState returns the topic announcing a transition into state, or
// TopicVoteCast for a vote that left the request pending.
func TopicForState(state model.RequestState) string {
	switch state {
	case model.RequestApproved:
		return TopicRequestApproved
	case model.RequestRejected:
		return TopicRequestRejected
	case model.RequestExpired:
		return TopicRequestExpired
	default:
		return TopicVoteCast
	}
}

// RequestEvent is the payload of every request topic.
type RequestEvent struct {
	RequestID string             `json:"request_id"`
	ProductID string             `json:"product_id"`
	Kind      model.RequestKind  `json:"kind"`
	From      model.RequestState `json:"from,omitempty"`
	To        model.RequestState `json:"to"`
	Voter     string             `json:"voter,omitempty"`
	Approve   *bool              `json:"approve,omitempty"`
	At        time.Time          `json:"at"`
}

// Publisher is the interface for event publishing.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
