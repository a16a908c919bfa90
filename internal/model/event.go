package model

import "time"

// EventKind tags the variant carried by a ProvenanceEvent.
type EventKind string

const (
	EventRegistration        EventKind = "registration"
	EventCustodyTransfer     EventKind = "custody_transfer"
	EventVerificationOutcome EventKind = "verification_outcome"
	EventDispute             EventKind = "dispute"
	EventOracleAttestation   EventKind = "oracle_attestation"
)

// Rank orders kinds that share a timestamp. A registration always sorts
// first, and a synthetic verification sorts right after the transfer
// that produced it.
func (k EventKind) Rank() int {
	switch k {
	case EventRegistration:
		return 0
	case EventCustodyTransfer:
		return 1
	case EventVerificationOutcome:
		return 2
	case EventDispute:
		return 3
	case EventOracleAttestation:
		return 4
	default:
		return 5
	}
}

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	return k.Rank() < 5
}

// ProvenanceEvent is the normalized shape every ledger record is converted to.
// Exactly one payload pointer is set, and it matches Kind.
type ProvenanceEvent struct {
	ID           string    `json:"id,omitempty"`
	Kind         EventKind `json:"kind"`
	Timestamp    time.Time `json:"timestamp"`
	Actor        string    `json:"actor"`
	Counterparty string    `json:"counterparty,omitempty"`
	SourceOrder  int       `json:"source_order"`

	Registration *RegistrationPayload `json:"registration,omitempty"`
	Transfer     *TransferPayload     `json:"transfer,omitempty"`
	Verification *VerificationPayload `json:"verification,omitempty"`
	Dispute      *DisputePayload      `json:"dispute,omitempty"`
	Attestation  *AttestationPayload  `json:"attestation,omitempty"`
}

// Payload returns the kind-specific payload, or nil when none is set.
func (e ProvenanceEvent) Payload() any {
	switch e.Kind {
	case EventRegistration:
		if e.Registration != nil {
			return e.Registration
		}
	case EventCustodyTransfer:
		if e.Transfer != nil {
			return e.Transfer
		}
	case EventVerificationOutcome:
		if e.Verification != nil {
			return e.Verification
		}
	case EventDispute:
		if e.Dispute != nil {
			return e.Dispute
		}
	case EventOracleAttestation:
		if e.Attestation != nil {
			return e.Attestation
		}
	}
	return nil
}

// RegistrationPayload is carried by registration events.
type RegistrationPayload struct {
	MetadataURI string `json:"metadata_uri,omitempty"`
}

// TransferPayload is carried by custody transfer events.
type TransferPayload struct {
	Location         string `json:"location"`
	VerificationHash string `json:"verification_hash,omitempty"`
}

// VerificationPayload is carried by verification outcome events. Synthetic
// is set when the outcome was derived from a custody transfer location
// rather than from a verification-attempt record.
type VerificationPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Success   bool   `json:"success"`
	Fee       string `json:"fee,omitempty"`
	Requester string `json:"requester,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// DisputePayload is carried by dispute events.
type DisputePayload struct {
	DisputeID    string        `json:"dispute_id"`
	Description  string        `json:"description,omitempty"`
	Status       DisputeStatus `json:"status"`
	VotesFor     uint64        `json:"votes_for"`
	VotesAgainst uint64        `json:"votes_against"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
}

// Open reports whether the dispute is still unresolved.
func (d DisputePayload) Open() bool {
	return d.Status == DisputeOpen && d.ResolvedAt == nil
}

// AttestationPayload is carried by oracle attestation events.
type AttestationPayload struct {
	RequestID   string  `json:"request_id,omitempty"`
	Verdict     bool    `json:"verdict"`
	Weight      float64 `json:"weight"`
	EvidenceURI string  `json:"evidence_uri,omitempty"`
}

// Aggregates are derived counts computed alongside a merged timeline.
type Aggregates struct {
	TransferCount           int        `json:"transfer_count"`
	VerificationCount       int        `json:"verification_count"`
	FailedVerificationCount int        `json:"failed_verification_count"`
	DisputeCount            int        `json:"dispute_count"`
	OpenDisputeCount        int        `json:"open_dispute_count"`
	AttestationCount        int        `json:"attestation_count"`
	AgeInDays               float64    `json:"age_in_days"`
	RegisteredAt            time.Time  `json:"registered_at"`
	FirstEventAt            *time.Time `json:"first_event_at,omitempty"`
	LastEventAt             *time.Time `json:"last_event_at,omitempty"`
}

// Timeline is the time-ordered event sequence for one product.
type Timeline struct {
	ProductID  string            `json:"product_id"`
	Events     []ProvenanceEvent `json:"events"`
	Aggregates Aggregates        `json:"aggregates"`
}

// Last returns the most recent event of the given kind, or nil.
func (t *Timeline) Last(kind EventKind) *ProvenanceEvent {
	if t == nil {
		return nil
	}
	for i := len(t.Events) - 1; i >= 0; i-- {
		if t.Events[i].Kind == kind {
			return &t.Events[i]
		}
	}
	return nil
}

// OfKind returns the events of one kind in timeline order.
func (t *Timeline) OfKind(kind EventKind) []ProvenanceEvent {
	if t == nil {
		return nil
	}
	var out []ProvenanceEvent
	for _, e := range t.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
