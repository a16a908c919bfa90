package model

// RawRecord is a record as returned by the ledger query layer, before
// normalization. Each record type reports the event kind it normalizes to.
type RawRecord interface {
	RecordKind() EventKind
}

// ProductRecord is the result of getProduct. Timestamps throughout this file
// are unix seconds taken from the ledger; zero means the value is unknown.
type ProductRecord struct {
	ProductID    string        `json:"product_id" yaml:"product_id"`
	Manufacturer string        `json:"manufacturer" yaml:"manufacturer"`
	CurrentOwner string        `json:"current_owner" yaml:"current_owner"`
	Status       ProductStatus `json:"status" yaml:"status"`
	RegisteredAt int64         `json:"registered_at" yaml:"registered_at"`
	MetadataURI  string        `json:"metadata_uri" yaml:"metadata_uri"`
	Exists       bool          `json:"exists" yaml:"exists"`
}

// RecordKind implements RawRecord.
func (ProductRecord) RecordKind() EventKind { return EventRegistration }

// CustodyTransferRecord is one entry of getProductHistory.
type CustodyTransferRecord struct {
	From             string `json:"from" yaml:"from"`
	To               string `json:"to" yaml:"to"`
	Timestamp        int64  `json:"timestamp" yaml:"timestamp"`
	Location         string `json:"location" yaml:"location"`
	VerificationHash string `json:"verification_hash" yaml:"verification_hash"`
}

// RecordKind implements RawRecord.
func (CustodyTransferRecord) RecordKind() EventKind { return EventCustodyTransfer }

// VerificationRecord is a verification-attempt log entry.
type VerificationRecord struct {
	RequestID string `json:"request_id" yaml:"request_id"`
	ProductID string `json:"product_id" yaml:"product_id"`
	Verifier  string `json:"verifier" yaml:"verifier"`
	Result    bool   `json:"result" yaml:"result"`
	Requester string `json:"requester" yaml:"requester"`
	Fee       string `json:"fee" yaml:"fee"`
	Timestamp int64  `json:"timestamp" yaml:"timestamp"`
}

// RecordKind implements RawRecord.
func (VerificationRecord) RecordKind() EventKind { return EventVerificationOutcome }

// DisputeRecord is a dispute log entry. ResolvedAt is zero while open.
type DisputeRecord struct {
	DisputeID    string        `json:"dispute_id" yaml:"dispute_id"`
	ProductID    string        `json:"product_id" yaml:"product_id"`
	Initiator    string        `json:"initiator" yaml:"initiator"`
	Respondent   string        `json:"respondent" yaml:"respondent"`
	Description  string        `json:"description" yaml:"description"`
	Status       DisputeStatus `json:"status" yaml:"status"`
	CreatedAt    int64         `json:"created_at" yaml:"created_at"`
	ResolvedAt   int64         `json:"resolved_at" yaml:"resolved_at"`
	VotesFor     uint64        `json:"votes_for" yaml:"votes_for"`
	VotesAgainst uint64        `json:"votes_against" yaml:"votes_against"`
}

// RecordKind implements RawRecord.
func (DisputeRecord) RecordKind() EventKind { return EventDispute }

// AttestationRecord is an oracle attestation log entry.
type AttestationRecord struct {
	RequestID   string  `json:"request_id" yaml:"request_id"`
	ProductID   string  `json:"product_id" yaml:"product_id"`
	Signer      string  `json:"signer" yaml:"signer"`
	Verdict     bool    `json:"verdict" yaml:"verdict"`
	Weight      float64 `json:"weight" yaml:"weight"`
	EvidenceURI string  `json:"evidence_uri" yaml:"evidence_uri"`
	Timestamp   int64   `json:"timestamp" yaml:"timestamp"`
}

// RecordKind implements RawRecord.
func (AttestationRecord) RecordKind() EventKind { return EventOracleAttestation }

// ReputationScore is a counterparty reputation on the ledger's 0-1000 scale.
type ReputationScore struct {
	Identity string  `json:"identity"`
	Value    float64 `json:"value"`
}

// MaxReputation is the top of the reputation scale.
const MaxReputation = 1000.0
