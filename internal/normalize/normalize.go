// Package normalize converts heterogeneous ledger records into
// ProvenanceEvents with a common timestamp and kind tag.
package normalize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/provenance-cli/internal/model"
)

// VerificationNodeLocation is the transfer location the ledger writes when a
// custody transfer doubles as a successful verification.
const VerificationNodeLocation = "Verification Node"

// DropReason explains why a record did not become an event.
type DropReason string

const (
	DropMissingTimestamp DropReason = "missing_timestamp"
	DropKindMismatch     DropReason = "kind_mismatch"
	DropNilRecord        DropReason = "nil_record"
	DropNotRegistered    DropReason = "product_not_registered"
	DropInvalidStatus    DropReason = "invalid_status"
)

// Report summarizes one Normalize call.
type Report struct {
	Kind      model.EventKind    `json:"kind"`
	Accepted  int                `json:"accepted"`
	Synthetic int                `json:"synthetic"`
	Dropped   int                `json:"dropped"`
	Reasons   map[DropReason]int `json:"reasons,omitempty"`
}

func (r *Report) drop(reason DropReason) {
	if r.Reasons == nil {
		r.Reasons = make(map[DropReason]int)
	}
	r.Dropped++
	r.Reasons[reason]++
}

// Issues renders dropped-record counts as data-quality messages, sorted for
// stable output.
func (r Report) Issues() []string {
	if r.Dropped == 0 {
		return nil
	}
	reasons := make([]string, 0, len(r.Reasons))
	for reason := range r.Reasons {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)

	out := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		out = append(out, fmt.Sprintf("%s: dropped %d record(s) (%s)", r.Kind, r.Reasons[DropReason(reason)], reason))
	}
	return out
}

// Records adapts a typed record slice to the RawRecord slice Normalize takes.
func Records[T model.RawRecord](in []T) []model.RawRecord {
	out := make([]model.RawRecord, len(in))
	for i := range in {
		out[i] = in[i]
	}
	return out
}

// Normalize converts records of one kind into events. Records without a
// usable timestamp, or of another kind, are dropped and counted; nothing is
// ever given a fabricated time. A custody transfer to the verification node
// location yields an extra synthetic verification outcome event.
func Normalize(records []model.RawRecord, kind model.EventKind) ([]model.ProvenanceEvent, Report) {
	rep := Report{Kind: kind}
	var events []model.ProvenanceEvent

	for i, rec := range records {
		if rec == nil {
			rep.drop(DropNilRecord)
			continue
		}
		if rec.RecordKind() != kind {
			rep.drop(DropKindMismatch)
			continue
		}

		var (
			evs    []model.ProvenanceEvent
			reason DropReason
		)
		switch r := rec.(type) {
		case model.ProductRecord:
			evs, reason = fromProduct(&r, i)
		case *model.ProductRecord:
			evs, reason = fromProduct(r, i)
		case model.CustodyTransferRecord:
			evs, reason = fromTransfer(&r, i)
		case *model.CustodyTransferRecord:
			evs, reason = fromTransfer(r, i)
		case model.VerificationRecord:
			evs, reason = fromVerification(&r, i)
		case *model.VerificationRecord:
			evs, reason = fromVerification(r, i)
		case model.DisputeRecord:
			evs, reason = fromDispute(&r, i)
		case *model.DisputeRecord:
			evs, reason = fromDispute(r, i)
		case model.AttestationRecord:
			evs, reason = fromAttestation(&r, i)
		case *model.AttestationRecord:
			evs, reason = fromAttestation(r, i)
		default:
			reason = DropKindMismatch
		}

		if reason != "" {
			rep.drop(reason)
			continue
		}
		rep.Accepted++
		rep.Synthetic += len(evs) - 1
		events = append(events, evs...)
	}

	return events, rep
}

// IsVerificationNode reports whether a transfer location is the sentinel.
// Locations are NFC-normalized and trimmed; the comparison is exact.
func IsVerificationNode(location string) bool {
	return norm.NFC.String(strings.TrimSpace(location)) == VerificationNodeLocation
}

func unixTime(ts int64) (time.Time, bool) {
	if ts <= 0 {
		return time.Time{}, false
	}
	return time.Unix(ts, 0).UTC(), true
}

func fromProduct(r *model.ProductRecord, order int) ([]model.ProvenanceEvent, DropReason) {
	if r == nil {
		return nil, DropNilRecord
	}
	if !r.Exists {
		return nil, DropNotRegistered
	}
	ts, ok := unixTime(r.RegisteredAt)
	if !ok {
		return nil, DropMissingTimestamp
	}
	return []model.ProvenanceEvent{{
		Kind:         model.EventRegistration,
		Timestamp:    ts,
		Actor:        r.Manufacturer,
		SourceOrder:  order,
		Registration: &model.RegistrationPayload{MetadataURI: r.MetadataURI},
	}}, ""
}

func fromTransfer(r *model.CustodyTransferRecord, order int) ([]model.ProvenanceEvent, DropReason) {
	if r == nil {
		return nil, DropNilRecord
	}
	ts, ok := unixTime(r.Timestamp)
	if !ok {
		return nil, DropMissingTimestamp
	}
	transfer := model.ProvenanceEvent{
		Kind:         model.EventCustodyTransfer,
		Timestamp:    ts,
		Actor:        r.From,
		Counterparty: r.To,
		SourceOrder:  order,
		Transfer: &model.TransferPayload{
			Location:         r.Location,
			VerificationHash: r.VerificationHash,
		},
	}
	if !IsVerificationNode(r.Location) {
		return []model.ProvenanceEvent{transfer}, ""
	}
	verified := model.ProvenanceEvent{
		Kind:         model.EventVerificationOutcome,
		Timestamp:    ts,
		Actor:        r.From,
		Counterparty: r.To,
		SourceOrder:  order,
		Verification: &model.VerificationPayload{
			RequestID: r.VerificationHash,
			Success:   true,
			Synthetic: true,
		},
	}
	return []model.ProvenanceEvent{transfer, verified}, ""
}

func fromVerification(r *model.VerificationRecord, order int) ([]model.ProvenanceEvent, DropReason) {
	if r == nil {
		return nil, DropNilRecord
	}
	ts, ok := unixTime(r.Timestamp)
	if !ok {
		return nil, DropMissingTimestamp
	}
	return []model.ProvenanceEvent{{
		Kind:         model.EventVerificationOutcome,
		Timestamp:    ts,
		Actor:        r.Verifier,
		Counterparty: r.Requester,
		SourceOrder:  order,
		Verification: &model.VerificationPayload{
			RequestID: r.RequestID,
			Success:   r.Result,
			Fee:       r.Fee,
			Requester: r.Requester,
		},
	}}, ""
}

func fromDispute(r *model.DisputeRecord, order int) ([]model.ProvenanceEvent, DropReason) {
	if r == nil {
		return nil, DropNilRecord
	}
	ts, ok := unixTime(r.CreatedAt)
	if !ok {
		return nil, DropMissingTimestamp
	}
	if !r.Status.Valid() {
		return nil, DropInvalidStatus
	}
	status := r.Status
	if status == "" {
		status = model.DisputeOpen
	}
	payload := &model.DisputePayload{
		DisputeID:    r.DisputeID,
		Description:  r.Description,
		Status:       status,
		VotesFor:     r.VotesFor,
		VotesAgainst: r.VotesAgainst,
	}
	if resolved, ok := unixTime(r.ResolvedAt); ok {
		payload.ResolvedAt = &resolved
	}
	return []model.ProvenanceEvent{{
		Kind:         model.EventDispute,
		Timestamp:    ts,
		Actor:        r.Initiator,
		Counterparty: r.Respondent,
		SourceOrder:  order,
		Dispute:      payload,
	}}, ""
}

func fromAttestation(r *model.AttestationRecord, order int) ([]model.ProvenanceEvent, DropReason) {
	if r == nil {
		return nil, DropNilRecord
	}
	ts, ok := unixTime(r.Timestamp)
	if !ok {
		return nil, DropMissingTimestamp
	}
	return []model.ProvenanceEvent{{
		Kind:        model.EventOracleAttestation,
		Timestamp:   ts,
		Actor:       r.Signer,
		SourceOrder: order,
		Attestation: &model.AttestationPayload{
			RequestID:   r.RequestID,
			Verdict:     r.Verdict,
			Weight:      r.Weight,
			EvidenceURI: r.EvidenceURI,
		},
	}}, ""
}
