// Package timeline merges normalized provenance events from every source into
// one ordered, de-duplicated timeline per product.
package timeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/provenance-cli/internal/model"
)

// eventNamespace seeds the deterministic event ids.
var eventNamespace = uuid.MustParse("8d1c7f0e-4b5a-4f5e-9a62-3f0f2c8e6b11")

// ContentKey identifies an event by what it says rather than where it came
// from: kind, actor, timestamp and a hash of counterparty plus payload.
func ContentKey(e model.ProvenanceEvent) string {
	h := sha256.New()
	h.Write([]byte(e.Counterparty))
	h.Write([]byte{0})
	if p := e.Payload(); p != nil {
		// Payload types are plain structs; Marshal cannot fail on them.
		b, _ := json.Marshal(p)
		h.Write(b)
	}
	return strings.Join([]string{
		string(e.Kind),
		e.Actor,
		strconv.FormatInt(e.Timestamp.UnixNano(), 10),
		hex.EncodeToString(h.Sum(nil)),
	}, "|")
}

// Merge concatenates the batches, drops duplicate events and sorts the rest
// by timestamp. Ties are broken by kind rank, source order and content key,
// so the result does not depend on batch order and merging a timeline's own
// events again yields the same timeline.
//
// A timeline without a registration event cannot be aged and is rejected
// with model.ErrDataIncomplete.
func Merge(productID string, batches [][]model.ProvenanceEvent, now time.Time) (*model.Timeline, error) {
	type keyed struct {
		key string
		ev  model.ProvenanceEvent
	}

	// Duplicates keep the lowest source order seen for their key.
	seen := make(map[string]int)
	var all []keyed
	for _, batch := range batches {
		for _, ev := range batch {
			if !ev.Kind.Valid() || ev.Timestamp.IsZero() {
				continue
			}
			key := ContentKey(ev)
			ev.ID = uuid.NewSHA1(eventNamespace, []byte(productID+"|"+key)).String()
			if i, dup := seen[key]; dup {
				if ev.SourceOrder < all[i].ev.SourceOrder {
					all[i].ev = ev
				}
				continue
			}
			seen[key] = len(all)
			all = append(all, keyed{key: key, ev: ev})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].ev, all[j].ev
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Kind.Rank() != b.Kind.Rank() {
			return a.Kind.Rank() < b.Kind.Rank()
		}
		if a.SourceOrder != b.SourceOrder {
			return a.SourceOrder < b.SourceOrder
		}
		return all[i].key < all[j].key
	})

	tl := &model.Timeline{
		ProductID: productID,
		Events:    make([]model.ProvenanceEvent, len(all)),
	}
	for i := range all {
		tl.Events[i] = all[i].ev
	}

	agg, err := Aggregate(tl.Events, now)
	if err != nil {
		return nil, eris.Wrapf(err, "timeline: merge product %s", productID)
	}
	tl.Aggregates = agg
	return tl, nil
}

// Aggregate computes the derived counts for time-ordered events. Age runs
// from the earliest registration to now in fractional days and never goes
// negative.
func Aggregate(events []model.ProvenanceEvent, now time.Time) (model.Aggregates, error) {
	var agg model.Aggregates
	registered := false

	for i := range events {
		e := &events[i]
		switch e.Kind {
		case model.EventRegistration:
			if !registered || e.Timestamp.Before(agg.RegisteredAt) {
				agg.RegisteredAt = e.Timestamp
			}
			registered = true
		case model.EventCustodyTransfer:
			agg.TransferCount++
		case model.EventVerificationOutcome:
			if e.Verification != nil && e.Verification.Success {
				agg.VerificationCount++
			} else {
				agg.FailedVerificationCount++
			}
		case model.EventDispute:
			agg.DisputeCount++
			if e.Dispute != nil && e.Dispute.Open() {
				agg.OpenDisputeCount++
			}
		case model.EventOracleAttestation:
			agg.AttestationCount++
		}
	}

	if !registered {
		return model.Aggregates{}, eris.Wrap(model.ErrDataIncomplete, "timeline: no registration event")
	}

	first := events[0].Timestamp
	last := events[len(events)-1].Timestamp
	agg.FirstEventAt = &first
	agg.LastEventAt = &last
	agg.AgeInDays = math.Max(0, now.Sub(agg.RegisteredAt).Hours()/24)
	return agg, nil
}

// CheckConsistency compares a ledger snapshot with the merged timeline and
// returns every mismatch as a data-quality message. Nothing is corrected.
func CheckConsistency(tl *model.Timeline, snap *model.ProductSnapshot) []string {
	if tl == nil || snap == nil {
		return nil
	}
	var issues []string

	if tl.Aggregates.OpenDisputeCount > 0 && snap.Status != model.StatusDisputed {
		issues = append(issues, "status "+string(snap.Status)+" but timeline has an open dispute")
	}
	if snap.Status == model.StatusDisputed && tl.Aggregates.DisputeCount == 0 {
		issues = append(issues, "status disputed but timeline has no dispute events")
	}
	if last := tl.Last(model.EventCustodyTransfer); last != nil && snap.CurrentOwner != "" &&
		!strings.EqualFold(last.Counterparty, snap.CurrentOwner) {
		issues = append(issues, "current owner "+snap.CurrentOwner+" differs from last transfer recipient "+last.Counterparty)
	}
	if !snap.RegisteredAt.IsZero() && !tl.Aggregates.RegisteredAt.IsZero() &&
		!snap.RegisteredAt.Equal(tl.Aggregates.RegisteredAt) {
		issues = append(issues, "registration time "+snap.RegisteredAt.Format(time.RFC3339)+
			" differs from registration event "+tl.Aggregates.RegisteredAt.Format(time.RFC3339))
	}
	return issues
}
