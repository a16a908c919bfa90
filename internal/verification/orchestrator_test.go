package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/provenance-cli/internal/config"
	"github.com/sells-group/provenance-cli/internal/events"
	"github.com/sells-group/provenance-cli/internal/model"
	"github.com/sells-group/provenance-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type published struct {
	topic string
	event events.RequestEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, event: event.(events.RequestEvent)})
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.topic)
	}
	return out
}

func sequentialIDs() func() (string, error) {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("vr-%d", n), nil
	}
}

var defaults = config.VerificationConfig{ApproveThreshold: 2, RejectThreshold: 2, TimeoutHours: 72}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeClock, *recordingPublisher) {
	t.Helper()
	clock := &fakeClock{now: t0}
	pub := &recordingPublisher{}
	o := New(store.NewMemory(), defaults,
		WithClock(clock.Now),
		WithIDGenerator(sequentialIDs()),
		WithPublisher(pub),
	)
	return o, clock, pub
}

func openThreeNode(t *testing.T, o *Orchestrator) *model.VerificationRequest {
	t.Helper()
	req, err := o.Open(context.Background(), OpenParams{
		ProductID: "p1",
		Eligible:  []string{"node-a", "node-b", "node-c"},
	})
	require.NoError(t, err)
	return req
}

func TestOpen_Defaults(t *testing.T) {
	o, _, pub := newTestOrchestrator(t)
	req := openThreeNode(t, o)

	assert.Equal(t, "vr-1", req.ID)
	assert.Equal(t, model.RequestPending, req.State)
	assert.Equal(t, model.RequestVerification, req.Kind)
	assert.Equal(t, 2, req.ApproveThreshold)
	assert.Equal(t, 2, req.RejectThreshold)
	assert.Equal(t, 72*time.Hour, req.Timeout)
	assert.Equal(t, t0, req.CreatedAt)
	assert.Equal(t, []string{events.TopicRequestOpened}, pub.topics())

	stored, err := o.Get(context.Background(), "vr-1")
	require.NoError(t, err)
	assert.Equal(t, req.Eligible, stored.Eligible)
	assert.Empty(t, stored.Votes)
}

func TestOpen_DedupesEligible(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	req, err := o.Open(context.Background(), OpenParams{
		ProductID:        "p1",
		Kind:             model.RequestDispute,
		Eligible:         []string{"arb-1", " arb-2 ", "arb-1", ""},
		ApproveThreshold: 1,
		RejectThreshold:  1,
		Timeout:          time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"arb-1", "arb-2"}, req.Eligible)
	assert.Equal(t, model.RequestDispute, req.Kind)
	assert.Equal(t, time.Hour, req.Timeout)
}

func TestOpen_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		params  OpenParams
		wantErr string
	}{
		{"no product", OpenParams{Eligible: []string{"a"}, ApproveThreshold: 1, RejectThreshold: 1}, "product id is required"},
		{"no eligible", OpenParams{ProductID: "p1", Eligible: []string{" "}}, "at least one eligible voter"},
		{"bad kind", OpenParams{ProductID: "p1", Kind: "audit", Eligible: []string{"a"}}, `unknown request kind "audit"`},
		{"threshold above voters", OpenParams{ProductID: "p1", Eligible: []string{"a"}, ApproveThreshold: 1}, "reject threshold 2 must be between 1 and 1"},
		{"negative threshold", OpenParams{ProductID: "p1", Eligible: []string{"a", "b"}, ApproveThreshold: -1}, "approve threshold -1"},
		{"negative timeout", OpenParams{ProductID: "p1", Eligible: []string{"a", "b"}, Timeout: -time.Second}, "timeout must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _, pub := newTestOrchestrator(t)
			_, err := o.Open(context.Background(), tt.params)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
			assert.Empty(t, pub.topics())
		})
	}
}

func TestOpen_IDGeneratorError(t *testing.T) {
	o := New(store.NewMemory(), defaults, WithIDGenerator(func() (string, error) {
		return "", errors.New("entropy exhausted")
	}))
	_, err := o.Open(context.Background(), OpenParams{ProductID: "p1", Eligible: []string{"a", "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification: request id")
}

func TestSubmitVote_TwoOfThreeApproves(t *testing.T) {
	o, clock, pub := newTestOrchestrator(t)
	ctx := context.Background()
	req := openThreeNode(t, o)

	state, err := o.SubmitVote(ctx, req.ID, "node-a", true)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, state)

	clock.Advance(time.Minute)
	state, err = o.SubmitVote(ctx, req.ID, "node-b", true)
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, state)

	// The third eligible approval and any later vote find the request resolved.
	state, err = o.SubmitVote(ctx, req.ID, "node-c", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAlreadyResolved))
	assert.Equal(t, model.RequestApproved, state)

	_, err = o.SubmitVote(ctx, req.ID, "node-a", false)
	assert.Equal(t, model.KindAlreadyResolved, model.KindOf(err))

	got, err := o.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, got.Votes, 2)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, t0.Add(time.Minute), *got.ResolvedAt)

	assert.Equal(t, []string{
		events.TopicRequestOpened,
		events.TopicVoteCast,
		events.TopicRequestApproved,
	}, pub.topics())
}

func TestSubmitVote_Rejects(t *testing.T) {
	o, _, pub := newTestOrchestrator(t)
	ctx := context.Background()
	req := openThreeNode(t, o)

	_, err := o.SubmitVote(ctx, req.ID, "node-a", true)
	require.NoError(t, err)
	state, err := o.SubmitVote(ctx, req.ID, "node-b", false)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, state)
	state, err = o.SubmitVote(ctx, req.ID, "node-c", false)
	require.NoError(t, err)
	assert.Equal(t, model.RequestRejected, state)

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, events.TopicRequestRejected, last.topic)
	assert.Equal(t, model.RequestPending, last.event.From)
	assert.Equal(t, model.RequestRejected, last.event.To)
	assert.Equal(t, "node-c", last.event.Voter)
	require.NotNil(t, last.event.Approve)
	assert.False(t, *last.event.Approve)
}

func TestSubmitVote_Failures(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	req := openThreeNode(t, o)
	_, err := o.SubmitVote(ctx, req.ID, "node-a", true)
	require.NoError(t, err)

	tests := []struct {
		name      string
		requestID string
		voter     string
		want      error
		kind      model.ErrorKind
	}{
		{"unknown request", "vr-missing", "node-a", model.ErrNotFound, model.KindNotFound},
		{"ineligible voter", req.ID, "mallory", model.ErrAuthorizationDenied, model.KindAuthorizationDenied},
		{"duplicate vote", req.ID, "node-a", model.ErrDuplicateVote, model.KindConflict},
		{"duplicate vote after trim", req.ID, " node-a ", model.ErrDuplicateVote, model.KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.SubmitVote(ctx, tt.requestID, tt.voter, false)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
			assert.Equal(t, tt.kind, model.KindOf(err))
		})
	}

	// Rejected ballots were not counted.
	got, err := o.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, got.Votes, 1)
	assert.Equal(t, model.RequestPending, got.State)
}

func TestSubmitVote_LateVoteStillCounts(t *testing.T) {
	o, clock, _ := newTestOrchestrator(t)
	ctx := context.Background()
	req := openThreeNode(t, o)

	clock.Advance(100 * time.Hour)
	_, err := o.SubmitVote(ctx, req.ID, "node-a", true)
	require.NoError(t, err)
	state, err := o.SubmitVote(ctx, req.ID, "node-b", true)
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, state)
}

func TestSubmitVote_PublishFailureKeepsTransition(t *testing.T) {
	o, _, pub := newTestOrchestrator(t)
	ctx := context.Background()
	req := openThreeNode(t, o)
	pub.err = errors.New("nats: connection closed")

	_, err := o.SubmitVote(ctx, req.ID, "node-a", true)
	require.NoError(t, err)
	got, err := o.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, got.Votes, 1)
}

func TestResolveExpired(t *testing.T) {
	o, clock, pub := newTestOrchestrator(t)
	ctx := context.Background()
	req := openThreeNode(t, o)

	state, err := o.ResolveExpired(ctx, req.ID)
	assert.True(t, errors.Is(err, model.ErrNotExpired))
	assert.Equal(t, model.RequestPending, state)

	// Exactly at the deadline is not yet past it.
	clock.Advance(72 * time.Hour)
	_, err = o.ResolveExpired(ctx, req.ID)
	assert.True(t, errors.Is(err, model.ErrNotExpired))

	clock.Advance(time.Second)
	state, err = o.ResolveExpired(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestExpired, state)

	_, err = o.ResolveExpired(ctx, req.ID)
	assert.True(t, errors.Is(err, model.ErrAlreadyResolved))

	_, err = o.SubmitVote(ctx, req.ID, "node-a", true)
	assert.True(t, errors.Is(err, model.ErrAlreadyResolved))

	_, err = o.ResolveExpired(ctx, "vr-missing")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	assert.Equal(t, events.TopicRequestExpired, pub.topics()[len(pub.topics())-1])
}

func TestResolveExpired_ApprovedRequest(t *testing.T) {
	o, clock, _ := newTestOrchestrator(t)
	ctx := context.Background()
	req := openThreeNode(t, o)
	_, _ = o.SubmitVote(ctx, req.ID, "node-a", true)
	_, _ = o.SubmitVote(ctx, req.ID, "node-b", true)

	clock.Advance(1000 * time.Hour)
	state, err := o.ResolveExpired(ctx, req.ID)
	assert.True(t, errors.Is(err, model.ErrAlreadyResolved))
	assert.Equal(t, model.RequestApproved, state)
}

func TestSweepExpired(t *testing.T) {
	o, clock, _ := newTestOrchestrator(t)
	ctx := context.Background()

	first := openThreeNode(t, o) // 72h
	clock.Advance(time.Hour)
	short, err := o.Open(ctx, OpenParams{ProductID: "p2", Eligible: []string{"a", "b"}, Timeout: time.Hour})
	require.NoError(t, err)
	resolved := openThreeNode(t, o)
	_, _ = o.SubmitVote(ctx, resolved.ID, "node-a", true)
	_, _ = o.SubmitVote(ctx, resolved.ID, "node-b", true)
	fresh, err := o.Open(ctx, OpenParams{ProductID: "p3", Eligible: []string{"a"}, ApproveThreshold: 1, RejectThreshold: 1, Timeout: 500 * time.Hour})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	ids, err := o.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{short.ID}, ids)

	clock.Advance(72 * time.Hour)
	ids, err = o.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, ids)

	got, err := o.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.State)
}

func TestSweepExpired_Pages(t *testing.T) {
	o, clock, _ := newTestOrchestrator(t)
	ctx := context.Background()
	for i := 0; i < sweepPageSize+5; i++ {
		_, err := o.Open(ctx, OpenParams{ProductID: "p1", Eligible: []string{"a"}, ApproveThreshold: 1, RejectThreshold: 1, Timeout: time.Minute})
		require.NoError(t, err)
	}
	clock.Advance(time.Hour)

	ids, err := o.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, sweepPageSize+5)

	pending, err := o.List(ctx, store.RequestFilter{State: model.RequestPending})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSubmitVote_ConcurrentVotersCountedOnce(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	voters := []string{"v1", "v2", "v3", "v4", "v5", "v6", "v7", "v8"}
	req, err := o.Open(ctx, OpenParams{ProductID: "p1", Eligible: voters, ApproveThreshold: 8, RejectThreshold: 8})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, v := range voters {
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(voter string) {
				defer wg.Done()
				_, _ = o.SubmitVote(ctx, req.ID, voter, true)
			}(v)
		}
	}
	wg.Wait()

	got, err := o.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, got.Votes, len(voters))
	assert.Equal(t, model.RequestApproved, got.State)
	assert.Equal(t, 0, o.locks.size())
}

// interleavedStore holds the first n reads until all n have arrived, so
// separate orchestrators over one store all act on the same snapshot.
type interleavedStore struct {
	store.RequestStore
	mu      sync.Mutex
	pending int
	ready   chan struct{}
}

func newInterleavedStore(st store.RequestStore, n int) *interleavedStore {
	return &interleavedStore{RequestStore: st, pending: n, ready: make(chan struct{})}
}

func (s *interleavedStore) GetRequest(ctx context.Context, id string) (*model.VerificationRequest, error) {
	s.mu.Lock()
	hold := s.pending > 0
	if hold {
		s.pending--
		if s.pending == 0 {
			close(s.ready)
		}
	}
	s.mu.Unlock()
	req, err := s.RequestStore.GetRequest(ctx, id)
	if hold {
		<-s.ready
	}
	return req, err
}

func TestSubmitVote_SeparateOrchestratorsKeepResolution(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	shared := newInterleavedStore(mem, 2)

	opener := New(mem, defaults, WithClock(func() time.Time { return t0 }), WithIDGenerator(sequentialIDs()))
	req, err := opener.Open(ctx, OpenParams{
		ProductID:        "p1",
		Eligible:         []string{"node-a", "node-b", "node-c"},
		ApproveThreshold: 1,
		RejectThreshold:  2,
	})
	require.NoError(t, err)

	first := New(shared, defaults, WithClock(func() time.Time { return t0 }))
	second := New(shared, defaults, WithClock(func() time.Time { return t0 }))

	var (
		wg                    sync.WaitGroup
		approveErr, rejectErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, approveErr = first.SubmitVote(ctx, req.ID, "node-a", true)
	}()
	go func() {
		defer wg.Done()
		_, rejectErr = second.SubmitVote(ctx, req.ID, "node-b", false)
	}()
	wg.Wait()

	require.NoError(t, approveErr)
	got, err := mem.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, got.State)
	require.NotNil(t, got.ResolvedAt)

	voters := map[string]bool{}
	for _, v := range got.Votes {
		voters[v.Voter] = v.Approve
	}
	assert.Contains(t, voters, "node-a")
	// The rejecting vote either landed before the approval or was refused
	// because the request had already resolved. It is never silently lost.
	if rejectErr != nil {
		assert.True(t, errors.Is(rejectErr, model.ErrAlreadyResolved))
		assert.Len(t, got.Votes, 1)
	} else {
		assert.Len(t, got.Votes, 2)
		assert.Contains(t, voters, "node-b")
	}
}

type staleStore struct {
	store.RequestStore
	updates int
}

func (s *staleStore) UpdateRequest(_ context.Context, req *model.VerificationRequest) error {
	s.updates++
	return eris.Wrapf(model.ErrStaleWrite, "memory: update request %s", req.ID)
}

func TestSubmitVote_GivesUpAfterRepeatedStaleWrites(t *testing.T) {
	ctx := context.Background()
	o, _, pub := newTestOrchestrator(t)
	req := openThreeNode(t, o)

	st := &staleStore{RequestStore: o.store}
	o.store = st

	state, err := o.SubmitVote(ctx, req.ID, "node-a", true)
	require.Error(t, err)
	assert.Equal(t, model.KindConflict, model.KindOf(err))
	assert.Equal(t, model.RequestPending, state)
	assert.Equal(t, staleWriteAttempts, st.updates)
	assert.Equal(t, []string{events.TopicRequestOpened}, pub.topics())

	_, err = o.ResolveExpired(ctx, req.ID)
	assert.True(t, errors.Is(err, model.ErrNotExpired))
}

func TestList(t *testing.T) {
	o, clock, _ := newTestOrchestrator(t)
	ctx := context.Background()
	openThreeNode(t, o)
	clock.Advance(time.Minute)
	_, err := o.Open(ctx, OpenParams{ProductID: "p2", Eligible: []string{"a", "b"}})
	require.NoError(t, err)

	all, err := o.List(ctx, store.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "p2", all[0].ProductID)

	p1, err := o.List(ctx, store.RequestFilter{ProductID: "p1"})
	require.NoError(t, err)
	require.Len(t, p1, 1)
}
