package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provenance-cli/internal/config"
	"github.com/sells-group/provenance-cli/internal/model"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

func newRequest(id, productID string, created time.Time) *model.VerificationRequest {
	return &model.VerificationRequest{
		ID:               id,
		ProductID:        productID,
		Kind:             model.RequestVerification,
		State:            model.RequestPending,
		Eligible:         []string{"node-a", "node-b", "node-c"},
		ApproveThreshold: 2,
		RejectThreshold:  2,
		CreatedAt:        created,
		Timeout:          72 * time.Hour,
	}
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// forEachStore runs fn against every in-process implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, st RequestStore)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestSQLiteStore(t)) })
}

func TestStore_CreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, st RequestStore) {
		ctx := context.Background()
		req := newRequest("vr-1", "p1", baseTime)
		require.NoError(t, st.CreateRequest(ctx, req))

		got, err := st.GetRequest(ctx, "vr-1")
		require.NoError(t, err)
		assert.Equal(t, "p1", got.ProductID)
		assert.Equal(t, model.RequestVerification, got.Kind)
		assert.Equal(t, model.RequestPending, got.State)
		assert.Equal(t, []string{"node-a", "node-b", "node-c"}, got.Eligible)
		assert.Equal(t, 2, got.ApproveThreshold)
		assert.Equal(t, 72*time.Hour, got.Timeout)
		assert.True(t, baseTime.Equal(got.CreatedAt))
		assert.Empty(t, got.Votes)
		assert.Nil(t, got.ResolvedAt)
	})
}

func TestStore_GetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, st RequestStore) {
		_, err := st.GetRequest(context.Background(), "vr-missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrNotFound))
		assert.Equal(t, model.KindNotFound, model.KindOf(err))
	})
}

func TestStore_DuplicateCreate(t *testing.T) {
	forEachStore(t, func(t *testing.T, st RequestStore) {
		ctx := context.Background()
		require.NoError(t, st.CreateRequest(ctx, newRequest("vr-1", "p1", baseTime)))
		assert.Error(t, st.CreateRequest(ctx, newRequest("vr-1", "p1", baseTime)))
	})
}

func TestStore_UpdateVotesAndResolution(t *testing.T) {
	forEachStore(t, func(t *testing.T, st RequestStore) {
		ctx := context.Background()
		req := newRequest("vr-1", "p1", baseTime)
		require.NoError(t, st.CreateRequest(ctx, req))

		resolved := baseTime.Add(time.Hour)
		req.Votes = []model.Vote{
			{Voter: "node-a", Approve: true, CastAt: baseTime.Add(time.Minute)},
			{Voter: "node-b", Approve: true, CastAt: resolved},
		}
		req.State = model.RequestApproved
		req.ResolvedAt = &resolved
		require.NoError(t, st.UpdateRequest(ctx, req))

		got, err := st.GetRequest(ctx, "vr-1")
		require.NoError(t, err)
		assert.Equal(t, model.RequestApproved, got.State)
		require.Len(t, got.Votes, 2)
		assert.Equal(t, "node-b", got.Votes[1].Voter)
		require.NotNil(t, got.ResolvedAt)
		assert.True(t, resolved.Equal(*got.ResolvedAt))
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, int64(1), req.Version)
	})
}

func TestStore_UpdateFromStaleReadIsRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, st RequestStore) {
		ctx := context.Background()
		require.NoError(t, st.CreateRequest(ctx, newRequest("vr-1", "p1", baseTime)))

		// Two writers read the same pending version.
		first, err := st.GetRequest(ctx, "vr-1")
		require.NoError(t, err)
		second, err := st.GetRequest(ctx, "vr-1")
		require.NoError(t, err)

		first.Votes = append(first.Votes, model.Vote{Voter: "node-a", Approve: true, CastAt: baseTime})
		require.NoError(t, st.UpdateRequest(ctx, first))

		second.Votes = append(second.Votes, model.Vote{Voter: "node-b", Approve: false, CastAt: baseTime})
		err = st.UpdateRequest(ctx, second)
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrStaleWrite))
		assert.Equal(t, model.KindConflict, model.KindOf(err))
		assert.Equal(t, int64(0), second.Version)

		got, err := st.GetRequest(ctx, "vr-1")
		require.NoError(t, err)
		require.Len(t, got.Votes, 1)
		assert.Equal(t, "node-a", got.Votes[0].Voter)
	})
}

func TestStore_UpdateAfterTerminalIsRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, st RequestStore) {
		ctx := context.Background()
		require.NoError(t, st.CreateRequest(ctx, newRequest("vr-1", "p1", baseTime)))

		winner, err := st.GetRequest(ctx, "vr-1")
		require.NoError(t, err)
		loser, err := st.GetRequest(ctx, "vr-1")
		require.NoError(t, err)

		resolved := baseTime.Add(time.Hour)
		winner.State = model.RequestApproved
		winner.ResolvedAt = &resolved
		require.NoError(t, st.UpdateRequest(ctx, winner))

		// Neither a stale pending write nor a write carrying the current
		// version may reopen a terminal request.
		err = st.UpdateRequest(ctx, loser)
		assert.True(t, errors.Is(err, model.ErrAlreadyResolved))

		reopen, err := st.GetRequest(ctx, "vr-1")
		require.NoError(t, err)
		reopen.State = model.RequestPending
		reopen.ResolvedAt = nil
		err = st.UpdateRequest(ctx, reopen)
		assert.True(t, errors.Is(err, model.ErrAlreadyResolved))

		got, err := st.GetRequest(ctx, "vr-1")
		require.NoError(t, err)
		assert.Equal(t, model.RequestApproved, got.State)
		assert.Equal(t, int64(1), got.Version)
	})
}

func TestStore_UpdateMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, st RequestStore) {
		err := st.UpdateRequest(context.Background(), newRequest("vr-missing", "p1", baseTime))
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrNotFound))
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	forEachStore(t, func(t *testing.T, st RequestStore) {
		ctx := context.Background()
		req := newRequest("vr-1", "p1", baseTime)
		require.NoError(t, st.CreateRequest(ctx, req))
		req.Eligible[0] = "mutated"

		got, err := st.GetRequest(ctx, "vr-1")
		require.NoError(t, err)
		got.Votes = append(got.Votes, model.Vote{Voter: "node-a"})

		again, err := st.GetRequest(ctx, "vr-1")
		require.NoError(t, err)
		assert.Equal(t, "node-a", again.Eligible[0])
		assert.Empty(t, again.Votes)
	})
}

func TestStore_ListRequests(t *testing.T) {
	forEachStore(t, func(t *testing.T, st RequestStore) {
		ctx := context.Background()
		for i, id := range []string{"vr-1", "vr-2", "vr-3", "vr-4"} {
			product := "p1"
			if i%2 == 1 {
				product = "p2"
			}
			require.NoError(t, st.CreateRequest(ctx, newRequest(id, product, baseTime.Add(time.Duration(i)*time.Minute))))
		}
		done, err := st.GetRequest(ctx, "vr-3")
		require.NoError(t, err)
		done.State = model.RequestRejected
		require.NoError(t, st.UpdateRequest(ctx, done))

		tests := []struct {
			name   string
			filter RequestFilter
			want   []string
		}{
			{"all newest first", RequestFilter{}, []string{"vr-4", "vr-3", "vr-2", "vr-1"}},
			{"by product", RequestFilter{ProductID: "p1"}, []string{"vr-3", "vr-1"}},
			{"by state", RequestFilter{State: model.RequestPending}, []string{"vr-4", "vr-2", "vr-1"}},
			{"product and state", RequestFilter{ProductID: "p1", State: model.RequestRejected}, []string{"vr-3"}},
			{"limit", RequestFilter{Limit: 2}, []string{"vr-4", "vr-3"}},
			{"offset", RequestFilter{Limit: 2, Offset: 3}, []string{"vr-1"}},
			{"offset past end", RequestFilter{Offset: 10}, nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := st.ListRequests(ctx, tt.filter)
				require.NoError(t, err)
				var ids []string
				for _, r := range got {
					ids = append(ids, r.ID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	cfg := &config.Config{}
	cfg.Verification.StoreDriver = "memory"
	st, err := Open(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)
	require.NoError(t, st.Close())

	cfg.Verification.StoreDriver = "sqlite"
	cfg.Verification.StorePath = filepath.Join(t.TempDir(), "open.db")
	st, err = Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, st.CreateRequest(ctx, newRequest("vr-1", "p1", baseTime)))
	require.NoError(t, st.Close())

	cfg.Verification.StoreDriver = "redis"
	_, err = Open(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown driver "redis"`)
}
