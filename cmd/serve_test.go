package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provenance-cli/internal/config"
	"github.com/sells-group/provenance-cli/internal/ledger"
	"github.com/sells-group/provenance-cli/internal/monitoring"
	"github.com/sells-group/provenance-cli/internal/server"
)

func TestResolvePort_FlagSet(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
}

func TestResolvePort_FlagZero(t *testing.T) {
	assert.Equal(t, 8080, resolvePort(0, 8080))
}

func TestResolvePort_BothZero(t *testing.T) {
	assert.Equal(t, 0, resolvePort(0, 0))
}

func TestRunSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		runSweeper(ctx, 5*time.Millisecond, func(context.Context) ([]string, error) {
			if calls.Add(1)%2 == 0 {
				return nil, eris.New("store busy")
			}
			return []string{"vr-1"}, nil
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestServer_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &config.Config{
		Ledger:  config.LedgerConfig{Driver: "fixture", FixturePath: testFixture},
		Scoring: config.DefaultScoringConfig(),
		Verification: config.VerificationConfig{
			ApproveThreshold: 1,
			RejectThreshold:  1,
			TimeoutHours:     1,
			StoreDriver:      "memory",
		},
	}
	aenv, err := initAssessor(ctx, c)
	require.NoError(t, err)
	defer aenv.Close()
	renv, err := initOrchestrator(ctx, c)
	require.NoError(t, err)
	defer renv.Close()

	srv := server.New(c.Server, aenv.Assessor, renv.Orchestrator,
		server.WithMetrics(monitoring.NewCollector(renv.Store), 24))

	// Find a free port.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx, port)
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 10*time.Millisecond, "server did not become ready in time")

	resp, err := http.Get(base + "/v1/products/sku-1001/assessment")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	body, _ := json.Marshal(map[string]any{"product_id": "sku-1001", "eligible": []string{"0xa"}})
	resp, err = http.Post(base+"/v1/requests", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(base + "/v1/metrics")
	require.NoError(t, err)
	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, 1, snap.Pending)
	assert.Equal(t, 1, snap.Opened)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestFormatImportStats(t *testing.T) {
	var buf bytes.Buffer
	formatImportStats(&buf, ledger.ImportStats{"ledger.products": 2, "ledger.disputes": 1})
	out := buf.String()
	assert.Contains(t, out, "TABLE")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("ledger.disputes")), bytes.Index(buf.Bytes(), []byte("ledger.products")))
	assert.Contains(t, out, "2")
}
