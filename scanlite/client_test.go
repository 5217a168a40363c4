package scanlite

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intronerd12/draconis-eyes/internal/config"
	"github.com/intronerd12/draconis-eyes/internal/server"
	"github.com/intronerd12/draconis-eyes/scansync"
)

func newScanServer(t *testing.T) *server.TestServer {
	t.Helper()
	ts, err := server.NewTestServer(&config.ServerConfig{
		Store:     config.StoreMemory,
		JWTSecret: "client-test-secret",
		HTTPPort:  8080,
		AppName:   "scansync-client-test",
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(ts.Close)
	return ts
}

func serverDocs(t *testing.T, ts *server.TestServer) []scansync.ServerScanDocument {
	t.Helper()
	docs, err := ts.Service.List(context.Background(), scansync.ListFilter{Limit: scansync.MaxListLimit})
	require.NoError(t, err)
	return docs
}

func newTestClient(t *testing.T, remote Remote, session SessionProvider, autoFlush bool) *Client {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.AutoFlush = autoFlush
	cfg.FlushInterval = 20 * time.Millisecond
	cfg.BackoffMin = 10 * time.Millisecond
	cfg.BackoffMax = 50 * time.Millisecond
	c, err := NewClient(newTestDB(t), remote, session, NewCoordinator(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewClient_Validation(t *testing.T) {
	db := newTestDB(t)
	_, err := NewClient(db, newFakeRemote(), nil, nil, nil, nil)
	require.Error(t, err)
	_, err = NewClient(db, newFakeRemote(), nil, nil, &Config{}, nil)
	require.Error(t, err)
	_, err = NewClient(db, nil, nil, nil, DefaultConfig(t.TempDir()), nil)
	require.Error(t, err)
}

func TestClient_EndToEndReconciliation(t *testing.T) {
	ctx := context.Background()
	ts := newScanServer(t)
	session := NewStaticSession(&Principal{ID: "u1", Email: "Ops@Farm.io", Name: "Ops"})
	c := newTestClient(t, NewHTTPRemote(ts.URL(), 5*time.Second, nil), session, false)

	rec, err := c.AddScan(ctx, ScanRecord{ID: "a1", Grade: "A", FruitType: "dragon fruit",
		ArtifactPath: writeImage(t, "a1.jpg", "jpeg")})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ArtifactPath)

	res, err := c.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushResult{Synced: 1}, res)

	docs := serverDocs(t, ts)
	require.Len(t, docs, 1)
	require.Equal(t, "a1", docs[0].LocalScanID)
	require.Equal(t, "A", docs[0].Grade)
	require.Equal(t, "ops@farm.io", docs[0].OperatorEmail)
	require.Equal(t, "u1", docs[0].UserID)
	require.Equal(t, "Ops", docs[0].OperatorName)
	require.Equal(t, scansync.SourceMobile, docs[0].Source)
	require.True(t, docs[0].Timestamp.Equal(rec.CreatedAt))

	// re-grade the same local scan: one document, updated in place
	_, err = c.AddScan(ctx, ScanRecord{ID: "a1", Grade: "B", CreatedAt: rec.CreatedAt})
	require.NoError(t, err)
	_, err = c.Flush(ctx)
	require.NoError(t, err)

	docs = serverDocs(t, ts)
	require.Len(t, docs, 1)
	require.Equal(t, "B", docs[0].Grade)

	deleted, err := c.DeleteScan(ctx, "a1")
	require.NoError(t, err)
	require.True(t, deleted)
	res, err = c.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushResult{Synced: 1}, res)
	require.Empty(t, serverDocs(t, ts))

	deleted, err = c.DeleteScan(ctx, "a1")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestClient_RegradeThenDeleteBeforeFlushReachesServer(t *testing.T) {
	ctx := context.Background()
	ts := newScanServer(t)
	session := NewStaticSession(&Principal{ID: "u1", Email: "ops@farm.io"})
	c := newTestClient(t, NewHTTPRemote(ts.URL(), 5*time.Second, nil), session, false)

	_, err := c.AddScan(ctx, ScanRecord{ID: "a1", Grade: "A"})
	require.NoError(t, err)
	_, err = c.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, serverDocs(t, ts), 1)

	// re-grade and delete with no flush in between
	_, err = c.AddScan(ctx, ScanRecord{ID: "a1", Grade: "B"})
	require.NoError(t, err)
	deleted, err := c.DeleteScan(ctx, "a1")
	require.NoError(t, err)
	require.True(t, deleted)

	n, err := c.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	res, err := c.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushResult{Synced: 1}, res)
	require.Empty(t, serverDocs(t, ts))
}

func TestClient_DeleteAddressesUserKeyWithoutEmail(t *testing.T) {
	ctx := context.Background()
	ts := newScanServer(t)
	c := newTestClient(t, NewHTTPRemote(ts.URL(), 5*time.Second, nil),
		NewStaticSession(&Principal{MongoID: "65f0"}), false)

	_, err := c.AddScan(ctx, ScanRecord{ID: "s1", Grade: "C"})
	require.NoError(t, err)
	_, err = c.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, serverDocs(t, ts), 1)

	_, err = c.DeleteScan(ctx, "s1")
	require.NoError(t, err)
	res, err := c.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Synced)
	require.Empty(t, serverDocs(t, ts))
}

func TestClient_BearerTokenSuppliesIdentity(t *testing.T) {
	ctx := context.Background()
	ts := newScanServer(t)
	token, err := ts.GenerateToken("u9", "token@farm.io", time.Minute)
	require.NoError(t, err)
	remote := NewHTTPRemote(ts.URL(), 5*time.Second, func(context.Context) (string, error) { return token, nil })

	// signed-in principal carries only a username; the server takes identity from the token
	c := newTestClient(t, remote, NewStaticSession(&Principal{Username: "field-op"}), false)
	_, err = c.AddScan(ctx, ScanRecord{ID: "t1", Grade: "A"})
	require.NoError(t, err)
	_, err = c.Flush(ctx)
	require.NoError(t, err)

	docs := serverDocs(t, ts)
	require.Len(t, docs, 1)
	require.Equal(t, "token@farm.io", docs[0].OperatorEmail)
	require.Equal(t, "u9", docs[0].UserID)

	_, err = c.DeleteScan(ctx, "t1")
	require.NoError(t, err)
	_, err = c.Flush(ctx)
	require.NoError(t, err)
	require.Empty(t, serverDocs(t, ts))
}

func TestClient_OfflineCreateThenDeleteMakesNoRequests(t *testing.T) {
	ctx := context.Background()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, NewHTTPRemote(srv.URL, time.Second, nil), NewStaticSession(&Principal{ID: "u1"}), false)
	_, err := c.AddScan(ctx, ScanRecord{ID: "tmp", Grade: "D"})
	require.NoError(t, err)
	_, err = c.DeleteScan(ctx, "tmp")
	require.NoError(t, err)

	res, err := c.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushResult{}, res)
	require.Zero(t, hits.Load())
}

func TestClient_ConvergesAfterOutageAndLostResponses(t *testing.T) {
	ctx := context.Background()
	ts := newScanServer(t)

	var down, dropResponses atomic.Bool
	down.Store(true)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if dropResponses.Load() {
			// the server applies the write but the client never sees the answer
			ts.Handler.ServeHTTP(httptest.NewRecorder(), r)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		ts.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(proxy.Close)

	c := newTestClient(t, NewHTTPRemote(proxy.URL, 5*time.Second, nil), NewStaticSession(&Principal{Email: "ops@farm.io"}), false)
	for _, id := range []string{"k1", "k2", "k3"} {
		_, err := c.AddScan(ctx, ScanRecord{ID: id, Grade: "A"})
		require.NoError(t, err)
	}

	res, err := c.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushResult{Remaining: 3}, res)
	require.Empty(t, serverDocs(t, ts))

	down.Store(false)
	dropResponses.Store(true)
	res, err = c.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Remaining)
	require.Len(t, serverDocs(t, ts), 3)

	dropResponses.Store(false)
	res, err = c.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushResult{Synced: 3}, res)
	require.Len(t, serverDocs(t, ts), 3, "retries must not duplicate documents")

	n, err := c.Pending(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestClient_PrincipalSwitchIsolatesState(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.setErr(errOffline)
	session := NewStaticSession(&Principal{ID: "alice"})
	c := newTestClient(t, remote, session, false)

	_, err := c.AddScan(ctx, ScanRecord{ID: "x", Grade: "A"})
	require.NoError(t, err)
	require.Equal(t, Namespace("alice"), c.Namespace())

	session.SetPrincipal(&Principal{ID: "bob"})
	recs, err := c.ListScans(ctx)
	require.NoError(t, err)
	require.Empty(t, recs)
	n, err := c.Pending(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	// bob deleting the same id must not touch alice's record or queue
	deleted, err := c.DeleteScan(ctx, "x")
	require.NoError(t, err)
	require.False(t, deleted)

	session.SetPrincipal(nil)
	require.Equal(t, AnonymousNamespace, c.Namespace())

	session.SetPrincipal(&Principal{ID: "alice"})
	recs, err = c.ListScans(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	n, err = c.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestClient_ClearNamespace(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newFakeRemote(), NewStaticSession(&Principal{ID: "u1"}), false)

	_, err := c.AddScan(ctx, ScanRecord{ID: "x", Grade: "A"})
	require.NoError(t, err)

	require.NoError(t, c.ClearNamespace(ctx, true, false))
	recs, _ := c.ListScans(ctx)
	require.Empty(t, recs)
	n, _ := c.Pending(ctx)
	require.Equal(t, 1, n, "pending upload survives a local clear")

	require.NoError(t, c.ClearNamespace(ctx, true, true))
	n, _ = c.Pending(ctx)
	require.Zero(t, n)
}

func TestClient_TriggerFlushRunsInBackground(t *testing.T) {
	ctx := context.Background()
	ts := newScanServer(t)
	c := newTestClient(t, NewHTTPRemote(ts.URL(), 5*time.Second, nil), NewStaticSession(&Principal{ID: "u1"}), true)

	_, err := c.AddScan(ctx, ScanRecord{ID: "bg", Grade: "A"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(serverDocs(t, ts)) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		n, err := c.Pending(ctx)
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClient_SyncLoopRetriesUntilServerRecovers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts := newScanServer(t)

	var down atomic.Bool
	down.Store(true)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		ts.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(proxy.Close)

	c := newTestClient(t, NewHTTPRemote(proxy.URL, time.Second, nil), NewStaticSession(&Principal{ID: "u1"}), false)
	_, err := c.AddScan(ctx, ScanRecord{ID: "loop", Grade: "B"})
	require.NoError(t, err)

	c.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	require.Empty(t, serverDocs(t, ts))

	down.Store(false)
	require.Eventually(t, func() bool { return len(serverDocs(t, ts)) == 1 }, 5*time.Second, 10*time.Millisecond)
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(_ context.Context, path string) (Analysis, error) {
	raw, _ := json.Marshal(map[string]any{"source": path, "confidence": 0.88})
	return Analysis{Grade: "B", FruitType: "dragon fruit", Notes: "minor blemish", Raw: raw}, nil
}

func TestClient_CaptureScan(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	c := newTestClient(t, remote, NewStaticSession(&Principal{Email: "ops@farm.io"}), false)

	rec, err := c.CaptureScan(ctx, stubAnalyzer{}, writeImage(t, "cap.jpg", "img"), "Block 4")
	require.NoError(t, err)
	require.Equal(t, "B", rec.Grade)
	require.Equal(t, "Block 4", rec.Location)
	require.NotEmpty(t, rec.ArtifactPath)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, LocalStats{Total: 1, Best: "B", AvgPercent: 75}, st)

	_, err = c.Flush(ctx)
	require.NoError(t, err)
	calls := remote.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "B", calls[0].Grade)
	require.Equal(t, scansync.EmailHint("ops@farm.io"), calls[0].Hint)
}
