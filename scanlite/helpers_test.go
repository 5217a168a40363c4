package scanlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intronerd12/draconis-eyes/scanlite/migrations"
	"github.com/intronerd12/draconis-eyes/scansync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.MigrateUp(db))
	return db
}

func upsertOp(id, grade string) PendingOperation {
	return PendingOperation{
		Type:        OpUpsert,
		LocalScanID: id,
		Payload:     &scansync.UpsertRequest{LocalScanID: id, Grade: grade, OperatorEmail: "ops@farm.io"},
	}
}

func deleteOp(id string) PendingOperation {
	return PendingOperation{Type: OpDelete, LocalScanID: id, OperatorEmail: "ops@farm.io"}
}

type remoteCall struct {
	Op          OpType
	LocalScanID string
	Grade       string
	Hint        scansync.IdentityHint
}

// fakeRemote records calls and answers with err (or per-id errors) when set.
type fakeRemote struct {
	mu      sync.Mutex
	calls   []remoteCall
	err     error
	errByID map[string]error
	// block, when non-nil, is received from before each call returns
	block chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{errByID: map[string]error{}}
}

func (f *fakeRemote) Upsert(_ context.Context, req *scansync.UpsertRequest) (*scansync.ServerScanDocument, error) {
	err := f.record(remoteCall{Op: OpUpsert, LocalScanID: req.LocalScanID, Grade: req.Grade, Hint: req.Hint()})
	if err != nil {
		return nil, err
	}
	return &scansync.ServerScanDocument{ID: "srv-" + req.LocalScanID, LocalScanID: req.LocalScanID, Grade: req.Grade}, nil
}

func (f *fakeRemote) Delete(_ context.Context, localScanID string, hint scansync.IdentityHint) error {
	return f.record(remoteCall{Op: OpDelete, LocalScanID: localScanID, Hint: hint})
}

func (f *fakeRemote) record(c remoteCall) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	block := f.block
	err := f.err
	if e, ok := f.errByID[c.LocalScanID]; ok {
		err = e
	}
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (f *fakeRemote) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeRemote) Calls() []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remoteCall(nil), f.calls...)
}

var errOffline = fmt.Errorf("dial tcp: connection refused")
