// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

// Package scanlite is the device side of scan capture: a SQLite-backed record
// store and pending operation queue, partitioned per signed-in principal, and a
// flush engine that reconciles the queue with a scansync server.
package scanlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/intronerd12/draconis-eyes/scanlite/migrations"
	"github.com/intronerd12/draconis-eyes/scansync"
)

// Config holds configuration for the scan client
type Config struct {
	BaseDir       string        // artifact root; copies go to <BaseDir>/scans/<ns>/
	Source        string        // sent as source on every upsert
	AutoFlush     bool          // flush in the background after local mutations
	FlushInterval time.Duration // background loop period when idle, e.g. 30s
	BackoffMin    time.Duration // 1s
	BackoffMax    time.Duration // 60s
}

// DefaultConfig returns a configuration storing artifacts under baseDir.
func DefaultConfig(baseDir string) *Config {
	return &Config{
		BaseDir:       baseDir,
		Source:        scansync.SourceMobile,
		AutoFlush:     true,
		FlushInterval: 30 * time.Second,
		BackoffMin:    1 * time.Second,
		BackoffMax:    60 * time.Second,
	}
}

// Client ties the local stores, the flush engine and the session together.
// Every call resolves the namespace from the current principal, so a principal
// switch takes effect on the next call.
type Client struct {
	DB      *sql.DB
	Records *RecordStore
	Queue   *Queue
	Engine  *Engine

	session SessionProvider
	config  *Config
	logger  *slog.Logger

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgMu     sync.Mutex // guards bgWG.Add against Close
	bgWG     sync.WaitGroup
	wake     chan struct{}
}

// OpenDB opens (creating if needed) the SQLite database at path with settings
// suited to a single writer.
func OpenDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// NewClient migrates db and builds a client. coord may be nil when this is the
// only client over db.
func NewClient(db *sql.DB, remote Remote, session SessionProvider, coord *Coordinator, config *Config, logger *slog.Logger) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BaseDir == "" {
		return nil, fmt.Errorf("config.BaseDir must be provided")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}
	if session == nil {
		session = NewStaticSession(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := migrations.MigrateUp(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	queue := NewQueue(db, logger)
	bgCtx, cancel := context.WithCancel(context.Background())
	return &Client{
		DB:       db,
		Records:  NewRecordStore(db, NewArtifactStore(config.BaseDir), logger),
		Queue:    queue,
		Engine:   NewEngine(queue, remote, coord, logger),
		session:  session,
		config:   config,
		logger:   logger,
		bgCtx:    bgCtx,
		bgCancel: cancel,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Namespace resolves the current principal's namespace.
func (c *Client) Namespace() Namespace {
	return ResolveNamespace(c.session.CurrentPrincipal())
}

// AddScan stores rec locally and queues its upsert.
func (c *Client) AddScan(ctx context.Context, rec ScanRecord) (ScanRecord, error) {
	p := c.session.CurrentPrincipal()
	ns := ResolveNamespace(p)

	stored, replaced, err := c.Records.Add(ctx, ns, rec)
	if err != nil {
		return ScanRecord{}, err
	}
	// A replaced record may already be on the server even with an empty queue.
	op := PendingOperation{
		Type:        OpUpsert,
		LocalScanID: stored.ID,
		Payload:     c.buildPayload(stored, p),
		RemoteSeen:  replaced,
	}
	if _, err := c.Queue.Enqueue(ctx, ns, op); err != nil {
		return stored, err
	}
	c.TriggerFlush(ns)
	return stored, nil
}

// CaptureScan grades the image at artifactPath and stores the result.
func (c *Client) CaptureScan(ctx context.Context, analyzer Analyzer, artifactPath, location string) (ScanRecord, error) {
	a, err := analyzer.Analyze(ctx, artifactPath)
	if err != nil {
		return ScanRecord{}, fmt.Errorf("failed to analyze scan: %w", err)
	}
	return c.AddScan(ctx, ScanRecord{
		Grade:        a.Grade,
		FruitType:    a.FruitType,
		Notes:        a.Notes,
		Location:     location,
		ArtifactPath: artifactPath,
		Analysis:     a.Raw,
	})
}

// DeleteScan removes the record locally and queues the server delete. It
// reports false when no such record exists in the current namespace.
func (c *Client) DeleteScan(ctx context.Context, id string) (bool, error) {
	p := c.session.CurrentPrincipal()
	ns := ResolveNamespace(p)

	removed, err := c.Records.Remove(ctx, ns, id)
	if err != nil || !removed {
		return false, err
	}
	op := PendingOperation{
		Type:          OpDelete,
		LocalScanID:   id,
		OperatorEmail: principalEmail(p),
		UserID:        p.ServerUserID(),
	}
	if _, err := c.Queue.Enqueue(ctx, ns, op); err != nil {
		return true, err
	}
	c.TriggerFlush(ns)
	return true, nil
}

// ListScans returns the current namespace's records, newest first.
func (c *Client) ListScans(ctx context.Context) ([]ScanRecord, error) {
	return c.Records.List(ctx, c.Namespace())
}

// Stats summarizes the current namespace's records.
func (c *Client) Stats(ctx context.Context) (LocalStats, error) {
	return c.Records.Stats(ctx, c.Namespace())
}

// Pending returns the number of queued operations in the current namespace.
func (c *Client) Pending(ctx context.Context) (int, error) {
	return c.Queue.Len(ctx, c.Namespace())
}

// ClearNamespace deletes the current namespace's records. Pending operations
// are kept unless dropPending is set.
func (c *Client) ClearNamespace(ctx context.Context, deleteArtifacts, dropPending bool) error {
	ns := c.Namespace()
	if err := c.Records.Clear(ctx, ns, deleteArtifacts); err != nil {
		return err
	}
	if dropPending {
		return c.Queue.Clear(ctx, ns)
	}
	return nil
}

// Flush synchronously flushes the current namespace.
func (c *Client) Flush(ctx context.Context) (FlushResult, error) {
	return c.Engine.Flush(ctx, c.Namespace())
}

// TriggerFlush starts a background flush of ns without waiting for it.
// It does nothing when AutoFlush is off or the client is closed.
func (c *Client) TriggerFlush(ns Namespace) {
	if !c.config.AutoFlush {
		return
	}
	c.goBackground(func() {
		res, err := c.Engine.Flush(c.bgCtx, ns)
		if err != nil {
			c.logger.Debug("Background flush failed", "error", err, "namespace", ns)
			return
		}
		if res.Remaining > 0 {
			c.wakeLoop()
		}
	})
}

// Activate is called when the app comes to the foreground.
func (c *Client) Activate() {
	c.TriggerFlush(c.Namespace())
}

// Close stops background work started by the client. The caller owns the DB.
func (c *Client) Close() error {
	c.bgMu.Lock()
	c.bgCancel()
	c.bgMu.Unlock()
	c.bgWG.Wait()
	return nil
}

func (c *Client) goBackground(fn func()) {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.bgCtx.Err() != nil {
		return
	}
	c.bgWG.Add(1)
	go func() {
		defer c.bgWG.Done()
		fn()
	}()
}

func (c *Client) buildPayload(rec ScanRecord, p *Principal) *scansync.UpsertRequest {
	ts := rec.CreatedAt.UTC()
	req := &scansync.UpsertRequest{
		Grade:         rec.Grade,
		Details:       rec.Notes,
		ImageURL:      rec.ImageURL,
		Location:      rec.Location,
		Timestamp:     &ts,
		UserID:        p.ServerUserID(),
		OperatorEmail: principalEmail(p),
		FruitType:     rec.FruitType,
		LocalScanID:   rec.ID,
		Source:        c.config.Source,
	}
	if p != nil {
		req.OperatorName = strings.TrimSpace(p.Name)
	}
	return req
}

func principalEmail(p *Principal) string {
	if p == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(p.Email))
}
