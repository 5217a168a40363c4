// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

// Package server assembles the scansync HTTP server. It is shared by the
// server binary and by tests that need a live endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intronerd12/draconis-eyes/internal/config"
	"github.com/intronerd12/draconis-eyes/scansync"
)

// ServerComponents holds the initialized server components
type ServerComponents struct {
	Pool    *pgxpool.Pool // nil for the memory store
	Store   scansync.DocumentStore
	Service *scansync.Service
	JWTAuth *scansync.JWTAuth
	Handler http.Handler
	Logger  *slog.Logger
	AppName string
	cancel  context.CancelFunc
}

// TestServer represents a running test server instance
type TestServer struct {
	*ServerComponents
	HTTPServer *httptest.Server
}

// SetupServer initializes all server components (store, service, handlers).
// This is the shared logic used by both main() and tests.
func SetupServer(cfg *config.ServerConfig, logger *slog.Logger) (*ServerComponents, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	sc := &ServerComponents{Logger: logger, AppName: cfg.AppName, cancel: cancel}

	switch cfg.Store {
	case config.StoreMemory:
		sc.Store = scansync.NewMemoryStore()
		logger.Warn("Using in-memory scan store; documents are lost on restart")
	default:
		pool, err := openPool(ctx, cfg.DatabaseURL)
		if err != nil {
			cancel()
			return nil, err
		}
		store, err := scansync.NewPGStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			cancel()
			return nil, err
		}
		sc.Pool = pool
		sc.Store = store
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = config.DefaultJWTSecret
		logger.Warn("Using default JWT secret - change in production!")
	}
	sc.JWTAuth = scansync.NewJWTAuth(jwtSecret)
	sc.Service = scansync.NewService(sc.Store, logger)
	sc.Handler = sc.routes(cfg)
	return sc, nil
}

func openPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

func (sc *ServerComponents) routes(cfg *config.ServerConfig) http.Handler {
	handlers := scansync.NewHTTPScanHandlers(sc.Service, sc.Logger)
	api := func(h http.HandlerFunc) http.Handler {
		return MetricsMiddleware(LoggingMiddleware(cfg.LogRequests, sc.JWTAuth.OptionalMiddleware(h), sc.Logger))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", sc.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /scans", api(handlers.HandleUpsert))
	mux.Handle("GET /scans", api(handlers.HandleList))
	mux.Handle("GET /scans/stats", api(handlers.HandleStats))
	mux.Handle("DELETE /scans/{localScanId}", api(handlers.HandleDelete))

	if cfg.DevSignin {
		mux.HandleFunc("POST /dummy-signin", sc.handleDummySignin)
	}
	return mux
}

// handleDummySignin returns a JWT for the provided user/email; no password is checked.
func (sc *ServerComponents) handleDummySignin(w http.ResponseWriter, r *http.Request) {
	type signinReq struct {
		UserID string `json:"userId"`
		Email  string `json:"email"`
	}
	type signinResp struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}
	var req signinReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, scansync.ErrorResponse{Error: scansync.CodeInvalidRequest, Message: "invalid JSON"})
		return
	}
	if req.UserID == "" && req.Email == "" {
		writeJSON(w, http.StatusBadRequest, scansync.ErrorResponse{Error: scansync.CodeInvalidRequest, Message: "userId or email required"})
		return
	}
	tok, err := sc.JWTAuth.GenerateToken(req.UserID, req.Email, time.Hour)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, scansync.ErrorResponse{Error: "token_error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, signinResp{Token: tok, ExpiresIn: int64(time.Hour / time.Second)})
	sc.Logger.Info("Generated dummy JWT", "user_id", req.UserID, "email", req.Email)
}

// HandleHealth reports liveness and, with Postgres, database reachability.
func (sc *ServerComponents) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if sc.Pool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := sc.Pool.Ping(ctx); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{"status": status, "service": sc.AppName})
}

// Close shuts down the server components and cleans up resources
func (sc *ServerComponents) Close() {
	if sc.Pool != nil {
		sc.Pool.Close()
	}
	if sc.cancel != nil {
		sc.cancel()
	}
}

// NewTestServer creates a new test server instance using the shared server setup
func NewTestServer(cfg *config.ServerConfig, logger *slog.Logger) (*TestServer, error) {
	components, err := SetupServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &TestServer{
		ServerComponents: components,
		HTTPServer:       httptest.NewServer(components.Handler),
	}, nil
}

// Close shuts down the test server and cleans up resources
func (ts *TestServer) Close() {
	if ts.HTTPServer != nil {
		ts.HTTPServer.Close()
	}
	ts.ServerComponents.Close()
}

// URL returns the base URL of the test server
func (ts *TestServer) URL() string {
	return ts.HTTPServer.URL
}

// GenerateToken generates a JWT token for testing
func (ts *TestServer) GenerateToken(userID, email string, duration time.Duration) (string, error) {
	return ts.JWTAuth.GenerateToken(userID, email, duration)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
