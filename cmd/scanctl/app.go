// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/intronerd12/draconis-eyes/internal/config"
	"github.com/intronerd12/draconis-eyes/scanlite"
	"github.com/intronerd12/draconis-eyes/scansync"
)

// getDefaults returns the config path and base directory, honoring
// SCANCTL_CONFIG_PATH and SCANCTL_BASE_DIR.
func getDefaults() (configPath, baseDir string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	configPath = os.Getenv("SCANCTL_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(home, ".config", config.DefaultClientFile)
	}
	baseDir = os.Getenv("SCANCTL_BASE_DIR")
	if baseDir == "" {
		baseDir = filepath.Join(home, ".local", "share", "scanctl")
	}
	return configPath, baseDir, nil
}

// app is an opened client plus what it needs to be closed.
type app struct {
	cfg    *config.ClientConfig
	db     *sql.DB
	client *scanlite.Client
}

// newApp reads the config and opens the client. The caller must defer app.Close().
func newApp(verbose bool) (*app, error) {
	configPath, _, err := getDefaults()
	if err != nil {
		return nil, err
	}
	cfg, err := config.ReadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base dir: %w", err)
	}
	db, err := scanlite.OpenDB(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	principal := principalFromConfig(cfg.Principal)
	remote := scanlite.NewHTTPRemote(cfg.ServerURL, cfg.Timeout(), tokenSource(cfg.Auth, principal))

	clientCfg := scanlite.DefaultConfig(cfg.BaseDir)
	clientCfg.AutoFlush = false
	if cfg.Source != "" {
		clientCfg.Source = cfg.Source
	}

	client, err := scanlite.NewClient(db, remote, scanlite.NewStaticSession(principal), nil, clientCfg, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing client: %w", err)
	}
	return &app{cfg: cfg, db: db, client: client}, nil
}

func (a *app) Close() error {
	a.client.Close()
	return a.db.Close()
}

func principalFromConfig(p config.PrincipalConfig) *scanlite.Principal {
	if p == (config.PrincipalConfig{}) {
		return nil
	}
	return &scanlite.Principal{ID: p.ID, Email: p.Email, Username: p.Username, Name: p.Name}
}

func tokenSource(a config.AuthConfig, p *scanlite.Principal) func(context.Context) (string, error) {
	switch a.Type {
	case "token":
		return func(context.Context) (string, error) { return a.Token, nil }
	case "hs256":
		jwtAuth := scansync.NewJWTAuth(a.JWTSecret)
		return func(context.Context) (string, error) {
			var userID, email string
			if p != nil {
				userID, email = p.ServerUserID(), p.Email
			}
			if userID == "" && email == "" {
				return "", nil
			}
			return jwtAuth.GenerateToken(userID, email, 5*time.Minute)
		}
	default:
		return nil
	}
}
