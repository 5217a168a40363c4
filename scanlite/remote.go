// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scanlite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/intronerd12/draconis-eyes/scansync"
)

// Remote is the reconciliation server as seen by the flush engine.
type Remote interface {
	// Upsert creates or updates the document for req.LocalScanID.
	Upsert(ctx context.Context, req *scansync.UpsertRequest) (*scansync.ServerScanDocument, error)
	// Delete removes the document; ErrNotFound when there is none.
	Delete(ctx context.Context, localScanID string, hint scansync.IdentityHint) error
}

// HTTPRemote talks to the scansync HTTP API.
type HTTPRemote struct {
	client *resty.Client
	// Token returns a bearer token for the request; nil or "" sends none.
	Token func(context.Context) (string, error)
}

// NewHTTPRemote creates a remote for baseURL with a per-request timeout.
func NewHTTPRemote(baseURL string, timeout time.Duration, tok func(context.Context) (string, error)) *HTTPRemote {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &HTTPRemote{client: c, Token: tok}
}

func (r *HTTPRemote) request(ctx context.Context) (*resty.Request, error) {
	req := r.client.R().SetContext(ctx)
	if r.Token != nil {
		token, err := r.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get token: %w", err)
		}
		if token != "" {
			req.SetAuthToken(token)
		}
	}
	return req, nil
}

func (r *HTTPRemote) Upsert(ctx context.Context, body *scansync.UpsertRequest) (*scansync.ServerScanDocument, error) {
	req, err := r.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := req.SetBody(body).Post("/scans")
	if err != nil {
		return nil, fmt.Errorf("upsert request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, &RemoteError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	var doc scansync.ServerScanDocument
	if err := json.Unmarshal(resp.Body(), &doc); err != nil {
		return nil, fmt.Errorf("decode upsert response: %w", err)
	}
	return &doc, nil
}

func (r *HTTPRemote) Delete(ctx context.Context, localScanID string, hint scansync.IdentityHint) error {
	req, err := r.request(ctx)
	if err != nil {
		return err
	}
	switch hint.Kind {
	case scansync.HintEmail:
		req.SetQueryParam("operatorEmail", hint.Value)
	case scansync.HintUserID:
		req.SetQueryParam("userId", hint.Value)
	}
	resp, err := req.SetPathParam("localScanId", localScanID).Delete("/scans/{localScanId}")
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return &RemoteError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
}
