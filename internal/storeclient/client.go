// Package storeclient implements registrations.Store against the confpass
// HTTP API so the registration flow can run on a client machine.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/pz26/confpass/internal/identity"
	"github.com/pz26/confpass/internal/models"
	"github.com/pz26/confpass/internal/registrations"
	"github.com/pz26/confpass/pkg/response"
)

// TokenSource supplies the bearer token of the signed-in identity.
type TokenSource interface {
	Token() (string, bool)
}

// Client talks to the registration endpoints of the confpass server.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

var _ registrations.Store = (*Client)(nil)

// New creates a client for the server at baseURL.
func New(baseURL string, httpClient *http.Client, tokens TokenSource, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		logger:  logger,
	}
}

type allocateRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	College  string `json:"college"`
}

// FindByEmail implements registrations.Store.
func (c *Client) FindByEmail(ctx context.Context, email string) (*models.Registration, bool, error) {
	return c.getRegistration(ctx, "/registrations?email="+url.QueryEscape(email))
}

// GetByRegID implements registrations.Store.
func (c *Client) GetByRegID(ctx context.Context, regID string) (*models.Registration, bool, error) {
	return c.getRegistration(ctx, "/registrations/"+url.PathEscape(regID))
}

// Exists implements registrations.Store.
func (c *Client) Exists(ctx context.Context, regID string) (bool, error) {
	_, found, err := c.GetByRegID(ctx, regID)
	return found, err
}

// Allocate implements registrations.Store. The server takes the email from
// the bearer token; draft.Email must match the signed-in identity. When the
// server returns an existing registration instead of creating one, Allocate
// reports ErrDuplicateEmail so the caller re-reads it.
func (c *Client) Allocate(ctx context.Context, draft models.Registration) (*models.Registration, error) {
	var reg models.Registration
	status, err := c.do(ctx, http.MethodPost, "/registrations", allocateRequest{
		FullName: draft.FullName,
		Phone:    draft.Phone,
		College:  draft.College,
	}, &reg)
	if err != nil {
		return nil, err
	}
	if status == http.StatusOK {
		return nil, fmt.Errorf("%w: %s", registrations.ErrDuplicateEmail, reg.RegID)
	}
	return &reg, nil
}

// Count implements registrations.Store.
func (c *Client) Count(ctx context.Context) (int, error) {
	var out struct {
		Participants int `json:"participants"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/stats/participants", nil, &out); err != nil {
		return 0, err
	}
	return out.Participants, nil
}

func (c *Client) getRegistration(ctx context.Context, path string) (*models.Registration, bool, error) {
	var reg models.Registration
	_, err := c.do(ctx, http.MethodGet, path, nil, &reg)
	if errors.Is(err, errNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &reg, true, nil
}

var errNotFound = errors.New("not found")

// do performs one API call. Transport failures and unclassified server
// errors come back wrapping registrations.ErrStoreUnavailable.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", registrations.ErrStoreUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %w", registrations.ErrStoreUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	env, decErr := response.Decode(resp.Body, out)
	if decErr != nil {
		c.logger.Debug("undecodable store response", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.Error(decErr))
		return resp.StatusCode, fmt.Errorf("%w: %s %s answered %d", registrations.ErrStoreUnavailable, method, path, resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusNotFound && env.Code == registrations.CodeNotFound:
		return resp.StatusCode, errNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, fmt.Errorf("%w: %w", registrations.ErrStoreUnavailable, identity.ErrSessionExpired)
	case env.Code != "":
		return resp.StatusCode, registrations.ErrorFromCode(env.Code, env.Error)
	default:
		return resp.StatusCode, fmt.Errorf("%w: %s %s answered %d: %s", registrations.ErrStoreUnavailable, method, path, resp.StatusCode, env.Error)
	}
}
