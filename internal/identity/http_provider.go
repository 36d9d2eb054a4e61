package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pz26/confpass/pkg/response"
)

// Credentials are what the user types to sign in.
type Credentials struct {
	Email    string
	Password string
}

// CredentialPrompter asks the user for credentials. It returns
// ErrAuthCancelled when the user gives up.
type CredentialPrompter interface {
	Prompt(ctx context.Context) (Credentials, error)
}

// HTTPProvider signs in against the confpass server's /auth endpoints.
type HTTPProvider struct {
	baseURL  string
	client   *http.Client
	prompter CredentialPrompter
	logger   *zap.Logger
}

// NewHTTPProvider creates a provider for the server at baseURL.
func NewHTTPProvider(baseURL string, client *http.Client, prompter CredentialPrompter, logger *zap.Logger) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProvider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		prompter: prompter,
		logger:   logger,
	}
}

type loginResult struct {
	Token string `json:"token"`
	User  struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// SignIn prompts for credentials and exchanges them for a token.
func (p *HTTPProvider) SignIn(ctx context.Context) (Identity, error) {
	creds, err := p.prompter.Prompt(ctx)
	if err != nil {
		return Identity{}, err
	}
	var out loginResult
	status, env, err := p.post(ctx, "/auth/login", "", map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
	}, &out)
	if err != nil {
		return Identity{}, fmt.Errorf("sign in: %w", err)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusBadRequest:
		return Identity{}, fmt.Errorf("%w: %s", ErrAuthCancelled, env.Error)
	case status != http.StatusOK:
		return Identity{}, fmt.Errorf("sign in: server answered %d: %s", status, env.Error)
	}
	return Identity{UID: out.User.ID, Email: out.User.Email, Token: out.Token}, nil
}

// SignOut revokes the identity's token on the server.
func (p *HTTPProvider) SignOut(ctx context.Context, id Identity) error {
	status, env, err := p.post(ctx, "/auth/logout", id.Token, nil, nil)
	if err != nil {
		return err
	}
	// An already invalid token is as signed out as it gets.
	if status == http.StatusNoContent || status == http.StatusUnauthorized {
		return nil
	}
	return fmt.Errorf("server answered %d: %s", status, env.Error)
}

// Signup creates an attendee account.
func (p *HTTPProvider) Signup(ctx context.Context, email, password, fullName string) error {
	status, env, err := p.post(ctx, "/auth/signup", "", map[string]string{
		"email":     email,
		"password":  password,
		"full_name": fullName,
	}, nil)
	if err != nil {
		return fmt.Errorf("sign up: %w", err)
	}
	if status != http.StatusCreated {
		return fmt.Errorf("sign up: %s", env.Error)
	}
	return nil
}

func (p *HTTPProvider) post(ctx context.Context, path, token string, body, out interface{}) (int, response.Envelope, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, response.Envelope{}, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, &buf)
	if err != nil {
		return 0, response.Envelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, response.Envelope{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, response.Envelope{Success: true}, nil
	}
	env, err := response.Decode(resp.Body, out)
	if err != nil {
		p.logger.Debug("undecodable auth response", zap.Int("status", resp.StatusCode), zap.Error(err))
		env.Error = http.StatusText(resp.StatusCode)
	}
	return resp.StatusCode, env, nil
}
