package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

type callbackValue struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

type callbackEntry struct {
	Type   string          `json:"type"`
	Output []callbackValue `json:"output,omitempty"`
	Input  []callbackValue `json:"input,omitempty"`
}

// authExchange is one round of the SSO challenge sequence. The provider
// expects the whole payload echoed back with the input slot filled in, so
// envelope fields the client does not interpret are preserved verbatim.
type authExchange struct {
	envelope  map[string]json.RawMessage
	callbacks []callbackEntry
}

func parseAuthExchange(body []byte) (*authExchange, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse challenge: %w", err)
	}
	ex := &authExchange{envelope: envelope}
	if raw, ok := envelope["callbacks"]; ok {
		if err := json.Unmarshal(raw, &ex.callbacks); err != nil {
			return nil, fmt.Errorf("parse challenge callbacks: %w", err)
		}
	}
	return ex, nil
}

// hasInputSlot reports whether the round carries the input slot the client is
// expected to populate. Its absence on the password round means the username
// was rejected.
func (x *authExchange) hasInputSlot() bool {
	return len(x.callbacks) > 0 && len(x.callbacks[0].Input) > 0
}

func (x *authExchange) setInput(value string) error {
	if !x.hasInputSlot() {
		return errors.New("challenge has no input slot")
	}
	x.callbacks[0].Input[0].Value = value
	raw, err := json.Marshal(x.callbacks)
	if err != nil {
		return err
	}
	x.envelope["callbacks"] = raw
	return nil
}

// prompt returns the provider's diagnostic text from the first callback
// output, for error reporting.
func (x *authExchange) prompt() string {
	if len(x.callbacks) > 0 && len(x.callbacks[0].Output) > 0 {
		if s, ok := x.callbacks[0].Output[0].Value.(string); ok {
			return s
		}
	}
	return ""
}

func (x *authExchange) marshal() ([]byte, error) {
	return json.Marshal(x.envelope)
}

// interactiveLogin walks the provider's hosted login sequence: an initial
// context request, a username round, a password round, authorization with the
// issued directory cookie, and the code-for-tokens exchange.
func (m *Manager) interactiveLogin(ctx context.Context) (*tokenResponse, error) {
	m.log.Info("requesting initial authentication context")
	initial, _, err := m.postAuthenticate(ctx, nil)
	if err != nil {
		return nil, err
	}

	// The initial context is submitted back unchanged to obtain the username
	// challenge.
	m.log.Info("requesting username challenge")
	body, _, err := m.postAuthenticate(ctx, initial)
	if err != nil {
		return nil, err
	}
	ex, err := parseAuthExchange(body)
	if err != nil {
		return nil, &LoginError{Step: "username challenge", Message: err.Error()}
	}
	if !ex.hasInputSlot() {
		return nil, &LoginError{Step: "username challenge", Message: ex.prompt()}
	}
	if err := ex.setInput(m.username); err != nil {
		return nil, &LoginError{Step: "username challenge", Message: err.Error()}
	}
	payload, err := ex.marshal()
	if err != nil {
		return nil, &LoginError{Step: "username challenge", Message: err.Error()}
	}

	m.log.Info("requesting password challenge")
	body, _, err = m.postAuthenticate(ctx, payload)
	if err != nil {
		return nil, err
	}
	ex, err = parseAuthExchange(body)
	if err != nil {
		return nil, &LoginError{Step: "password challenge", Message: err.Error()}
	}
	if !ex.hasInputSlot() {
		// Wrong username: the password is never submitted.
		return nil, &LoginError{Step: "username", Message: ex.prompt()}
	}
	if err := ex.setInput(m.password); err != nil {
		return nil, &LoginError{Step: "password challenge", Message: err.Error()}
	}
	if payload, err = ex.marshal(); err != nil {
		return nil, &LoginError{Step: "password challenge", Message: err.Error()}
	}

	m.log.Info("submitting credentials")
	body, status, err := m.postAuthenticate(ctx, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &LoginError{Step: "password", Message: string(body)}
	}
	var session struct {
		TokenID string `json:"tokenId"`
	}
	if err := json.Unmarshal(body, &session); err != nil || session.TokenID == "" {
		return nil, &LoginError{Step: "session cookie", Message: "login response has no tokenId"}
	}

	code, err := m.authorize(ctx, session.TokenID)
	if err != nil {
		return nil, err
	}
	return m.exchangeCode(ctx, code)
}

func (m *Manager) postAuthenticate(ctx context.Context, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.Authenticate, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, &LoginError{Step: "authenticate", Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, 0, &LoginError{Step: "authenticate", Message: err.Error()}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &LoginError{Step: "authenticate", Message: err.Error()}
	}
	return body, resp.StatusCode, nil
}

// authorize presents the directory session cookie to the authorization
// endpoint and harvests the code from the redirect target instead of
// following it.
func (m *Manager) authorize(ctx context.Context, tokenID string) (string, error) {
	m.log.Info("authorizing session")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoints.Authorize, nil)
	if err != nil {
		return "", &LoginError{Step: "authorize", Message: err.Error()}
	}
	req.Header.Set("Cookie", "iPlanetDirectoryPro="+tokenID)

	noRedirect := *m.client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return "", &LoginError{Step: "authorize", Message: err.Error()}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	location := resp.Header.Get("Location")
	if location == "" {
		return "", &LoginError{Step: "authorize", Message: fmt.Sprintf("no redirect from authorize endpoint (status %d)", resp.StatusCode)}
	}
	target, err := url.Parse(location)
	if err != nil {
		return "", &LoginError{Step: "authorize", Message: fmt.Sprintf("invalid redirect target: %s", err)}
	}
	code := target.Query().Get("code")
	if code == "" {
		return "", &LoginError{Step: "authorize", Message: "redirect target has no authorization code"}
	}
	return code, nil
}
