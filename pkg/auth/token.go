package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Endpoints are the provider's SSO endpoints. The defaults target the
// European B2C realm used by the mobile app.
type Endpoints struct {
	Authenticate string
	Authorize    string
	Token        string
}

// DefaultEndpoints returns the production SSO endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Authenticate: "https://b2c-login.toyota-europe.com/json/realms/root/realms/tme/authenticate?authIndexType=service&authIndexValue=oneapp",
		Authorize:    "https://b2c-login.toyota-europe.com/oauth2/realms/root/realms/tme/authorize?client_id=oneapp&scope=openid+profile+write&response_type=code&redirect_uri=com.toyota.oneapp:/oauth2Callback&code_challenge=plain&code_challenge_method=plain",
		Token:        "https://b2c-login.toyota-europe.com/oauth2/realms/root/realms/tme/access_token",
	}
}

// Client credentials baked into the mobile app. The code verifier is a fixed
// value, not a generated one: the provider registers the literal string as
// the plain challenge.
const (
	clientID        = "oneapp"
	redirectURI     = "com.toyota.oneapp:/oauth2Callback"
	codeVerifier    = "plain"
	basicCredential = "b25lYXBwOm9uZWFwcA==" // oneapp:oneapp
)

// tokenResponse is the token endpoint's reply for both the authorization-code
// and refresh-token grants. Fields beyond the tokens themselves are carried
// into the session record unmodified.
type tokenResponse struct {
	AccessToken     string          `json:"access_token"`
	RefreshToken    string          `json:"refresh_token"`
	IDToken         string          `json:"id_token"`
	TokenID         string          `json:"token"`
	ExpiresIn       int             `json:"expires_in"`
	CustomerProfile json.RawMessage `json:"customerProfile"`
}

// exchangeCode trades an authorization code for tokens.
func (m *Manager) exchangeCode(ctx context.Context, code string) (*tokenResponse, error) {
	form := url.Values{
		"client_id":     {clientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"authorization_code"},
		"code_verifier": {codeVerifier},
	}
	body, status, err := m.postToken(ctx, form)
	if err != nil {
		return nil, &LoginError{Step: "token exchange", Message: err.Error()}
	}
	if status != http.StatusOK {
		return nil, &LoginError{Step: "token exchange", Message: string(body)}
	}
	return parseTokenResponse(body)
}

// refreshTokens renews the session with the stored refresh token. Failures
// are AuthError: there is deliberately no automatic fall back to interactive
// login.
func (m *Manager) refreshTokens(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	form := url.Values{
		"client_id":     {clientID},
		"refresh_token": {refreshToken},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"refresh_token"},
		"code_verifier": {codeVerifier},
	}
	body, status, err := m.postToken(ctx, form)
	if err != nil {
		return nil, &AuthError{Message: err.Error()}
	}
	if status != http.StatusOK {
		return nil, &AuthError{Message: string(body)}
	}
	tok, err := parseTokenResponse(body)
	if err != nil {
		return nil, &AuthError{Message: err.Error()}
	}
	return tok, nil
}

func (m *Manager) postToken(ctx context.Context, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.Token, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Basic "+basicCredential)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func parseTokenResponse(body []byte) (*tokenResponse, error) {
	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access token")
	}
	if tok.IDToken == "" {
		return nil, fmt.Errorf("token response has no id_token")
	}
	return &tok, nil
}

// DecodeIdentity extracts the identity UUID from the claims of an id_token.
//
// The token's signature is intentionally not verified. Local verification
// would not be an independent security boundary here: the token's authority
// comes from the API accepting it on every request. ParseUnverified makes
// that decision explicit at the call site.
func DecodeIdentity(idToken string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return "", fmt.Errorf("decode id_token: %w", err)
	}
	raw, ok := claims["uuid"].(string)
	if !ok {
		return "", fmt.Errorf("id_token has no uuid claim")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("id_token uuid claim: %w", err)
	}
	return id.String(), nil
}
