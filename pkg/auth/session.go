package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Session lifecycle states.
const (
	StateNoSession      = "nosession"
	StateValid          = "valid"
	StateExpired        = "expired"
	StateAuthenticating = "authenticating"
)

const (
	eventRestore      = "restore"
	eventExpire       = "expire"
	eventAuthenticate = "authenticate"
	eventIssue        = "issue"
	eventReject       = "reject"
)

// Published with the mobile app; required on every API request.
const apiKey = "tTZipv6liF74PwMfk9Ed68AQ0bISswwf3iHQdqcF"

const brandCode = "T"

// Config carries the account and storage collaborators for a Manager.
type Config struct {
	Username    string
	Password    string
	VIN         string
	Endpoints   Endpoints // zero value selects DefaultEndpoints
	Credentials *CredentialFile

	// HTTPClient, Logger and Now default to a plain client, a no-op logger
	// and time.Now.
	HTTPClient *http.Client
	Logger     *zap.Logger
	Now        func() time.Time
}

// Manager owns the session lifecycle for one account: it restores a persisted
// session, renews it with the refresh token when expired, or walks the
// interactive login sequence, and persists every replacement record.
//
// A Manager is not safe for concurrent use; the client is single-threaded and
// issues requests sequentially.
type Manager struct {
	username    string
	password    string
	vin         string
	endpoints   Endpoints
	credentials *CredentialFile
	client      *http.Client
	log         *zap.Logger
	now         func() time.Time

	machine *fsm.FSM
	record  *SessionRecord
}

// NewManager returns a Manager in the NoSession state.
func NewManager(cfg Config) *Manager {
	if (cfg.Endpoints == Endpoints{}) {
		cfg.Endpoints = DefaultEndpoints()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		username:    cfg.Username,
		password:    cfg.Password,
		vin:         cfg.VIN,
		endpoints:   cfg.Endpoints,
		credentials: cfg.Credentials,
		client:      cfg.HTTPClient,
		log:         cfg.Logger,
		now:         cfg.Now,
		machine: fsm.NewFSM(
			StateNoSession,
			fsm.Events{
				{Name: eventRestore, Src: []string{StateNoSession}, Dst: StateValid},
				{Name: eventExpire, Src: []string{StateNoSession, StateValid}, Dst: StateExpired},
				{Name: eventAuthenticate, Src: []string{StateNoSession, StateExpired}, Dst: StateAuthenticating},
				{Name: eventIssue, Src: []string{StateAuthenticating}, Dst: StateValid},
				{Name: eventReject, Src: []string{StateAuthenticating}, Dst: StateExpired},
			},
			nil,
		),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() string {
	return m.machine.Current()
}

func (m *Manager) transition(ctx context.Context, event string) {
	if err := m.machine.Event(ctx, event); err != nil {
		m.log.Warn("session state transition rejected", zap.String("event", event), zap.Error(err))
	}
}

// Session returns a valid session record, restoring, renewing or logging in
// as required. A record loaded with its expiration in the future is used
// without any network traffic. An expired record with a refresh token is
// renewed via the refresh grant only; without one, the interactive login
// sequence runs. Renewal failures are fatal for the run.
func (m *Manager) Session(ctx context.Context) (*SessionRecord, error) {
	if m.machine.Current() == StateValid && m.record.Valid(m.now()) {
		return m.record, nil
	}

	if m.machine.Current() == StateNoSession {
		record, err := m.credentials.Load()
		if err != nil {
			return nil, err
		}
		m.record = record
		if record.Valid(m.now()) {
			m.log.Debug("restored persisted session", zap.Time("expiration", record.Expiration))
			m.transition(ctx, eventRestore)
			return record, nil
		}
		m.transition(ctx, eventExpire)
	} else if m.machine.Current() == StateValid {
		m.transition(ctx, eventExpire)
	}

	m.transition(ctx, eventAuthenticate)

	var tok *tokenResponse
	var err error
	if m.record != nil && m.record.RefreshToken != "" {
		m.log.Info("renewing session with refresh token")
		tok, err = m.refreshTokens(ctx, m.record.RefreshToken)
	} else {
		m.log.Info("no refresh token available, performing interactive login")
		tok, err = m.interactiveLogin(ctx)
	}
	if err != nil {
		m.transition(ctx, eventReject)
		return nil, err
	}

	record, err := m.buildRecord(tok)
	if err != nil {
		m.transition(ctx, eventReject)
		return nil, err
	}
	if err := m.credentials.Save(record); err != nil {
		m.transition(ctx, eventReject)
		return nil, err
	}
	m.record = record
	m.transition(ctx, eventIssue)
	m.log.Info("session established", zap.Time("expiration", record.Expiration))
	return record, nil
}

// buildRecord assembles the replacement session record from a token
// response. If the provider omitted a new refresh token, the previous one is
// retained so the session is not stranded on next expiry.
func (m *Manager) buildRecord(tok *tokenResponse) (*SessionRecord, error) {
	identity, err := DecodeIdentity(tok.IDToken)
	if err != nil {
		return nil, err
	}
	record := &SessionRecord{
		AccessToken:     tok.AccessToken,
		RefreshToken:    tok.RefreshToken,
		UUID:            identity,
		Expiration:      m.now().Add(time.Duration(tok.ExpiresIn) * time.Second).UTC(),
		IDToken:         tok.IDToken,
		TokenID:         tok.TokenID,
		ExpiresIn:       tok.ExpiresIn,
		CustomerProfile: tok.CustomerProfile,
	}
	if record.RefreshToken == "" && m.record != nil && m.record.RefreshToken != "" {
		m.log.Warn("token response omitted a refresh token, retaining the previous one")
		record.RefreshToken = m.record.RefreshToken
	}
	return record, nil
}

// Headers returns the authenticated header set for the common API. The
// identity UUID is set in both the x-guid and guid slots; the provider
// requires both.
func (m *Manager) Headers(ctx context.Context) (http.Header, error) {
	record, err := m.Session(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+record.AccessToken)
	h.Set("x-api-key", apiKey)
	h.Set("x-guid", record.UUID)
	h.Set("guid", record.UUID)
	h.Set("vin", m.vin)
	h.Set("x-brand", brandCode)
	return h, nil
}

// StatisticsHeaders returns the legacy header shape used by the driving
// statistics aggregation endpoint, which authenticates with the directory
// session cookie rather than the bearer token.
func (m *Manager) StatisticsHeaders(ctx context.Context, locale string) (http.Header, error) {
	record, err := m.Session(ctx)
	if err != nil {
		return nil, err
	}
	profileUUID, err := record.CustomerProfileUUID()
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Cookie", "iPlanetDirectoryPro="+record.TokenID)
	h.Set("uuid", profileUUID)
	h.Set("vin", m.vin)
	h.Set("X-TME-BRAND", "TOYOTA")
	h.Set("X-TME-LOCALE", locale)
	return h, nil
}

// ProfileUUID returns the customer-profile identifier for the current
// session.
func (m *Manager) ProfileUUID(ctx context.Context) (string, error) {
	record, err := m.Session(ctx)
	if err != nil {
		return "", err
	}
	return record.CustomerProfileUUID()
}
