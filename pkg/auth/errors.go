package auth

import "fmt"

// LoginError reports a failed step of the interactive SSO login: a rejected
// username or password, a missing redirect code, or a failed token exchange.
// Message carries the provider's diagnostic text.
type LoginError struct {
	Step    string
	Message string
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed at %s: %s", e.Step, e.Message)
}

// AuthError reports a failed refresh-token exchange. The session manager does
// not fall back to interactive login after a refresh failure: a transient
// provider outage must not be misreported as a credential problem.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token refresh failed: %s", e.Message)
}
