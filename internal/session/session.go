// Package session exposes the authenticated session to the messaging core.
// The token and cached profile are written by the authentication layer; this
// package only reads them, plus a best-effort server notification on logout.
package session

import (
	"context"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/prolinq/internal/api"
	"github.com/mbeoliero/prolinq/pkg/errcode"
	"github.com/mbeoliero/prolinq/pkg/localstate"
)

// Session is a restored authenticated session
type Session struct {
	Token string
	User  *api.UserProfile

	state     *localstate.Store
	apiClient *api.Client
	timeout   time.Duration
}

// Restore loads the session from local state. Returns ErrSessionExpired when
// no token is stored, the token is unparseable, or it is already past its
// expiry. The expiry check applies even when a cached profile exists; a
// profile never outlives its token.
func Restore(state *localstate.Store, apiClient *api.Client, logoutTimeout time.Duration) (*Session, error) {
	token := state.Token()
	if token == "" {
		return nil, errcode.ErrSessionExpired
	}

	var c claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &c); err != nil {
		return nil, errcode.ErrSessionExpired.Wrap(err)
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(time.Now()) {
		return nil, errcode.ErrSessionExpired
	}

	s := &Session{
		Token:     token,
		state:     state,
		apiClient: apiClient,
		timeout:   logoutTimeout,
	}

	var user api.UserProfile
	ok, err := state.CachedUser(&user)
	if err != nil {
		log.Warn("cached profile unreadable, falling back to token claims: %v", err)
	}
	if ok {
		s.User = &user
	} else {
		u, err := userFromClaims(&c)
		if err != nil {
			return nil, err
		}
		s.User = u
	}

	apiClient.SetToken(token)
	return s, nil
}

// UserID returns the authenticated user's id
func (s *Session) UserID() int64 {
	return s.User.ID
}

// Logout notifies the server, bounded by the logout timeout, then clears
// the local session. Exceeding the timeout never blocks local logout.
func (s *Session) Logout(ctx context.Context) error {
	notifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.apiClient.Logout(notifyCtx); err != nil {
		log.CtxWarn(ctx, "logout notification failed: %v", err)
	}

	return s.state.ClearSession()
}

// claims covers the token shapes the backend has issued over time: a
// numeric user_id claim on newer tokens, the subject on older ones.
type claims struct {
	UserID int64 `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// userFromClaims derives a minimal profile from unverified token claims.
// Verification is the server's job; the client only needs the identity.
func userFromClaims(c *claims) (*api.UserProfile, error) {
	id := c.UserID
	if id == 0 && c.Subject != "" {
		parsed, err := strconv.ParseInt(c.Subject, 10, 64)
		if err != nil {
			return nil, errcode.ErrSessionExpired.Wrap(err)
		}
		id = parsed
	}
	if id == 0 {
		return nil, errcode.ErrSessionExpired
	}

	return &api.UserProfile{ID: id}, nil
}
