package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/hearthkit/family-sync/internal/pkg/httpretry"
)

// Google API scopes requested at connect time.
const (
	ScopeGmailReadonly = "https://www.googleapis.com/auth/gmail.readonly"
	ScopeCalendar      = "https://www.googleapis.com/auth/calendar"
)

// GoogleOAuthConfig builds the OAuth client config for Google APIs.
func GoogleOAuthConfig(clientID, clientSecret, redirectURL string, scopes ...string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}
}

// TokenSaver persists a renewed token for the owning mailbox or connection.
type TokenSaver func(ctx context.Context, tok *oauth2.Token) error

// OAuthSession holds one account's token, renews it on demand and hands
// renewed tokens to a TokenSaver.
type OAuthSession struct {
	cfg  *oauth2.Config
	save TokenSaver

	mu  sync.Mutex
	tok *oauth2.Token
}

// NewOAuthSession wraps an existing token. save may be nil.
func NewOAuthSession(cfg *oauth2.Config, tok *oauth2.Token, save TokenSaver) *OAuthSession {
	return &OAuthSession{cfg: cfg, tok: tok, save: save}
}

// Authorize sets the bearer header, renewing an expired token first.
func (s *OAuthSession) Authorize(req *http.Request) error {
	s.mu.Lock()
	tok := s.tok
	s.mu.Unlock()

	if !tok.Valid() {
		if err := s.Refresh(req.Context()); err != nil {
			return err
		}
		s.mu.Lock()
		tok = s.tok
		s.mu.Unlock()
	}
	tok.SetAuthHeader(req)
	return nil
}

// Refresh exchanges the refresh token for a new access token regardless of
// the current token's expiry. A revoked grant maps to ErrForbidden.
func (s *OAuthSession) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tok == nil || s.tok.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token", ErrForbidden)
	}
	src := s.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: s.tok.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && (rerr.ErrorCode == "invalid_grant" || rerr.ErrorCode == "unauthorized_client") {
			return fmt.Errorf("%w: %v", ErrForbidden, err)
		}
		return fmt.Errorf("refresh token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = s.tok.RefreshToken
	}
	s.tok = fresh
	if s.save != nil {
		if err := s.save(ctx, fresh); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
	}
	return nil
}

// HTTPClient returns a client that authorizes every request with this
// session and sends it through next. Google API services are built on it.
func (s *OAuthSession) HTTPClient(next httpretry.HTTPDoer) *http.Client {
	if next == nil {
		next = httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3)
	}
	return &http.Client{Transport: &authTransport{session: s, next: next}}
}

type authTransport struct {
	session *OAuthSession
	next    httpretry.HTTPDoer
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if err := t.session.Authorize(out); err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	return t.next.Do(out)
}

// Token returns a copy of the current token.
func (s *OAuthSession) Token() oauth2.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil {
		return oauth2.Token{}
	}
	return *s.tok
}

// NewToken builds a token from stored columns.
func NewToken(access, refresh string, expiry time.Time) *oauth2.Token {
	return &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: expiry, TokenType: "Bearer"}
}
