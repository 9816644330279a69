package gmail

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/httpretry"
	"github.com/hearthkit/family-sync/internal/provider"
)

// TokenStore persists renewed mailbox tokens.
type TokenStore interface {
	SaveMailboxToken(ctx context.Context, mailboxID, accessToken, refreshToken string, expiry time.Time) error
}

// Opener builds Gmail clients for stored mailboxes.
type Opener struct {
	OAuth     *oauth2.Config
	Tokens    TokenStore
	HTTP      httpretry.HTTPDoer
	Endpoint  string
	BaseQuery string
}

// OpenMailbox implements provider.MailboxOpener.
func (o *Opener) OpenMailbox(ctx context.Context, mb *domain.Mailbox) (provider.Mailbox, error) {
	mailboxID := mb.ID
	var save provider.TokenSaver
	if o.Tokens != nil {
		save = func(ctx context.Context, tok *oauth2.Token) error {
			return o.Tokens.SaveMailboxToken(ctx, mailboxID, tok.AccessToken, tok.RefreshToken, tok.Expiry)
		}
	}
	session := provider.NewOAuthSession(o.OAuth, provider.NewToken(mb.AccessToken, mb.RefreshToken, mb.TokenExpiry), save)
	query := o.BaseQuery
	if query == "" {
		query = DefaultQuery
	}
	return NewClient(ctx, o.Endpoint, o.HTTP, session, query)
}
