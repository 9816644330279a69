package gcal

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/httpretry"
	"github.com/hearthkit/family-sync/internal/provider"
)

// TokenStore persists renewed calendar tokens.
type TokenStore interface {
	SaveCalendarToken(ctx context.Context, familyID, accessToken, refreshToken string, expiry time.Time) error
}

// Opener builds calendar clients for stored connections.
type Opener struct {
	OAuth    *oauth2.Config
	Tokens   TokenStore
	HTTP     httpretry.HTTPDoer
	Endpoint string
}

// OpenCalendar implements provider.CalendarOpener.
func (o *Opener) OpenCalendar(ctx context.Context, conn *domain.CalendarConnection) (provider.Calendar, error) {
	familyID := conn.FamilyID
	var save provider.TokenSaver
	if o.Tokens != nil {
		save = func(ctx context.Context, tok *oauth2.Token) error {
			return o.Tokens.SaveCalendarToken(ctx, familyID, tok.AccessToken, tok.RefreshToken, tok.Expiry)
		}
	}
	session := provider.NewOAuthSession(o.OAuth, provider.NewToken(conn.AccessToken, conn.RefreshToken, conn.TokenExpiry), save)
	return NewClient(ctx, o.Endpoint, o.HTTP, session)
}
