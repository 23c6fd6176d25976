package oauth

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Refresher serializes token refresh per provider id: concurrent callers
// hitting expiry at the same moment share one in-flight refresh instead
// of each independently spending (and potentially revoking) the refresh
// token (§4.6, §5 "refresh-token revocation storms").
type Refresher struct {
	cfg   PKCEConfig
	group singleflight.Group
}

// NewRefresher builds a Refresher bound to one provider's token endpoint.
func NewRefresher(cfg PKCEConfig) *Refresher {
	return &Refresher{cfg: cfg}
}

// EnsureValid returns tok unchanged if still valid past the skew, else
// performs a de-duplicated refresh and returns the new token.
func (r *Refresher) EnsureValid(ctx context.Context, providerID string, tok Token) (Token, error) {
	if IsValid(tok, time.Now()) {
		return tok, nil
	}
	v, err, _ := r.group.Do(providerID, func() (interface{}, error) {
		return Refresh(ctx, r.cfg, tok.RefreshToken)
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}
