package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/publora/publora/internal/social"
)

const mastodonIdentifier = "mastodon"

func init() {
	register(NewMastodon)
}

// Mastodon publishes statuses to a Mastodon instance. Mastodon access tokens
// do not expire, so RefreshToken reports a permanent credential failure
// instead of attempting an exchange: a rejected token means the user revoked
// the app and must reconnect.
type Mastodon struct {
	abstract *social.Abstract
	// instanceURL is the home instance; multi-instance support carries it on
	// the integration's InternalID instead
	instanceURL string
}

// NewMastodon creates the Mastodon adapter
func NewMastodon(deps Deps) social.Provider {
	return &Mastodon{
		abstract: &social.Abstract{
			Identifier:       mastodonIdentifier,
			MaxConcurrentJob: 1,
			Limiter:          deps.Limiter,
			Client:           deps.Client,
		},
		instanceURL: "https://mastodon.social",
	}
}

func (m *Mastodon) Identifier() string    { return mastodonIdentifier }
func (m *Mastodon) MaxConcurrentJob() int { return 1 }

func (m *Mastodon) Scopes() []string {
	return []string{"read", "write:statuses"}
}

type mastodonStatus struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Publish creates a status
func (m *Mastodon) Publish(ctx context.Context, req *social.PublishRequest) (*social.PublishResult, error) {
	form := url.Values{}
	form.Set("status", req.Content)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+req.AccessToken)
	header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.abstract.Fetch(ctx, m.instanceURL+"/api/v1/statuses", &social.RequestOptions{
		Method: http.MethodPost,
		Header: header,
		Body:   []byte(form.Encode()),
	}, false)
	if err != nil {
		return nil, err
	}

	var status mastodonStatus
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return nil, &social.BadBodyError{Identifier: mastodonIdentifier, Body: string(resp.Body)}
	}
	return &social.PublishResult{PostID: status.ID, ReleaseURL: status.URL}, nil
}

// RefreshToken always fails: Mastodon tokens are non-expiring, so a rejected
// credential cannot be repaired without user interaction.
func (m *Mastodon) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return nil, fmt.Errorf("mastodon tokens are non-expiring; the account must be reconnected")
}
