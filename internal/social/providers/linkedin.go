package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/publora/publora/internal/social"
)

const (
	linkedinIdentifier = "linkedin"
	linkedinAPIBase    = "https://api.linkedin.com/v2"
	linkedinTokenURL   = "https://www.linkedin.com/oauth/v2/accessToken"
)

func init() {
	register(NewLinkedIn)
}

// LinkedIn publishes member posts via the ugcPosts API
type LinkedIn struct {
	abstract *social.Abstract
	oauth    oauth2.Config
}

// NewLinkedIn creates the LinkedIn adapter
func NewLinkedIn(deps Deps) social.Provider {
	creds := deps.credentials(linkedinIdentifier)
	return &LinkedIn{
		abstract: &social.Abstract{
			Identifier:       linkedinIdentifier,
			MaxConcurrentJob: 2,
			HandleErrors:     classifyLinkedInError,
			Limiter:          deps.Limiter,
			Client:           deps.Client,
		},
		oauth: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: linkedinTokenURL},
		},
	}
}

func (l *LinkedIn) Identifier() string    { return linkedinIdentifier }
func (l *LinkedIn) MaxConcurrentJob() int { return 2 }

func (l *LinkedIn) Scopes() []string {
	return []string{"w_member_social", "r_liteprofile"}
}

// classifyLinkedInError maps LinkedIn's error vocabulary onto the shared
// taxonomy. Expired tokens come back as "REVOKED_ACCESS_TOKEN" with a 401.
func classifyLinkedInError(body string) *social.Classification {
	switch {
	case strings.Contains(body, "REVOKED_ACCESS_TOKEN"),
		strings.Contains(body, "EXPIRED_ACCESS_TOKEN"):
		return &social.Classification{Kind: social.ClassRefreshToken, Value: body}
	case strings.Contains(body, "THROTTLE"):
		return &social.Classification{Kind: social.ClassRetry, Value: body}
	}
	return nil
}

type linkedinShareRequest struct {
	Author          string         `json:"author"`
	LifecycleState  string         `json:"lifecycleState"`
	SpecificContent map[string]any `json:"specificContent"`
	Visibility      map[string]any `json:"visibility"`
}

// Publish creates a member post. The integration's InternalID is the member
// URN suffix and is carried in the access-token context by the publisher.
func (l *LinkedIn) Publish(ctx context.Context, req *social.PublishRequest) (*social.PublishResult, error) {
	share := linkedinShareRequest{
		Author:         "urn:li:person:" + req.IntegrationID,
		LifecycleState: "PUBLISHED",
		SpecificContent: map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]any{"text": req.Content},
				"shareMediaCategory": "NONE",
			},
		},
		Visibility: map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	payload, err := json.Marshal(share)
	if err != nil {
		return nil, fmt.Errorf("failed to encode share: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+req.AccessToken)
	header.Set("Content-Type", "application/json")
	header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := l.abstract.Fetch(ctx, linkedinAPIBase+"/ugcPosts", &social.RequestOptions{
		Method: http.MethodPost,
		Header: header,
		Body:   payload,
	}, false)
	if err != nil {
		return nil, err
	}

	postID := resp.Header.Get("X-Restli-Id")
	return &social.PublishResult{
		PostID:     postID,
		ReleaseURL: "https://www.linkedin.com/feed/update/" + postID,
	}, nil
}

// RefreshToken exchanges the stored refresh token for a fresh credential
func (l *LinkedIn) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := l.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, &social.RefreshTokenError{Identifier: linkedinIdentifier, Body: err.Error()}
	}
	return token, nil
}
