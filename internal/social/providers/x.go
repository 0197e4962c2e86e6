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
	xIdentifier = "x"
	xAPIBase    = "https://api.x.com/2"
	xTokenURL   = "https://api.x.com/2/oauth2/token"
)

func init() {
	register(NewX)
}

// X publishes to X (formerly Twitter). The v2 tweet endpoint is heavily
// rate-limited per app, so the adapter runs strictly serialized.
type X struct {
	abstract *social.Abstract
	oauth    oauth2.Config
}

// NewX creates the X adapter
func NewX(deps Deps) social.Provider {
	creds := deps.credentials(xIdentifier)
	return &X{
		abstract: &social.Abstract{
			Identifier:       xIdentifier,
			MaxConcurrentJob: 1,
			HandleErrors:     classifyXError,
			Limiter:          deps.Limiter,
			Client:           deps.Client,
		},
		oauth: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: xTokenURL},
		},
	}
}

func (x *X) Identifier() string    { return xIdentifier }
func (x *X) MaxConcurrentJob() int { return 1 }

func (x *X) Scopes() []string {
	return []string{"tweet.read", "tweet.write", "users.read", "offline.access"}
}

// classifyXError maps X's error vocabulary onto the shared taxonomy. X
// reports credential failures with code 89 / "Invalid or expired token" and
// throttling with code 88 even on non-429 statuses.
func classifyXError(body string) *social.Classification {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "invalid or expired token"),
		strings.Contains(lower, "could not authenticate you"):
		return &social.Classification{Kind: social.ClassRefreshToken, Value: body}
	case strings.Contains(lower, "rate limit exceeded"):
		return &social.Classification{Kind: social.ClassRetry, Value: body}
	case strings.Contains(lower, "duplicate content"):
		return &social.Classification{Kind: social.ClassBadBody, Value: "duplicate content"}
	}
	return nil
}

type xTweetRequest struct {
	Text string `json:"text"`
}

type xTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// Publish creates a tweet
func (x *X) Publish(ctx context.Context, req *social.PublishRequest) (*social.PublishResult, error) {
	payload, err := json.Marshal(xTweetRequest{Text: req.Content})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tweet: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+req.AccessToken)
	header.Set("Content-Type", "application/json")

	resp, err := x.abstract.Fetch(ctx, xAPIBase+"/tweets", &social.RequestOptions{
		Method: http.MethodPost,
		Header: header,
		Body:   payload,
	}, false)
	if err != nil {
		return nil, err
	}

	var out xTweetResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, &social.BadBodyError{Identifier: xIdentifier, Body: string(resp.Body)}
	}

	return &social.PublishResult{
		PostID:     out.Data.ID,
		ReleaseURL: "https://x.com/i/status/" + out.Data.ID,
	}, nil
}

// RefreshToken exchanges the stored refresh token for a fresh credential
func (x *X) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := x.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, &social.RefreshTokenError{Identifier: xIdentifier, Body: err.Error()}
	}
	return token, nil
}
