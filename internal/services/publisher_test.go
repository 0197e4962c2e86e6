package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/oauth2"

	"github.com/publora/publora/internal/crypto"
	"github.com/publora/publora/internal/db/repositories"
	"github.com/publora/publora/internal/social"
)

type scriptedProvider struct {
	publish func(ctx context.Context, req *social.PublishRequest) (*social.PublishResult, error)
	refresh func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

func (s *scriptedProvider) Identifier() string     { return "scripted" }
func (s *scriptedProvider) MaxConcurrentJob() int  { return 1 }
func (s *scriptedProvider) Scopes() []string       { return nil }
func (s *scriptedProvider) Publish(ctx context.Context, req *social.PublishRequest) (*social.PublishResult, error) {
	return s.publish(ctx, req)
}
func (s *scriptedProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if s.refresh == nil {
		return nil, errors.New("refresh not scripted")
	}
	return s.refresh(ctx, refreshToken)
}

func newPublisherHarness(t *testing.T, provider social.Provider) (*Publisher, sqlmock.Sqlmock, *crypto.TokenCipher) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cipher, err := crypto.NewTokenCipher([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}

	registry := social.NewRegistry()
	registry.Register(provider)

	pub := NewPublisher(
		repositories.NewPostRepository(db),
		repositories.NewIntegrationRepository(db),
		registry, cipher, nil,
	)
	return pub, mock, cipher
}

func queuedPostRows(state string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "integration_id", "group_id", "content", "media_urls",
		"state", "publish_date", "release_url", "error", "created_at", "updated_at", "deleted_at",
	}).AddRow("post-1", "org-1", "int-1", "grp-1", "hello world", []byte(`[]`),
		state, time.Now(), "", "", time.Now(), time.Now(), nil)
}

func integrationRows(t *testing.T, cipher *crypto.TokenCipher, disabled, refreshNeeded bool, expiresAt any) *sqlmock.Rows {
	t.Helper()
	sealedAccess, err := cipher.Seal("live-access")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealedRefresh, err := cipher.Seal("live-refresh")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	return sqlmock.NewRows([]string{
		"id", "organization_id", "provider", "internal_id", "name", "picture",
		"access_token", "refresh_token", "token_expires_at", "disabled", "refresh_needed",
		"created_at", "updated_at", "deleted_at",
	}).AddRow("int-1", "org-1", "scripted", "acct-9", "account", "",
		sealedAccess, sealedRefresh, expiresAt, disabled, refreshNeeded,
		time.Now(), time.Now(), nil)
}

func TestPublish_SuccessMarksPublished(t *testing.T) {
	var gotToken string
	provider := &scriptedProvider{
		publish: func(_ context.Context, req *social.PublishRequest) (*social.PublishResult, error) {
			gotToken = req.AccessToken
			return &social.PublishResult{PostID: "remote-1", ReleaseURL: "https://scripted.example/p/remote-1"}, nil
		},
	}
	pub, mock, cipher := newPublisherHarness(t, provider)

	mock.ExpectQuery("SELECT (.+) FROM posts").WithArgs("post-1").WillReturnRows(queuedPostRows("QUEUE"))
	mock.ExpectQuery("SELECT (.+) FROM integrations").WithArgs("int-1").WillReturnRows(integrationRows(t, cipher, false, false, nil))
	mock.ExpectExec("UPDATE posts").WithArgs("post-1", "https://scripted.example/p/remote-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := pub.Publish(context.Background(), "post-1")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if outcome == nil || outcome.ReleaseURL != "https://scripted.example/p/remote-1" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if gotToken != "live-access" {
		t.Fatalf("provider received token %q, want unsealed stored token", gotToken)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPublish_RefreshAndReplayOnRejectedCredential(t *testing.T) {
	var tokensSeen []string
	provider := &scriptedProvider{
		publish: func(_ context.Context, req *social.PublishRequest) (*social.PublishResult, error) {
			tokensSeen = append(tokensSeen, req.AccessToken)
			if len(tokensSeen) == 1 {
				return nil, &social.RefreshTokenError{Identifier: "scripted", Body: "token revoked"}
			}
			return &social.PublishResult{PostID: "remote-2", ReleaseURL: "https://scripted.example/p/remote-2"}, nil
		},
		refresh: func(_ context.Context, refreshToken string) (*oauth2.Token, error) {
			if refreshToken != "live-refresh" {
				t.Errorf("refresh called with %q, want stored refresh token", refreshToken)
			}
			return &oauth2.Token{AccessToken: "fresh-access", RefreshToken: "rotated-refresh", Expiry: time.Now().Add(time.Hour)}, nil
		},
	}
	pub, mock, cipher := newPublisherHarness(t, provider)

	mock.ExpectQuery("SELECT (.+) FROM posts").WithArgs("post-1").WillReturnRows(queuedPostRows("QUEUE"))
	mock.ExpectQuery("SELECT (.+) FROM integrations").WithArgs("int-1").WillReturnRows(integrationRows(t, cipher, false, false, nil))
	mock.ExpectExec("UPDATE integrations").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE posts").WithArgs("post-1", "https://scripted.example/p/remote-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := pub.Publish(context.Background(), "post-1")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if outcome == nil || outcome.ReleaseURL != "https://scripted.example/p/remote-2" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(tokensSeen) != 2 || tokensSeen[0] != "live-access" || tokensSeen[1] != "fresh-access" {
		t.Fatalf("tokens seen %v, want stored token then refreshed token", tokensSeen)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPublish_RefreshFailureFlagsReconnect(t *testing.T) {
	provider := &scriptedProvider{
		publish: func(_ context.Context, _ *social.PublishRequest) (*social.PublishResult, error) {
			return nil, &social.RefreshTokenError{Identifier: "scripted", Body: "token revoked"}
		},
		refresh: func(_ context.Context, _ string) (*oauth2.Token, error) {
			return nil, &social.BadBodyError{Identifier: "scripted", Body: "grant expired"}
		},
	}
	pub, mock, cipher := newPublisherHarness(t, provider)

	mock.ExpectQuery("SELECT (.+) FROM posts").WithArgs("post-1").WillReturnRows(queuedPostRows("QUEUE"))
	mock.ExpectQuery("SELECT (.+) FROM integrations").WithArgs("int-1").WillReturnRows(integrationRows(t, cipher, false, false, nil))
	mock.ExpectExec("UPDATE integrations").WithArgs("int-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE posts").WithArgs("post-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := pub.Publish(context.Background(), "post-1")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if outcome != nil {
		t.Fatalf("expected no outcome for a failed post, got %+v", outcome)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPublish_ProactiveRefreshWhenExpired(t *testing.T) {
	var gotToken string
	provider := &scriptedProvider{
		publish: func(_ context.Context, req *social.PublishRequest) (*social.PublishResult, error) {
			gotToken = req.AccessToken
			return &social.PublishResult{PostID: "remote-3", ReleaseURL: "https://scripted.example/p/remote-3"}, nil
		},
		refresh: func(_ context.Context, _ string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "fresh-access", Expiry: time.Now().Add(time.Hour)}, nil
		},
	}
	pub, mock, cipher := newPublisherHarness(t, provider)

	expired := time.Now().Add(-time.Minute)
	mock.ExpectQuery("SELECT (.+) FROM posts").WithArgs("post-1").WillReturnRows(queuedPostRows("QUEUE"))
	mock.ExpectQuery("SELECT (.+) FROM integrations").WithArgs("int-1").WillReturnRows(integrationRows(t, cipher, false, false, expired))
	mock.ExpectExec("UPDATE integrations").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE posts").WithArgs("post-1", "https://scripted.example/p/remote-3").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := pub.Publish(context.Background(), "post-1"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if gotToken != "fresh-access" {
		t.Fatalf("provider received %q, want the proactively refreshed token", gotToken)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPublish_NonQueuedPostIsSkipped(t *testing.T) {
	provider := &scriptedProvider{
		publish: func(_ context.Context, _ *social.PublishRequest) (*social.PublishResult, error) {
			t.Fatal("publish should not be called for an already handled post")
			return nil, nil
		},
	}
	pub, mock, _ := newPublisherHarness(t, provider)

	mock.ExpectQuery("SELECT (.+) FROM posts").WithArgs("post-1").WillReturnRows(queuedPostRows("PUBLISHED"))

	outcome, err := pub.Publish(context.Background(), "post-1")
	if err != nil || outcome != nil {
		t.Fatalf("want silent skip, got outcome=%+v err=%v", outcome, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPublish_UnavailableIntegrationFailsPost(t *testing.T) {
	provider := &scriptedProvider{
		publish: func(_ context.Context, _ *social.PublishRequest) (*social.PublishResult, error) {
			t.Fatal("publish should not be called for a disabled integration")
			return nil, nil
		},
	}
	pub, mock, cipher := newPublisherHarness(t, provider)

	mock.ExpectQuery("SELECT (.+) FROM posts").WithArgs("post-1").WillReturnRows(queuedPostRows("QUEUE"))
	mock.ExpectQuery("SELECT (.+) FROM integrations").WithArgs("int-1").WillReturnRows(integrationRows(t, cipher, true, false, nil))
	mock.ExpectExec("UPDATE posts").WithArgs("post-1", "integration is unavailable").
		WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := pub.Publish(context.Background(), "post-1")
	if err != nil || outcome != nil {
		t.Fatalf("want failed post with nil outcome, got outcome=%+v err=%v", outcome, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
