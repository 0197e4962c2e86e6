package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/publora/publora/internal/db/repositories"
)

func webhookRows(urls map[string]string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "organization_id", "name", "url", "integrations", "created_at", "updated_at", "deleted_at",
	})
	for url, integrations := range urls {
		rows.AddRow("hook-"+url, "org-1", "hook", url, []byte(integrations), time.Now(), time.Now(), nil)
	}
	return rows
}

func TestDispatch_DeliversToMatchingEndpoint(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode delivered event: %v", err)
		}
		received <- ev
	}))
	defer srv.Close()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, organization_id, name, url, integrations").
		WithArgs("org-1").
		WillReturnRows(webhookRows(map[string]string{srv.URL: "[]"}))

	d := NewDispatcher(repositories.NewWebhookRepository(db), 5*time.Second)
	defer d.Close()

	err = d.Dispatch(context.Background(), &Event{
		Timestamp:      time.Now(),
		Event:          EventPostPublished,
		OrganizationID: "org-1",
		PostID:         "post-1",
		IntegrationID:  "int-1",
		Provider:       "x",
		ReleaseURL:     "https://x.com/i/status/1",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case ev := <-received:
		if ev.Event != EventPostPublished || ev.PostID != "post-1" {
			t.Errorf("delivered event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestDispatch_SkipsNonMatchingIntegrationFilter(t *testing.T) {
	hit := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit <- struct{}{}
	}))
	defer srv.Close()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, organization_id, name, url, integrations").
		WithArgs("org-1").
		WillReturnRows(webhookRows(map[string]string{srv.URL: `["int-other"]`}))

	d := NewDispatcher(repositories.NewWebhookRepository(db), 5*time.Second)

	err = d.Dispatch(context.Background(), &Event{
		Event:          EventPostPublished,
		OrganizationID: "org-1",
		IntegrationID:  "int-1",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Close()

	select {
	case <-hit:
		t.Error("endpoint with non-matching filter received the event")
	default:
	}
}
