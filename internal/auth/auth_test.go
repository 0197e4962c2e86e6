package auth

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateAPIKey(t *testing.T) {
	key, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if !strings.HasPrefix(key, APIKeyPrefix+"_") {
		t.Errorf("key %q missing %q prefix", key, APIKeyPrefix)
	}
	if len(prefix) != DisplayPrefixLength {
		t.Errorf("display prefix length = %d, want %d", len(prefix), DisplayPrefixLength)
	}
	if !strings.HasPrefix(key, prefix) {
		t.Errorf("key does not start with its display prefix")
	}
	if !ValidateAPIKey(key, hash) {
		t.Error("freshly generated key failed validation")
	}
	if ValidateAPIKey(key+"x", hash) {
		t.Error("tampered key passed validation")
	}
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer pub_abc", "pub_abc", false},
		{"Bearer   pub_abc  ", "pub_abc", false},
		{"", "", true},
		{"Basic foo", "", true},
		{"Bearer ", "", true},
	}
	for _, tt := range tests {
		got, err := ExtractBearer(tt.header)
		if (err != nil) != tt.wantErr {
			t.Errorf("ExtractBearer(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ExtractBearer(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestJWTRoundTrip(t *testing.T) {
	m, err := NewJWTManager(strings.Repeat("s", 32))
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	token, err := m.Generate("user-1", "a@b.co", time.Minute)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@b.co" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Issuer != "publora" {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
}

func TestJWTRejects(t *testing.T) {
	if _, err := NewJWTManager("short"); err == nil {
		t.Error("short secret accepted")
	}

	m, _ := NewJWTManager(strings.Repeat("s", 32))
	other, _ := NewJWTManager(strings.Repeat("t", 32))

	token, _ := other.Generate("user-1", "a@b.co", time.Minute)
	if _, err := m.Validate(token); err == nil {
		t.Error("token signed with a different secret accepted")
	}

	expired, _ := m.Generate("user-1", "a@b.co", -time.Minute)
	if _, err := m.Validate(expired); err == nil {
		t.Error("expired token accepted")
	}
}
