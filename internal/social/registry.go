package social

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/oauth2"
)

// PublishRequest is one outbound post for one connected account
type PublishRequest struct {
	IntegrationID string
	AccessToken   string
	Content       string
	MediaURLs     []string
}

// PublishResult is the provider's acknowledgement of a published post
type PublishResult struct {
	// PostID is the provider-side id of the created post
	PostID string
	// ReleaseURL is the public URL of the post
	ReleaseURL string
}

// Provider is the contract every social-network adapter implements. Adapters
// embed *Abstract for execution and add provider-specific request shaping.
type Provider interface {
	// Identifier is the stable provider key ("x", "linkedin", ...)
	Identifier() string
	// MaxConcurrentJob bounds parallel calls in this provider's bucket
	MaxConcurrentJob() int
	// Scopes are the OAuth scopes the provider requires to publish
	Scopes() []string
	// Publish sends one post to the provider
	Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error)
	// RefreshToken exchanges a refresh token for a fresh credential
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Registry maps provider identifiers to adapters. Adapters self-register a
// factory in the providers package (see providers.BuildRegistry), so adding a
// provider requires no central switch statement.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry. Registering the same identifier
// twice is a programming error and panics at startup rather than silently
// shadowing an adapter.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.Identifier()
	if _, exists := r.providers[id]; exists {
		panic(fmt.Sprintf("social: provider %q registered twice", id))
	}
	r.providers[id] = p
}

// Get returns the provider for the identifier, or nil when unknown
func (r *Registry) Get(identifier string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[identifier]
}

// Identifiers returns the registered provider identifiers, sorted
func (r *Registry) Identifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
