// Package providers contains the social-network adapters. Each adapter file
// self-registers a factory in an init function; BuildRegistry instantiates
// every registered adapter with the shared dependencies. Adding a provider is
// one new file; no central switch statement to touch.
package providers

import (
	"net/http"

	"github.com/publora/publora/internal/concurrency"
	"github.com/publora/publora/internal/social"
)

// OAuthCredentials is the app-level client configuration for one provider
type OAuthCredentials struct {
	ClientID     string
	ClientSecret string
}

// Deps are the shared dependencies every adapter receives
type Deps struct {
	Limiter *concurrency.Registry
	Client  *http.Client
	// OAuth maps provider identifier to app credentials
	OAuth map[string]OAuthCredentials
}

func (d Deps) credentials(identifier string) OAuthCredentials {
	return d.OAuth[identifier]
}

var factories []func(Deps) social.Provider

func register(f func(Deps) social.Provider) {
	factories = append(factories, f)
}

// BuildRegistry instantiates every registered adapter
func BuildRegistry(deps Deps) *social.Registry {
	reg := social.NewRegistry()
	for _, f := range factories {
		reg.Register(f(deps))
	}
	return reg
}
