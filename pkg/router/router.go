// Package router maps the model names given on the command line to the
// provider connections that serve them.
package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artkit-ai/artkit/pkg/config"
)

// ErrNoProviders is returned when the configuration defines no providers.
var ErrNoProviders = errors.New("no providers configured")

// Route is one provider and model to try.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

func (r Route) String() string {
	return r.Provider.Name + "/" + r.Model
}

// Router resolves requested model names to ordered provider+model chains.
type Router struct {
	providers map[string]config.ProviderConfig
	routes    map[string][]config.RouteTarget
	fallback  *config.ProviderConfig
}

// New indexes the providers and routes of cfg.
func New(cfg *config.Config) *Router {
	r := &Router{
		providers: make(map[string]config.ProviderConfig, len(cfg.Providers)),
		routes:    make(map[string][]config.RouteTarget, len(cfg.Router.Routes)),
	}
	for _, p := range cfg.Providers {
		r.providers[p.Name] = p
	}
	if len(cfg.Providers) > 0 {
		first := cfg.Providers[0]
		r.fallback = &first
	}
	for _, route := range cfg.Router.Routes {
		if _, dup := r.routes[route.Model]; dup {
			continue // first definition wins
		}
		r.routes[route.Model] = route.Targets
	}
	return r
}

// Resolve returns an ordered list of routes for the requested model.
//
// A configured alias expands to its targets, skipping unknown providers.
// "provider/model" addresses a named provider directly. Any other name is
// sent to the first configured provider unchanged.
func (r *Router) Resolve(requestedModel string) ([]Route, error) {
	if r.fallback == nil {
		return nil, ErrNoProviders
	}

	if targets, ok := r.routes[requestedModel]; ok {
		var routes []Route
		for _, target := range targets {
			provider, ok := r.providers[target.Provider]
			if !ok {
				continue
			}
			model := target.Model
			if model == "" {
				model = requestedModel
			}
			routes = append(routes, Route{Provider: provider, Model: model})
		}
		if len(routes) == 0 {
			return nil, fmt.Errorf("route %q: all providers unknown", requestedModel)
		}
		return routes, nil
	}

	if name, model, ok := strings.Cut(requestedModel, "/"); ok {
		if provider, known := r.providers[name]; known && model != "" {
			return []Route{{Provider: provider, Model: model}}, nil
		}
	}

	return []Route{{Provider: *r.fallback, Model: requestedModel}}, nil
}
