// Package auth holds the credential gate consumed by the workflow core.
// The core never issues or refreshes tokens; it only attaches whatever the
// gate holds and reports expiry back to it.
package auth

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// Gate is the credential capability handed to clients and controllers
type Gate interface {
	// Attach adds credentials to an outgoing request
	Attach(req *http.Request) error
	// Authenticated reports whether an actor is currently signed in
	Authenticated() bool
	// NotifyExpired tells the gate that a remote call answered 401/403
	NotifyExpired()
}

// TokenGate is a bearer-token gate. Listeners registered with OnExpired run
// once per token when it is reported expired.
type TokenGate struct {
	mu        sync.Mutex
	token     string
	expired   bool
	listeners []func()
	log       zerolog.Logger
}

// NewTokenGate creates a gate holding the given token (empty = signed out)
func NewTokenGate(token string, log zerolog.Logger) *TokenGate {
	return &TokenGate{
		token: token,
		log:   log.With().Str("component", "auth_gate").Logger(),
	}
}

// Attach sets the Authorization header when a live token is held
func (g *TokenGate) Attach(req *http.Request) error {
	g.mu.Lock()
	token, expired := g.token, g.expired
	g.mu.Unlock()

	if token != "" && !expired {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// Authenticated reports whether a non-expired token is held
func (g *TokenGate) Authenticated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token != "" && !g.expired
}

// SetToken installs a fresh token, clearing any expiry
func (g *TokenGate) SetToken(token string) {
	g.mu.Lock()
	g.token = token
	g.expired = false
	g.mu.Unlock()
}

// OnExpired registers a callback for credential expiry
func (g *TokenGate) OnExpired(fn func()) {
	g.mu.Lock()
	g.listeners = append(g.listeners, fn)
	g.mu.Unlock()
}

// NotifyExpired marks the token expired and runs the listeners. Repeated
// notifications for the same token are ignored.
func (g *TokenGate) NotifyExpired() {
	g.mu.Lock()
	if g.expired {
		g.mu.Unlock()
		return
	}
	g.expired = true
	listeners := append([]func(){}, g.listeners...)
	g.mu.Unlock()

	g.log.Warn().Msg("Credentials expired, re-authentication required")
	for _, fn := range listeners {
		fn()
	}
}
