// Package auth abstracts the identity provider. The rest of the client only
// cares about the current Session and being told when it changes; the
// concrete provider (hosted identity, test double) lives behind Provider.
package auth

import (
	"context"
	"strings"
	"sync"
)

// Session identifies who is using the client. The zero value is the
// signed-out state.
type Session struct {
	UID         string
	DisplayName string
	Email       string
	PhotoURL    string
}

// SignedIn reports whether a user is authenticated.
func (s Session) SignedIn() bool {
	return s.UID != ""
}

// Name returns the best display name available: the profile name, then the
// local part of the email, then "Anonymous".
func (s Session) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	if s.Email != "" {
		if at := strings.IndexByte(s.Email, '@'); at > 0 {
			return s.Email[:at]
		}
		return s.Email
	}
	return "Anonymous"
}

// Provider is the identity source.
type Provider interface {
	// Current returns the present session, zero when signed out.
	Current() Session
	// OnChange registers a callback invoked on every sign-in and sign-out,
	// including a synchronous call with the current state at registration.
	// The returned func cancels the registration.
	OnChange(fn func(Session)) (cancel func())
	// SignOut ends the current session.
	SignOut(ctx context.Context) error
}

// Local is an in-process Provider. It backs tests and the offline-only mode
// where no hosted identity is configured.
type Local struct {
	mu        sync.Mutex
	current   Session
	listeners map[int]func(Session)
	nextID    int
}

// NewLocal returns a signed-out provider.
func NewLocal() *Local {
	return &Local{listeners: make(map[int]func(Session))}
}

// Current implements Provider.
func (l *Local) Current() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// OnChange implements Provider.
func (l *Local) OnChange(fn func(Session)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	current := l.current
	l.mu.Unlock()

	fn(current)
	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// SignIn establishes the session and notifies listeners.
func (l *Local) SignIn(s Session) {
	l.set(s)
}

// SignOut implements Provider.
func (l *Local) SignOut(ctx context.Context) error {
	l.set(Session{})
	return nil
}

func (l *Local) set(s Session) {
	l.mu.Lock()
	l.current = s
	listeners := make([]func(Session), 0, len(l.listeners))
	for _, fn := range l.listeners {
		listeners = append(listeners, fn)
	}
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}
