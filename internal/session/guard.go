package session

import (
	"errors"
	"strings"
	"sync"

	"github.com/zeusync/entitysync/internal/client"
	"github.com/zeusync/entitysync/internal/observability/log"
)

const DefaultLoginRoute = "/login"

// Credentials is the part of the credential store the guard clears.
type Credentials interface {
	RemoveToken() error
	RemoveUser() error
}

// Navigator moves the user interface to another route.
type Navigator interface {
	CurrentRoute() string
	Navigate(route string) error
}

// Guard turns an expired session into its side effects: stored credentials are
// cleared and the user is sent to the login route. It only reacts to
// client.ErrAuthExpired; permission failures pass through untouched.
type Guard struct {
	credentials Credentials
	navigator   Navigator
	loginRoute  string
	logger      log.Log
}

func NewGuard(creds Credentials, nav Navigator, loginRoute string, logger log.Log) *Guard {
	if loginRoute == "" {
		loginRoute = DefaultLoginRoute
	}
	return &Guard{
		credentials: creds,
		navigator:   nav,
		loginRoute:  loginRoute,
		logger:      logger.With(log.String("component", "session")),
	}
}

// Handle runs HandleAuthExpired when err is an expired session and reports whether it did.
func (g *Guard) Handle(path string, err error) (bool, error) {
	if g == nil || !errors.Is(err, client.ErrAuthExpired) {
		return false, nil
	}
	return true, g.HandleAuthExpired(path)
}

// HandleAuthExpired clears the session and navigates to the login route
// unless the navigator is already there.
func (g *Guard) HandleAuthExpired(path string) error {
	g.logger.Warn("Session expired, clearing credentials", log.String("path", path))

	var errs []error
	if g.credentials != nil {
		errs = append(errs, g.credentials.RemoveToken(), g.credentials.RemoveUser())
	}
	if g.navigator != nil && !strings.Contains(g.navigator.CurrentRoute(), g.loginRoute) {
		errs = append(errs, g.navigator.Navigate(g.loginRoute))
	}
	return errors.Join(errs...)
}

// RecordingNavigator remembers the current route and every navigation.
// It is the navigator used by headless callers such as the CLI.
type RecordingNavigator struct {
	mu      sync.Mutex
	current string
	history []string
}

func NewRecordingNavigator(initial string) *RecordingNavigator {
	return &RecordingNavigator{current: initial}
}

func (n *RecordingNavigator) CurrentRoute() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *RecordingNavigator) Navigate(route string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = route
	n.history = append(n.history, route)
	return nil
}

// History returns the routes navigated to, oldest first.
func (n *RecordingNavigator) History() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.history...)
}
