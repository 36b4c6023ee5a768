package credentials

import "sync"

// User is the signed-in account as the session layer stores it.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Store is the credential store the engine consumes.
type Store interface {
	Token() string
	SetToken(token string) error
	RemoveToken() error
	User() (User, bool)
	SetUser(user User) error
	RemoveUser() error
}

// ActorID returns the id of the stored user, or "" when signed out.
func ActorID(s Store) func() string {
	return func() string {
		if u, ok := s.User(); ok {
			return u.ID
		}
		return ""
	}
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	token string
	user  *User
}

func NewMemory(token string, user *User) *Memory {
	m := &Memory{token: token}
	if user != nil {
		u := *user
		m.user = &u
	}
	return m
}

func (m *Memory) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *Memory) SetToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *Memory) RemoveToken() error {
	return m.SetToken("")
}

func (m *Memory) User() (User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return User{}, false
	}
	return *m.user, true
}

func (m *Memory) SetUser(user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = &user
	return nil
}

func (m *Memory) RemoveUser() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = nil
	return nil
}

var _ Store = (*Memory)(nil)
