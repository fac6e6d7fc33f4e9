package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a dev/test fallback when the DB is not configured.
// It mirrors the PostgresStore contract, including uniqueness errors.
type InMemoryStore struct {
	mu     sync.Mutex
	nextID int64

	byID       map[int64]*memUser
	byUsername map[string]int64
	byPublicID map[string]int64
}

type memUser struct {
	user User
	hash string
}

// NewInMemoryStore constructs an in-memory identity Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:       make(map[int64]*memUser),
		byUsername: make(map[string]int64),
		byPublicID: make(map[string]int64),
	}
}

// CreateUser inserts a new user with a freshly allocated public id.
func (s *InMemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	username := NormalizeUsername(in.Username)
	if username == "" || in.PasswordHash == "" {
		return User{}, fmt.Errorf("%s: %w", op, ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[username]; taken {
		return User{}, ConflictError{Op: op, Field: "username"}
	}

	var publicID string
	for attempt := 0; attempt < publicIDAllocAttempts; attempt++ {
		id, err := NewPublicID()
		if err != nil {
			return User{}, fmt.Errorf("%s: %w", op, err)
		}
		if _, taken := s.byPublicID[id]; !taken {
			publicID = id
			break
		}
	}
	if publicID == "" {
		return User{}, ConflictError{Op: op, Field: "public_id"}
	}

	s.nextID++
	u := User{
		ID:        s.nextID,
		PublicID:  publicID,
		Username:  username,
		CreatedAt: now,
	}

	s.byID[u.ID] = &memUser{user: u, hash: in.PasswordHash}
	s.byUsername[username] = u.ID
	s.byPublicID[publicID] = u.ID

	return u, nil
}

// GetByID returns the user with the given surrogate key.
func (s *InMemoryStore) GetByID(ctx context.Context, id int64) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return User{}, fmt.Errorf("identity.GetByID: %w", ErrNotFound)
	}
	return m.user, nil
}

// GetByUsername returns the user with the given username.
func (s *InMemoryStore) GetByUsername(ctx context.Context, username string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUsername[NormalizeUsername(username)]
	if !ok {
		return User{}, fmt.Errorf("identity.GetByUsername: %w", ErrNotFound)
	}
	return s.byID[id].user, nil
}

// GetByPublicID returns the user addressed by the public identifier.
func (s *InMemoryStore) GetByPublicID(ctx context.Context, publicID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPublicID[publicID]
	if !ok {
		return User{}, fmt.Errorf("identity.GetByPublicID: %w", ErrNotFound)
	}
	return s.byID[id].user, nil
}

// ListUsers returns all users ordered by signup.
func (s *InMemoryStore) ListUsers(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]User, 0, len(s.byID))
	for _, m := range s.byID {
		out = append(out, m.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PasswordHashByUsername returns the stored credential hash for login checks.
func (s *InMemoryStore) PasswordHashByUsername(ctx context.Context, username string) (int64, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUsername[NormalizeUsername(username)]
	if !ok {
		return 0, "", fmt.Errorf("identity.PasswordHashByUsername: %w", ErrNotFound)
	}
	return id, s.byID[id].hash, nil
}

// UpdateProfile replaces the mutable profile fields.
func (s *InMemoryStore) UpdateProfile(ctx context.Context, userID int64, username string, bio *string) (User, error) {
	const op = "identity.UpdateProfile"

	username = NormalizeUsername(username)
	if username == "" {
		return User{}, fmt.Errorf("%s: %w", op, ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[userID]
	if !ok {
		return User{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	if taken, exists := s.byUsername[username]; exists && taken != userID {
		return User{}, ConflictError{Op: op, Field: "username"}
	}

	delete(s.byUsername, m.user.Username)
	m.user.Username = username
	m.user.Bio = bio
	s.byUsername[username] = userID

	return m.user, nil
}
