// Package identity tracks the current user: anonymous until Identify is
// called, persisted across restarts through the key-value store.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pulsekit/telemetry-go/internal/event"
	"github.com/pulsekit/telemetry-go/internal/storage"
)

// ErrNotFound is returned by Alias when no anonymous record exists for
// the given anonymous id.
var ErrNotFound = errors.New("identity: anonymous user not found")

const (
	currentUserKey = "user"
	anonymousKey   = "anonymous_"
)

// User is the current identity record. Exactly one exists per store; it
// is replaced wholesale on Identify, Alias and Reset.
type User struct {
	ID         string           `msgpack:"id" json:"id"`
	Properties event.Properties `msgpack:"properties" json:"properties,omitempty"`
	Anonymous  bool             `msgpack:"anonymous" json:"anonymous"`
	CreatedAt  time.Time        `msgpack:"created_at" json:"createdAt"`
	LastSeenAt time.Time        `msgpack:"last_seen_at" json:"lastSeenAt"`
}

// Store owns the current user. All mutations persist before updating the
// in-memory handle, so memory is always the derived view.
type Store struct {
	kv *storage.Store

	mu      sync.Mutex
	current *User

	now   func() time.Time
	newID func() string
}

func New(kv *storage.Store) *Store {
	return &Store{
		kv:    kv,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Initialize loads the persisted user, synthesizing a fresh anonymous one
// when none exists.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := s.kv.Get(ctx, currentUserKey)
	if err != nil {
		return err
	}
	if ok {
		var u User
		if err := msgpack.Unmarshal(data, &u); err != nil {
			return fmt.Errorf("decode user record: %w", err)
		}
		s.current = &u
		return nil
	}
	return s.createAnonymous(ctx)
}

// createAnonymous synthesizes a new anonymous user and persists it under
// both the current-user key and its anonymous_<id> alias record so a
// later Alias call can re-key it. Callers hold s.mu.
func (s *Store) createAnonymous(ctx context.Context) error {
	now := s.now()
	u := &User{
		ID:         "anon_" + s.newID(),
		Properties: event.Properties{},
		Anonymous:  true,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.persist(ctx, currentUserKey, u); err != nil {
		return err
	}
	if err := s.persist(ctx, anonymousKey+u.ID, u); err != nil {
		return err
	}
	s.current = u
	return nil
}

// Identify assigns a known id to the current user, merging properties
// (new values override old). Requires a non-empty user id.
func (s *Store) Identify(ctx context.Context, userID string, props event.Properties) (*User, error) {
	if userID == "" {
		return nil, &event.ValidationError{Fields: []event.FieldError{{Field: "userId", Msg: "required"}}}
	}
	if errs := event.ValidateProperties(props, event.MaxUserProperties); len(errs) > 0 {
		return nil, &event.ValidationError{Fields: errs}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var u User
	if s.current != nil {
		u = *s.current
		u.Properties = mergeProperties(u.Properties, props)
	} else {
		u = User{CreatedAt: now, Properties: mergeProperties(nil, props)}
	}
	u.ID = userID
	u.Anonymous = false
	u.LastSeenAt = now
	if err := s.checkMerged(u.Properties); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, currentUserKey, &u); err != nil {
		return nil, err
	}
	s.current = &u
	return s.snapshot(), nil
}

// Alias re-keys a previously stored anonymous record under userID and
// deletes the anonymous record. Fails with ErrNotFound when no such
// record exists.
func (s *Store) Alias(ctx context.Context, anonymousID, userID string) (*User, error) {
	if userID == "" {
		return nil, &event.ValidationError{Fields: []event.FieldError{{Field: "userId", Msg: "required"}}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := s.kv.Get(ctx, anonymousKey+anonymousID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, anonymousID)
	}
	var u User
	if err := msgpack.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode anonymous record: %w", err)
	}
	u.ID = userID
	u.Anonymous = false
	u.LastSeenAt = s.now()
	if err := s.persist(ctx, currentUserKey, &u); err != nil {
		return nil, err
	}
	if err := s.kv.Remove(ctx, anonymousKey+anonymousID); err != nil {
		return nil, err
	}
	s.current = &u
	return s.snapshot(), nil
}

// UpdateProperties merges props into the current user's properties.
// Validation is all-or-nothing: nothing persists on failure.
func (s *Store) UpdateProperties(ctx context.Context, props event.Properties) error {
	if errs := event.ValidateProperties(props, event.MaxUserProperties); len(errs) > 0 {
		return &event.ValidationError{Fields: errs}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		if err := s.createAnonymous(ctx); err != nil {
			return err
		}
	}
	u := *s.current
	u.Properties = mergeProperties(u.Properties, props)
	if err := s.checkMerged(u.Properties); err != nil {
		return err
	}
	u.LastSeenAt = s.now()
	if err := s.persist(ctx, currentUserKey, &u); err != nil {
		return err
	}
	s.current = &u
	return nil
}

// Reset clears the stored user and synthesizes a fresh anonymous one.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Remove(ctx, currentUserKey); err != nil {
		return err
	}
	s.current = nil
	return s.createAnonymous(ctx)
}

// CurrentUser returns a copy of the current user, or nil before Initialize.
func (s *Store) CurrentUser() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// UserID returns the current user id, or "" before Initialize.
func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

// IsIdentified reports whether Identify or Alias has assigned a known id.
func (s *Store) IsIdentified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && !s.current.Anonymous
}

func (s *Store) snapshot() *User {
	if s.current == nil {
		return nil
	}
	u := *s.current
	u.Properties = mergeProperties(nil, s.current.Properties)
	return &u
}

func (s *Store) persist(ctx context.Context, key string, u *User) error {
	data, err := msgpack.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user record: %w", err)
	}
	return s.kv.Set(ctx, key, data, 0)
}

// checkMerged re-validates the entry ceiling after a merge; merging two
// individually valid maps can still exceed it.
func (s *Store) checkMerged(props event.Properties) error {
	if len(props) > event.MaxUserProperties {
		return &event.ValidationError{Fields: []event.FieldError{
			{Field: "properties", Msg: fmt.Sprintf("max %d entries", event.MaxUserProperties)},
		}}
	}
	return nil
}

func mergeProperties(old, add event.Properties) event.Properties {
	out := make(event.Properties, len(old)+len(add))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}
