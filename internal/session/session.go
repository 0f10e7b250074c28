// Package session tracks the current session. A stored session older
// than MaxAge (measured from its start time) is considered expired and
// replaced at initialization.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pulsekit/telemetry-go/internal/event"
	"github.com/pulsekit/telemetry-go/internal/storage"
)

// MaxAge is the session validity window, measured from StartTime.
const MaxAge = 30 * time.Minute

const sessionKey = "session"

// Session is the current session record. A session with a nil EndTime is
// active; Duration is computed only when the session ends.
type Session struct {
	ID         string           `msgpack:"id" json:"id"`
	UserID     string           `msgpack:"user_id" json:"userId,omitempty"`
	StartTime  time.Time        `msgpack:"start_time" json:"startTime"`
	EndTime    *time.Time       `msgpack:"end_time" json:"endTime,omitempty"`
	Duration   time.Duration    `msgpack:"duration" json:"duration,omitempty"`
	Properties event.Properties `msgpack:"properties" json:"properties,omitempty"`
	Device     *DeviceInfo      `msgpack:"device" json:"device,omitempty"`
	Browser    *BrowserInfo     `msgpack:"browser" json:"browser,omitempty"`
	Location   *LocationInfo    `msgpack:"location" json:"location,omitempty"`
}

// Active reports whether the session has not ended yet.
func (s *Session) Active() bool { return s != nil && s.EndTime == nil }

// Store owns the current session. Mutations persist the full record
// before updating in-memory state, so a crash between the two cannot
// leave storage stale relative to memory.
type Store struct {
	kv    *storage.Store
	probe EnvironmentProbe

	mu      sync.Mutex
	current *Session

	now   func() time.Time
	newID func() string
}

func New(kv *storage.Store, probe EnvironmentProbe) *Store {
	if probe == nil {
		probe = HostProbe{}
	}
	return &Store{
		kv:    kv,
		probe: probe,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Initialize loads the persisted session and resumes it when it is still
// active and younger than MaxAge; otherwise a new session is started.
// The second return value reports whether a stored session was resumed.
func (s *Store) Initialize(ctx context.Context, userID string) (*Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := s.kv.Get(ctx, sessionKey)
	if err != nil {
		return nil, false, err
	}
	if ok {
		var sess Session
		if err := msgpack.Unmarshal(data, &sess); err != nil {
			return nil, false, fmt.Errorf("decode session record: %w", err)
		}
		if sess.Active() && s.now().Sub(sess.StartTime) < MaxAge {
			s.current = &sess
			return s.snapshot(), true, nil
		}
	}
	sess, err := s.start(ctx, userID, nil)
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

// StartSession ends any existing session first, then creates a new one
// with a fresh environment snapshot.
func (s *Store) StartSession(ctx context.Context, userID string, props event.Properties) (*Session, error) {
	if errs := event.ValidateProperties(props, event.MaxSessionProperties); len(errs) > 0 {
		return nil, &event.ValidationError{Fields: errs}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Active() {
		if err := s.end(ctx); err != nil {
			return nil, err
		}
	}
	return s.start(ctx, userID, props)
}

// start creates and persists a new session. Callers hold s.mu.
func (s *Store) start(ctx context.Context, userID string, props event.Properties) (*Session, error) {
	env := s.probe.Snapshot()
	sess := &Session{
		ID:         s.newID(),
		UserID:     userID,
		StartTime:  s.now(),
		Properties: props,
		Device:     env.Device,
		Browser:    env.Browser,
		Location:   env.Location,
	}
	if sess.Properties == nil {
		sess.Properties = event.Properties{}
	}
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	s.current = sess
	return s.snapshot(), nil
}

// EndSession stamps EndTime and Duration and clears the active handle.
// No-op when no session is active.
func (s *Store) EndSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current.Active() {
		return nil
	}
	return s.end(ctx)
}

// end finalizes the current session. Callers hold s.mu.
func (s *Store) end(ctx context.Context) error {
	now := s.now()
	sess := *s.current
	sess.EndTime = &now
	sess.Duration = now.Sub(sess.StartTime)
	if err := s.persist(ctx, &sess); err != nil {
		return err
	}
	s.current = nil
	return nil
}

// UpdateProperties merges props into the active session's properties.
func (s *Store) UpdateProperties(ctx context.Context, props event.Properties) error {
	if errs := event.ValidateProperties(props, event.MaxSessionProperties); len(errs) > 0 {
		return &event.ValidationError{Fields: errs}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current.Active() {
		return fmt.Errorf("session: no active session")
	}
	sess := *s.current
	merged := make(event.Properties, len(sess.Properties)+len(props))
	for k, v := range sess.Properties {
		merged[k] = v
	}
	for k, v := range props {
		merged[k] = v
	}
	if len(merged) > event.MaxSessionProperties {
		return &event.ValidationError{Fields: []event.FieldError{
			{Field: "properties", Msg: fmt.Sprintf("max %d entries", event.MaxSessionProperties)},
		}}
	}
	sess.Properties = merged
	if err := s.persist(ctx, &sess); err != nil {
		return err
	}
	s.current = &sess
	return nil
}

// Reset removes the persisted session and drops the active handle.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Remove(ctx, sessionKey); err != nil {
		return err
	}
	s.current = nil
	return nil
}

// Current returns a copy of the active session, or nil.
func (s *Store) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// SessionID returns the active session id, or "".
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

// SessionDuration returns the elapsed time of the active session, or
// zero when none is active.
func (s *Store) SessionDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	return s.now().Sub(s.current.StartTime)
}

// IsActive reports whether a session is currently active.
func (s *Store) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Active()
}

func (s *Store) snapshot() *Session {
	if s.current == nil {
		return nil
	}
	sess := *s.current
	props := make(event.Properties, len(s.current.Properties))
	for k, v := range s.current.Properties {
		props[k] = v
	}
	sess.Properties = props
	return &sess
}

func (s *Store) persist(ctx context.Context, sess *Session) error {
	data, err := msgpack.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	return s.kv.Set(ctx, sessionKey, data, 0)
}
