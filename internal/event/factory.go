package event

import (
	"time"

	"github.com/google/uuid"
)

// Params carries the caller-supplied fields for a custom event.
type Params struct {
	Name       string
	Properties Properties
	Category   string
	Action     string
	Label      string
	Value      *float64
}

// Factory builds immutable event records. User and session ids are read
// from the injected sources at construction time: later identity changes
// never retroactively alter already-created events.
type Factory struct {
	userID    func() string
	sessionID func() string

	now   func() time.Time
	newID func() string
}

// NewFactory returns a factory bound to the given identity/session sources.
// Either source may return "" when no context is available yet.
func NewFactory(userID, sessionID func() string) *Factory {
	return &Factory{
		userID:    userID,
		sessionID: sessionID,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

func (f *Factory) base(name string) Event {
	return Event{
		ID:            f.newID(),
		Name:          name,
		UserID:        f.userID(),
		SessionID:     f.sessionID(),
		Timestamp:     f.now(),
		Source:        Source,
		SchemaVersion: SchemaVersion,
	}
}

// CreateEvent builds a custom event. Validation happens before the record
// is returned; on failure no partial record exists.
func (f *Factory) CreateEvent(p Params) (Event, error) {
	errs := ValidateName(p.Name)
	errs = append(errs, ValidateProperties(p.Properties, MaxEventProperties)...)
	if len(errs) > 0 {
		return Event{}, &ValidationError{Fields: errs}
	}
	ev := f.base(p.Name)
	ev.Category = p.Category
	ev.Action = p.Action
	ev.Label = p.Label
	ev.Value = p.Value
	ev.Properties = p.Properties
	return ev, nil
}

// CreatePageView builds a page view record.
func (f *Factory) CreatePageView(url, title, referrer string, props Properties) (PageView, error) {
	if url == "" {
		return PageView{}, &ValidationError{Fields: []FieldError{{"url", "required"}}}
	}
	if errs := ValidateProperties(props, MaxEventProperties); len(errs) > 0 {
		return PageView{}, &ValidationError{Fields: errs}
	}
	ev := f.base(NamePageView)
	ev.Properties = props
	return PageView{Event: ev, URL: url, Title: title, Referrer: referrer}, nil
}

// CreateClickEvent builds a click record.
func (f *Factory) CreateClickEvent(element, selector, text string, props Properties) (ClickEvent, error) {
	if element == "" {
		return ClickEvent{}, &ValidationError{Fields: []FieldError{{"element", "required"}}}
	}
	if errs := ValidateProperties(props, MaxEventProperties); len(errs) > 0 {
		return ClickEvent{}, &ValidationError{Fields: errs}
	}
	ev := f.base(NameClick)
	ev.Properties = props
	return ClickEvent{Event: ev, Element: element, Selector: selector, Text: text}, nil
}

// Lifecycle constructors. These are never auto-invoked by the stores;
// the coordinator (or an auto-tracking collaborator) decides when one is
// worth enqueuing.

func (f *Factory) SessionStarted(sessionID string) Event {
	ev := f.base(NameSessionStart)
	ev.Properties = Properties{"session_id": sessionID}
	return ev
}

func (f *Factory) SessionEnded(sessionID string, duration time.Duration) Event {
	ev := f.base(NameSessionEnd)
	ev.Properties = Properties{
		"session_id":  sessionID,
		"duration_ms": duration.Milliseconds(),
	}
	return ev
}

func (f *Factory) UserIdentified(userID string) Event {
	ev := f.base(NameIdentify)
	ev.Properties = Properties{"user_id": userID}
	return ev
}

func (f *Factory) UserAliased(anonymousID, userID string) Event {
	ev := f.base(NameAlias)
	ev.Properties = Properties{"anonymous_id": anonymousID, "user_id": userID}
	return ev
}

func (f *Factory) UserReset() Event {
	return f.base(NameReset)
}
