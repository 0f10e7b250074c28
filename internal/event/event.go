package event

import "time"

// SchemaVersion is stamped on every record produced by the factory.
const SchemaVersion = "1.0.0"

// Source identifies records produced by this SDK on the wire.
const Source = "go-sdk"

// Properties is a flat bag of caller-supplied attributes.
// Values must be strings, numbers, booleans or nil.
type Properties map[string]any

// Event is the canonical record for a tracked occurrence.
// It is immutable once returned by the factory; the queue owns it until
// it is delivered or discarded.
type Event struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Category      string     `json:"category,omitempty"`
	Action        string     `json:"action,omitempty"`
	Label         string     `json:"label,omitempty"`
	Value         *float64   `json:"value,omitempty"`
	Properties    Properties `json:"properties,omitempty"`
	UserID        string     `json:"userId,omitempty"`
	SessionID     string     `json:"sessionId,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	Source        string     `json:"source"`
	SchemaVersion string     `json:"schemaVersion"`
}

// PageView is a page view record before normalization onto the wire format.
type PageView struct {
	Event
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

// ClickEvent is a click record before normalization onto the wire format.
type ClickEvent struct {
	Event
	Element  string `json:"element"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Reserved event names for normalized and lifecycle records.
const (
	NamePageView     = "page_view"
	NameClick        = "click"
	NameSessionStart = "session_start"
	NameSessionEnd   = "session_end"
	NameIdentify     = "identify"
	NameAlias        = "alias"
	NameReset        = "reset"
)

// Flatten folds the page-specific fields into properties so the wire
// format stays uniform across event subtypes.
func (p *PageView) Flatten() Event {
	ev := p.Event
	ev.Properties = cloneProperties(p.Properties, 3)
	ev.Properties["page_url"] = p.URL
	if p.Title != "" {
		ev.Properties["page_title"] = p.Title
	}
	if p.Referrer != "" {
		ev.Properties["page_referrer"] = p.Referrer
	}
	return ev
}

// Flatten folds the click-specific fields into properties.
func (c *ClickEvent) Flatten() Event {
	ev := c.Event
	ev.Properties = cloneProperties(c.Properties, 3)
	ev.Properties["element"] = c.Element
	if c.Selector != "" {
		ev.Properties["selector"] = c.Selector
	}
	if c.Text != "" {
		ev.Properties["text"] = c.Text
	}
	return ev
}

func cloneProperties(props Properties, extra int) Properties {
	out := make(Properties, len(props)+extra)
	for k, v := range props {
		out[k] = v
	}
	return out
}
