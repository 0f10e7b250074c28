package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFactory() *Factory {
	f := NewFactory(
		func() string { return "user-1" },
		func() string { return "sess-1" },
	)
	f.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func TestCreateEventPopulatesRecord(t *testing.T) {
	f := newTestFactory()
	val := 9.99
	ev, err := f.CreateEvent(Params{
		Name:       "checkout_completed",
		Properties: Properties{"plan": "team", "seats": 5, "trial": false, "coupon": nil},
		Category:   "commerce",
		Action:     "purchase",
		Label:      "pricing-page",
		Value:      &val,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "checkout_completed", ev.Name)
	assert.Equal(t, "commerce", ev.Category)
	assert.Equal(t, "purchase", ev.Action)
	assert.Equal(t, "pricing-page", ev.Label)
	require.NotNil(t, ev.Value)
	assert.Equal(t, 9.99, *ev.Value)
	assert.Equal(t, "user-1", ev.UserID)
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.Equal(t, Source, ev.Source)
	assert.Equal(t, SchemaVersion, ev.SchemaVersion)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestCreateEventSnapshotsContext(t *testing.T) {
	userID := "anon_1"
	f := NewFactory(
		func() string { return userID },
		func() string { return "sess-1" },
	)

	ev1, err := f.CreateEvent(Params{Name: "first"})
	require.NoError(t, err)

	userID = "user-42"
	ev2, err := f.CreateEvent(Params{Name: "second"})
	require.NoError(t, err)

	// Identity changes never retroactively alter created events.
	assert.Equal(t, "anon_1", ev1.UserID)
	assert.Equal(t, "user-42", ev2.UserID)
}

func TestCreateEventRejectsBadNames(t *testing.T) {
	f := newTestFactory()
	for _, name := range []string{"", "has space", "emoji✨", "semi;colon", "dot.name"} {
		_, err := f.CreateEvent(Params{Name: name})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "name %q", name)
	}
}

func TestCreateEventAcceptsValidNames(t *testing.T) {
	f := newTestFactory()
	for _, name := range []string{"a", "page_view", "Checkout-2", "UPPER_lower-123"} {
		_, err := f.CreateEvent(Params{Name: name})
		require.NoError(t, err, "name %q", name)
	}
}

func TestCreateEventRejectsBadProperties(t *testing.T) {
	f := newTestFactory()

	cases := map[string]Properties{
		"bad key":       {"has space": 1},
		"slice value":   {"tags": []string{"a"}},
		"map value":     {"nested": map[string]any{"a": 1}},
		"struct value":  {"t": time.Now()},
		"pointer value": {"p": &struct{}{}},
	}
	for label, props := range cases {
		_, err := f.CreateEvent(Params{Name: "ok", Properties: props})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, label)
	}
}

func TestCreateEventPropertyCeiling(t *testing.T) {
	f := newTestFactory()

	props := make(Properties, MaxEventProperties+1)
	for i := 0; i <= MaxEventProperties; i++ {
		props["k"+string(rune('a'+i%26))+string(rune('a'+i/26))] = i
	}
	_, err := f.CreateEvent(Params{Name: "ok", Properties: props})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestPageViewFlatten(t *testing.T) {
	f := newTestFactory()
	pv, err := f.CreatePageView("https://example.com/x", "X", "https://ref", Properties{"ab": "test"})
	require.NoError(t, err)

	ev := pv.Flatten()
	assert.Equal(t, NamePageView, ev.Name)
	assert.Equal(t, "https://example.com/x", ev.Properties["page_url"])
	assert.Equal(t, "X", ev.Properties["page_title"])
	assert.Equal(t, "https://ref", ev.Properties["page_referrer"])
	assert.Equal(t, "test", ev.Properties["ab"])
	// The original property bag must not be mutated by flattening.
	assert.NotContains(t, pv.Properties, "page_url")
}

func TestPageViewRequiresURL(t *testing.T) {
	f := newTestFactory()
	_, err := f.CreatePageView("", "X", "", nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestClickFlatten(t *testing.T) {
	f := newTestFactory()
	ce, err := f.CreateClickEvent("button", "#buy", "Buy now", nil)
	require.NoError(t, err)

	ev := ce.Flatten()
	assert.Equal(t, NameClick, ev.Name)
	assert.Equal(t, "button", ev.Properties["element"])
	assert.Equal(t, "#buy", ev.Properties["selector"])
	assert.Equal(t, "Buy now", ev.Properties["text"])
}

func TestClickRequiresElement(t *testing.T) {
	f := newTestFactory()
	_, err := f.CreateClickEvent("", "", "", nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestLifecycleConstructors(t *testing.T) {
	f := newTestFactory()

	start := f.SessionStarted("s-1")
	assert.Equal(t, NameSessionStart, start.Name)
	assert.Equal(t, "s-1", start.Properties["session_id"])

	end := f.SessionEnded("s-1", 90*time.Second)
	assert.Equal(t, NameSessionEnd, end.Name)
	assert.Equal(t, int64(90_000), end.Properties["duration_ms"])

	ident := f.UserIdentified("user-9")
	assert.Equal(t, NameIdentify, ident.Name)

	alias := f.UserAliased("anon_1", "user-9")
	assert.Equal(t, NameAlias, alias.Name)
	assert.Equal(t, "anon_1", alias.Properties["anonymous_id"])

	assert.Equal(t, NameReset, f.UserReset().Name)
}
