package xevent

import "context"

// EventDraft is a fluent construction helper for emitting a single event.
// Each setter mutates a local draft of the metadata overrides and returns the
// draft; Emit hands the draft to Bus.Emit. The draft carries no state beyond
// the overrides and is not safe for concurrent use.
//
//	id, err := xevent.NewEvent("user.created", payload).
//		Tenant("acme").
//		User("u-1").
//		Correlation("req-42").
//		Tag("region", "eu").
//		Emit(ctx, bus)
type EventDraft struct {
	name      string
	payload   map[string]any
	overrides Metadata
}

// NewEvent starts a draft for the named event.
func NewEvent(name string, payload map[string]any) *EventDraft {
	return &EventDraft{name: name, payload: payload}
}

// Tenant sets metadata.tenantId.
func (d *EventDraft) Tenant(id string) *EventDraft {
	d.overrides.TenantID = id
	return d
}

// App sets metadata.appId.
func (d *EventDraft) App(id string) *EventDraft {
	d.overrides.AppID = id
	return d
}

// User sets metadata.userId.
func (d *EventDraft) User(id string) *EventDraft {
	d.overrides.UserID = id
	return d
}

// Correlation sets metadata.correlationId.
func (d *EventDraft) Correlation(id string) *EventDraft {
	d.overrides.CorrelationID = id
	return d
}

// Version sets the schema version the payload is emitted under.
func (d *EventDraft) Version(v string) *EventDraft {
	d.overrides.Version = v
	return d
}

// Source sets metadata.source.
func (d *EventDraft) Source(s string) *EventDraft {
	d.overrides.Source = s
	return d
}

// Tag adds one metadata tag.
func (d *EventDraft) Tag(key, value string) *EventDraft {
	if d.overrides.Tags == nil {
		d.overrides.Tags = make(map[string]string)
	}
	d.overrides.Tags[key] = value
	return d
}

// Emit publishes the draft through the bus and returns the assigned event id.
func (d *EventDraft) Emit(ctx context.Context, bus *Bus) (string, error) {
	return bus.Emit(ctx, d.name, d.payload, d.overrides)
}
