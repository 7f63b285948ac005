package xevent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Metadata describes the envelope header attached to every event at emit time.
type Metadata struct {
	// EventID is a unique event identifier, assigned by the bus at emit time.
	EventID string `json:"eventId"`
	// Timestamp is the emit time in unix milliseconds (from the injected clock).
	Timestamp int64 `json:"timestamp"`
	// TenantID is the logical customer/namespace the event belongs to.
	TenantID string `json:"tenantId"`
	// AppID identifies the emitting application.
	AppID string `json:"appId"`
	// UserID optionally identifies the acting user.
	UserID string `json:"userId,omitempty"`
	// CorrelationID optionally links related events across a flow.
	CorrelationID string `json:"correlationId,omitempty"`
	// Version is the schema version the payload was validated against.
	Version string `json:"version"`
	// Source optionally names the producing subsystem.
	Source string `json:"source,omitempty"`
	// Tags is a free-form bag for routing/tracing/tenancy extras.
	Tags map[string]string `json:"tags,omitempty"`
}

// Envelope is the unit traveling the bus: metadata header plus a structured payload.
type Envelope struct {
	Metadata Metadata       `json:"metadata"`
	Payload  map[string]any `json:"payload"`
	// Schema is the "<Name>:<Version>" reference the payload was emitted under.
	Schema string `json:"schema"`
}

// SchemaRef formats the canonical "<Name>:<Version>" schema reference.
func SchemaRef(name, version string) string {
	return fmt.Sprintf("%s:%s", name, version)
}

// EventName derives the event name from the "<Name>:<Version>" schema reference.
func (e *Envelope) EventName() string {
	if i := strings.LastIndex(e.Schema, ":"); i >= 0 {
		return e.Schema[:i]
	}
	return e.Schema
}

// Filter is a partial-match predicate over Metadata fields.
// Keys are the wire names of the scalar metadata fields
// ("eventId", "tenantId", "appId", "userId", "correlationId", "version", "source").
// An empty filter matches everything.
type Filter map[string]string

// Matches reports whether every filter entry equals the corresponding metadata field.
// Unknown keys never match.
func (f Filter) Matches(m Metadata) bool {
	for key, want := range f {
		got, ok := metadataField(m, key)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func metadataField(m Metadata, key string) (string, bool) {
	switch key {
	case "eventId":
		return m.EventID, true
	case "tenantId":
		return m.TenantID, true
	case "appId":
		return m.AppID, true
	case "userId":
		return m.UserID, true
	case "correlationId":
		return m.CorrelationID, true
	case "version":
		return m.Version, true
	case "source":
		return m.Source, true
	default:
		return "", false
	}
}

// Clone returns a deep copy so stored envelopes cannot be mutated by callers.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Metadata.Tags != nil {
		cp.Metadata.Tags = make(map[string]string, len(e.Metadata.Tags))
		for k, v := range e.Metadata.Tags {
			cp.Metadata.Tags[k] = v
		}
	}
	if e.Payload != nil {
		cp.Payload = clonePayload(e.Payload)
	}
	return &cp
}

func clonePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = clonePayload(vv)
		case []any:
			cp := make([]any, len(vv))
			copy(cp, vv)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// Decode unmarshals an envelope payload into a typed value via the JSON codec.
func Decode[T any](env *Envelope) (T, error) {
	var v T
	data, err := json.Marshal(env.Payload)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}
