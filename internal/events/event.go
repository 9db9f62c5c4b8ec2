package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// JSON field names used by the IoT platform.
const (
	FieldEventID     = "event_id"
	FieldEventType   = "event_type"
	FieldDevicePhyID = "device_phy_id"
	FieldData        = "data"
	FieldReceivedAt  = "received_at"
)

var (
	// ErrParse means the body is not valid JSON.
	ErrParse = errors.New("json parse error")
	// ErrInvalid means the body is valid JSON but not a usable event object.
	ErrInvalid = errors.New("invalid json")
)

// Event is a single notification pushed by the platform.
//
// Only ReceivedAt is written by the store; everything else comes from the
// sender. Top-level fields other than the well-known ones are kept in Extra
// so the event is re-emitted the way it was received. A well-known field
// that arrived as a number, boolean, object or array is also kept in Extra
// under its own key and re-emitted as received.
type Event struct {
	EventID     string
	EventType   string
	DevicePhyID string
	Data        map[string]any
	ReceivedAt  time.Time
	Extra       map[string]any

	// typeSet records that the sender included event_type, even if empty.
	typeSet bool
}

// ParseEvent decodes a webhook body into an Event.
//
// Bodies that are not JSON yield ErrParse. JSON that is null, an empty
// object, or not an object at all yields ErrInvalid. Numeric and boolean
// id, type and device fields take their JSON text form, so 1 and 2 stay
// distinct ids. Missing, null, object and array values become empty strings.
func ParseEvent(body []byte) (Event, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if dec.More() {
		return Event{}, fmt.Errorf("%w: trailing data after JSON value", ErrParse)
	}

	obj, ok := raw.(map[string]any)
	if !ok || len(obj) == 0 {
		return Event{}, ErrInvalid
	}

	return FromMap(obj), nil
}

// FromMap builds an Event from a decoded JSON object.
func FromMap(obj map[string]any) Event {
	e := Event{
		EventID:     stringField(obj, FieldEventID),
		EventType:   stringField(obj, FieldEventType),
		DevicePhyID: stringField(obj, FieldDevicePhyID),
	}
	_, e.typeSet = obj[FieldEventType]

	extra := make(map[string]any)
	for k, v := range obj {
		switch k {
		case FieldEventID, FieldEventType, FieldDevicePhyID:
			if _, isString := v.(string); !isString && v != nil {
				extra[k] = v
			}
		case FieldReceivedAt:
			// Always assigned locally.
		case FieldData:
			if data, ok := v.(map[string]any); ok {
				e.Data = data
			} else if v != nil {
				extra[k] = v
			}
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		e.Extra = extra
	}

	return e
}

// MarshalJSON emits the event as a flat object with the platform's field
// names plus received_at and any extra fields the sender included.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+5)
	for k, v := range e.Extra {
		out[k] = v
	}

	for key, value := range map[string]string{
		FieldEventID:     e.EventID,
		FieldEventType:   e.EventType,
		FieldDevicePhyID: e.DevicePhyID,
	} {
		if _, raw := out[key]; !raw {
			out[key] = value
		}
	}
	if e.Data != nil {
		out[FieldData] = e.Data
	} else if _, ok := out[FieldData]; !ok {
		out[FieldData] = map[string]any{}
	}
	if !e.ReceivedAt.IsZero() {
		out[FieldReceivedAt] = e.ReceivedAt.Format(time.RFC3339Nano)
	}

	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *Event) UnmarshalJSON(b []byte) error {
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return err
	}

	*e = FromMap(obj)
	if ts, ok := obj[FieldReceivedAt].(string); ok && ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("failed to parse received_at: %w", err)
		}
		e.ReceivedAt = t
	}
	return nil
}

// stringField returns the string form of a scalar JSON value. Numbers keep
// their literal text.
func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// clone returns a copy of e that shares no maps or slices with it.
func (e Event) clone() Event {
	e.Data = cloneObject(e.Data)
	e.Extra = cloneObject(e.Extra)
	return e
}

func cloneObject(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneObject(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
