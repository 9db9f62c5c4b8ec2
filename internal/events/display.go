package events

import (
	"fmt"
)

// Type is a known platform event type. Types only drive presentation;
// the store treats every type the same.
type Type string

const (
	TypeDeviceRegistered Type = "device.registered"
	TypeDeviceHeartbeat  Type = "device.heartbeat"
	TypeOrderCreated     Type = "order.created"
	TypeChargingStarted  Type = "charging.started"
	TypeChargingProgress Type = "charging.progress"
	TypeOrderCompleted   Type = "order.completed"
	TypeDeviceAlarm      Type = "device.alarm"

	// TypeUnknown covers every unrecognized or missing type.
	TypeUnknown Type = ""
)

// notAvailable is shown for missing text fields.
const notAvailable = "N/A"

var knownTypes = map[Type]string{
	TypeDeviceRegistered: "Device registered",
	TypeDeviceHeartbeat:  "Device heartbeat",
	TypeOrderCreated:     "Order created",
	TypeChargingStarted:  "Charging started",
	TypeChargingProgress: "Charging progress",
	TypeOrderCompleted:   "Order completed",
	TypeDeviceAlarm:      "Device alarm",
}

// ParseType maps a raw event_type to a known Type, or TypeUnknown.
func ParseType(s string) Type {
	t := Type(s)
	if _, ok := knownTypes[t]; ok {
		return t
	}
	return TypeUnknown
}

// Known reports whether t is one of the enumerated types.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Label returns the type name, or "unknown". Safe as a metric label.
func (t Type) Label() string {
	if !t.Known() {
		return UnknownType
	}
	return string(t)
}

// Field is a single labelled value extracted for display.
type Field struct {
	Name  string
	Value any
}

// Summary is the human-facing view of an event.
type Summary struct {
	Type   Type
	Title  string
	Alarm  bool
	Fields []Field
}

// Describe extracts the type-specific fields of e. Missing text fields show
// as "N/A" and missing numeric fields as 0.
func Describe(e Event) Summary {
	t := ParseType(e.EventType)
	d := e.Data

	s := Summary{Type: t, Title: knownTypes[t]}
	if s.Title == "" {
		s.Title = "Unrecognized event"
	}

	switch t {
	case TypeDeviceRegistered:
		s.Fields = []Field{
			{"iccid", text(d, "iccid")},
			{"firmware", text(d, "firmware")},
		}
	case TypeDeviceHeartbeat:
		ports := portLines(d)
		s.Fields = []Field{
			{"voltage", text(d, "voltage")},
			{"temp", text(d, "temp")},
			{"port_count", len(ports)},
		}
		if len(ports) > 0 {
			s.Fields = append(s.Fields, Field{"ports", ports})
		}
	case TypeOrderCreated:
		s.Fields = []Field{
			{"order_no", text(d, "order_no")},
			{"port_no", text(d, "port_no")},
			{"charge_mode", text(d, "charge_mode")},
			{"duration", text(d, "duration")},
		}
	case TypeChargingStarted:
		s.Fields = []Field{
			{"order_no", text(d, "order_no")},
			{"port_no", text(d, "port_no")},
			{"start_time", text(d, "start_time")},
		}
	case TypeChargingProgress:
		s.Fields = []Field{
			{"order_no", text(d, "order_no")},
			{"duration_sec", number(d, "duration_sec")},
			{"total_kwh", number(d, "total_kwh")},
			{"current_power", number(d, "current_power")},
		}
	case TypeOrderCompleted:
		s.Fields = []Field{
			{"order_no", text(d, "order_no")},
			{"duration_sec", number(d, "duration_sec")},
			{"total_kwh", number(d, "total_kwh")},
			{"final_amount", number(d, "final_amount")},
			{"end_reason", text(d, "end_reason")},
		}
	case TypeDeviceAlarm:
		s.Alarm = true
		s.Fields = []Field{
			{"alarm_type", text(d, "alarm_type")},
			{"port_no", text(d, "port_no")},
			{"fault_code", text(d, "fault_code")},
			{"fault_msg", text(d, "fault_msg")},
		}
	}

	return s
}

// portLines renders heartbeat port entries as "port <n>: <state> - <power>W".
// Entries that are not objects are skipped.
func portLines(d map[string]any) []string {
	raw, ok := d["ports"].([]any)
	if !ok {
		return nil
	}

	lines := make([]string, 0, len(raw))
	for _, p := range raw {
		port, ok := p.(map[string]any)
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("port %v: %v - %vW",
			valueOr(port, "port_no", "?"), valueOr(port, "state", notAvailable), number(port, "power")))
	}
	return lines
}

func text(d map[string]any, key string) any {
	return valueOr(d, key, notAvailable)
}

func number(d map[string]any, key string) any {
	return valueOr(d, key, 0)
}

func valueOr(d map[string]any, key string, def any) any {
	if v, ok := d[key]; ok && v != nil {
		return v
	}
	return def
}
