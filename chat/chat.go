// Copyright (C) 2021 Michael J. Fromberger. All Rights Reserved.

// Package chat extracts displayable text from streamed chat answer events.
//
// Chat backends disagree about where the text of an answer fragment lives:
// a flat "text" field, a flat "content" field, a nested "message" envelope,
// or a "parts" array of text blocks. The helpers here pull a best-effort
// role and text out of the map[string]any values produced by a
// jsplit.Splitter without validating any schema. Fields that are absent or
// of the wrong type read as empty, never as an error.
package chat

import "strings"

// An Event is one streamed answer fragment, reduced to the fields a console
// renders. Raw retains the full decoded value for downstream use.
type Event struct {
	Role string // speaker role, if the event carries one
	Text string // concatenated displayable text, possibly empty
	Raw  map[string]any
}

// DecodeEvent extracts an Event from a decoded stream value. It reports
// false if v is not a JSON object; it never fails on a missing or misshapen
// field.
func DecodeEvent(v any) (Event, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Event{}, false
	}
	e := Event{Raw: m, Role: getString(m, "role")}
	if e.Role == "" {
		if msg := getMap(m, "message"); msg != nil {
			e.Role = getString(msg, "role")
		}
	}
	e.Text = eventText(m)
	return e, true
}

// eventText locates the text of an event, trying the flat fields first and
// then the nested envelope and parts array.
func eventText(m map[string]any) string {
	if t := getString(m, "text"); t != "" {
		return t
	}
	if t := getString(m, "content"); t != "" {
		return t
	}
	if parts := joinParts(m); parts != "" {
		return parts
	}
	if msg := getMap(m, "message"); msg != nil {
		return eventText(msg)
	}
	return ""
}

// joinParts concatenates the "text" members of a "parts" array, the shape
// used by agent session histories.
func joinParts(m map[string]any) string {
	parts, ok := m["parts"].([]any)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, p := range parts {
		if pm, ok := p.(map[string]any); ok {
			sb.WriteString(getString(pm, "text"))
		}
	}
	return sb.String()
}

// getString safely extracts a string field from a map.
func getString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// getMap safely extracts a nested map from a map.
func getMap(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

// A Collector accumulates the events of one answer turn. It implements
// jsplit.Handler, so it can be handed directly to a Splitter or to
// fetch.Stream. Values that are not JSON objects are counted but otherwise
// ignored. A Collector is not safe for concurrent use.
type Collector struct {
	Events  []Event // decoded events, in stream order
	Ignored int     // values that were not objects

	text strings.Builder
}

// Value satisfies the jsplit.Handler interface.
func (c *Collector) Value(v any) error {
	e, ok := DecodeEvent(v)
	if !ok {
		c.Ignored++
		return nil
	}
	c.Events = append(c.Events, e)
	c.text.WriteString(e.Text)
	return nil
}

// Text returns the concatenated text of all events collected so far.
func (c *Collector) Text() string { return c.text.String() }
