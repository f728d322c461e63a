package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/V4T54L/honeyledger/internal/domain"
)

const rawEventSchemaURL = "https://honeyledger.local/schemas/raw-event.schema.json"

// rawEventSchema pins field names and types. Presence of required fields is checked by
// Validate so every missing field can be reported at once.
const rawEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "sourceIp":    {"type": "string"},
    "command":     {"type": "string"},
    "threatLevel": {"type": "string"},
    "timestamp":   {"type": "string", "format": "date-time"}
  },
  "additionalProperties": false
}`

// Validator turns raw source input into canonical events.
type Validator struct {
	schema       *jsonschema.Schema
	threatLevels map[string]struct{}
	now          func() time.Time
}

// NewValidator compiles the raw event schema. threatLevels is the accepted enumeration,
// matched case-insensitively.
func NewValidator(threatLevels []string) (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(rawEventSchemaURL, strings.NewReader(rawEventSchema)); err != nil {
		return nil, fmt.Errorf("raw event schema load failed: %w", err)
	}
	schema, err := c.Compile(rawEventSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("raw event schema compile failed: %w", err)
	}

	levels := make(map[string]struct{}, len(threatLevels))
	for _, l := range threatLevels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" {
			levels[l] = struct{}{}
		}
	}
	if len(levels) == 0 {
		return nil, errors.New("at least one threat level is required")
	}

	return &Validator{
		schema:       schema,
		threatLevels: levels,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Decode parses one JSON document into a RawEvent, enforcing field names and types.
// Non-conforming input yields a *domain.ValidationError.
func (v *Validator) Decode(data []byte) (domain.RawEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return domain.RawEvent{}, &domain.ValidationError{Reason: "malformed JSON: " + err.Error()}
	}
	if dec.More() {
		return domain.RawEvent{}, &domain.ValidationError{Reason: "malformed JSON: trailing data after event"}
	}

	if err := v.schema.Validate(doc); err != nil {
		return domain.RawEvent{}, schemaViolation(err)
	}

	var raw domain.RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.RawEvent{}, &domain.ValidationError{Reason: err.Error()}
	}
	return raw, nil
}

// Validate checks required fields and the threat level and builds the canonical event.
// The returned event has no sequence id yet.
func (v *Validator) Validate(raw domain.RawEvent) (domain.Event, error) {
	ev := domain.Event{
		SourceIP:    strings.TrimSpace(raw.SourceIP),
		Command:     strings.TrimSpace(raw.Command),
		ThreatLevel: strings.ToLower(strings.TrimSpace(raw.ThreatLevel)),
	}

	verr := &domain.ValidationError{}
	if ev.SourceIP == "" {
		verr.MissingFields = append(verr.MissingFields, "sourceIp")
	}
	if ev.Command == "" {
		verr.MissingFields = append(verr.MissingFields, "command")
	}
	if ev.ThreatLevel == "" {
		verr.MissingFields = append(verr.MissingFields, "threatLevel")
	} else if _, ok := v.threatLevels[ev.ThreatLevel]; !ok {
		verr.InvalidFields = append(verr.InvalidFields, "threatLevel")
		verr.Reason = fmt.Sprintf("unknown threat level %q", raw.ThreatLevel)
	}
	if len(verr.MissingFields) > 0 || len(verr.InvalidFields) > 0 {
		return domain.Event{}, verr
	}

	now := v.now()
	ev.ReceivedAt = now
	ev.ObservedAt = now
	if raw.Timestamp != nil && !raw.Timestamp.IsZero() {
		ev.ObservedAt = raw.Timestamp.UTC()
	}
	return ev, nil
}

func schemaViolation(err error) *domain.ValidationError {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &domain.ValidationError{Reason: err.Error()}
	}

	out := &domain.ValidationError{}
	seen := make(map[string]bool)
	var reasons []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		field := strings.TrimPrefix(e.InstanceLocation, "/")
		if field == "" {
			reasons = append(reasons, e.Message)
			return
		}
		if !seen[field] {
			seen[field] = true
			out.InvalidFields = append(out.InvalidFields, field)
		}
	}
	walk(ve)
	out.Reason = strings.Join(reasons, "; ")
	return out
}
