package turn

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"unicode"

	"github.com/jwebster45206/unknown-world/pkg/schema"
)

var (
	outputSchemaOnce sync.Once
	outputSchema     *schema.Schema
)

// OutputSchema is the structured-output schema for TurnOutput. It is built
// once; a type that cannot be described panics on first use.
func OutputSchema() *schema.Schema {
	outputSchemaOnce.Do(func() { outputSchema = schema.MustGenerate(TurnOutput{}) })
	return outputSchema
}

// OutputSchemaJSON is OutputSchema serialized with properties in field order.
func OutputSchemaJSON() []byte {
	return OutputSchema().JSON()
}

// StripCodeFences returns the body of the first ``` or ```json block in s,
// wherever it starts. Text that already is a JSON value, or has no fence, is
// only trimmed.
func StripCodeFences(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		return t
	}
	start := strings.Index(t, "```")
	if start < 0 {
		return t
	}
	body := t[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && isInfoString(body[:nl]) {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(body, "json")
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// isInfoString reports whether line is a fence language tag such as "json".
func isInfoString(line string) bool {
	return strings.IndexFunc(strings.TrimSpace(line), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	}) < 0
}

// ParseOutput validates raw against the output schema, then decodes it with
// unknown fields rejected. On failure it returns the field-level errors.
func ParseOutput(raw []byte) (TurnOutput, []schema.FieldError) {
	if errs := OutputSchema().Validate(raw); len(errs) > 0 {
		return TurnOutput{}, errs
	}
	var out TurnOutput
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return TurnOutput{}, []schema.FieldError{{Location: "$", Type: "model_type", Message: err.Error()}}
	}
	out.Normalize()
	return out, nil
}

// MarshalOutput is the canonical serialization used on the wire.
func MarshalOutput(o TurnOutput) ([]byte, error) {
	o.Normalize()
	return json.Marshal(o)
}
