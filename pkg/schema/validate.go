package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	jsv "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FieldError is one schema violation at a dotted location such as
// "ui.action_deck.cards.0.label". The root is "$".
type FieldError struct {
	Location string `json:"location"`
	Type     string `json:"type"`
	Message  string `json:"message"`
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s (%s)", e.Location, e.Message, e.Type)
}

var printer = message.NewPrinter(language.English)

// Validate checks raw JSON against the schema and returns every violation
// found, ordered by location.
func (s *Schema) Validate(raw []byte) []FieldError {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return []FieldError{{Location: "$", Type: "json_invalid", Message: err.Error()}}
	}
	if dec.More() {
		return []FieldError{{Location: "$", Type: "json_invalid", Message: "trailing data after JSON value"}}
	}

	err := s.compiled.Validate(v)
	if err == nil {
		return nil
	}
	var ve *jsv.ValidationError
	if !errors.As(err, &ve) {
		return []FieldError{{Location: "$", Type: "invalid", Message: err.Error()}}
	}
	var errs []FieldError
	collect(ve, &errs)
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Location < errs[j].Location })
	return errs
}

func collect(ve *jsv.ValidationError, errs *[]FieldError) {
	if len(ve.Causes) > 0 {
		for _, c := range ve.Causes {
			collect(c, errs)
		}
		return
	}
	path := strings.Join(ve.InstanceLocation, ".")
	add := func(at, typ, msg string) {
		*errs = append(*errs, FieldError{Location: loc(at), Type: typ, Message: msg})
	}
	msg := ve.ErrorKind.LocalizedString(printer)

	switch k := ve.ErrorKind.(type) {
	case *kind.Required:
		for _, name := range k.Missing {
			add(join(path, name), "missing", "field required")
		}
	case *kind.AdditionalProperties:
		for _, name := range k.Properties {
			add(join(path, name), "extra_forbidden", "extra fields not permitted")
		}
	case *kind.Type:
		add(path, typeErrorType(k.Want), msg)
	case *kind.Enum:
		add(path, "enum", msg)
	case *kind.Minimum:
		add(path, "greater_than_equal", msg)
	case *kind.Maximum:
		add(path, "less_than_equal", msg)
	case *kind.MaxItems:
		add(path, "too_long", msg)
	case *kind.MinItems:
		add(path, "too_short", msg)
	case *kind.MinLength:
		add(path, "string_too_short", msg)
	default:
		keyword := "invalid"
		if kp := ve.ErrorKind.KeywordPath(); len(kp) > 0 {
			keyword = kp[len(kp)-1]
		}
		add(path, keyword, msg)
	}
}

func typeErrorType(want []string) string {
	if len(want) == 0 {
		return "type"
	}
	switch want[0] {
	case "integer":
		return "int_type"
	case "number":
		return "float_type"
	case "boolean":
		return "bool_type"
	default:
		return want[0] + "_type"
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func loc(path string) string {
	if path == "" {
		return "$"
	}
	return path
}
