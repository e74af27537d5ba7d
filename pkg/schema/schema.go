// Package schema builds JSON Schema documents from Go structs and validates raw
// JSON against them. The output is shaped for LLM structured-output modes:
// every definition is inlined, objects are closed with
// additionalProperties=false, and properties keep struct field order.
//
// Field constraints come from jsonschema struct tags. Only fields tagged
// "required" are required:
//
//	Label string `json:"label" jsonschema:"required,minLength=1"`
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v6"
)

// Enumer is implemented by string types with a closed value set.
type Enumer interface {
	Values() []string
}

var enumerType = reflect.TypeOf((*Enumer)(nil)).Elem()

// Schema is a generated document together with its compiled validator.
type Schema struct {
	root     *jsonschema.Schema
	data     []byte
	compiled *jsv.Schema
}

// Generate builds and compiles the schema for v's type.
func Generate(v any) (*Schema, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil, fmt.Errorf("schema: nil value")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: %s is not a struct", t)
	}

	r := &jsonschema.Reflector{
		DoNotReference:             true,
		Anonymous:                  true,
		RequiredFromJSONSchemaTags: true,
		Mapper:                     mapEnum,
	}
	root := r.ReflectFromType(t)
	root.Version = ""
	root.ID = ""
	root.Definitions = nil
	addPropertyOrdering(root)

	data, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal %s: %w", t, err)
	}
	compiled, err := compile(t.Name(), data)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %s: %w", t, err)
	}
	return &Schema{root: root, data: data, compiled: compiled}, nil
}

// MustGenerate is Generate for start-up paths. A failure is a programming error.
func MustGenerate(v any) *Schema {
	s, err := Generate(v)
	if err != nil {
		panic(err)
	}
	return s
}

// JSON is the serialized schema sent to the model.
func (s *Schema) JSON() []byte {
	return s.data
}

// Root is the generated document.
func (s *Schema) Root() *jsonschema.Schema {
	return s.root
}

// Lookup walks dotted property names from the root, stepping through array
// items. It returns nil when a name is unknown.
func (s *Schema) Lookup(path string) *jsonschema.Schema {
	node := s.root
	if path == "" {
		return node
	}
	for _, name := range strings.Split(path, ".") {
		for node != nil && node.Items != nil && node.Properties == nil {
			node = node.Items
		}
		if node == nil || node.Properties == nil {
			return nil
		}
		child, ok := node.Properties.Get(name)
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

func mapEnum(t reflect.Type) *jsonschema.Schema {
	if t.Kind() != reflect.String || !t.Implements(enumerType) {
		return nil
	}
	values := reflect.Zero(t).Interface().(Enumer).Values()
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return &jsonschema.Schema{Type: "string", Enum: enum}
}

// addPropertyOrdering records field order for Gemini, which otherwise sorts
// properties alphabetically when generating.
func addPropertyOrdering(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	if s.Properties != nil && s.Properties.Len() > 0 {
		names := make([]string, 0, s.Properties.Len())
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			names = append(names, pair.Key)
			addPropertyOrdering(pair.Value)
		}
		if s.Extras == nil {
			s.Extras = map[string]any{}
		}
		s.Extras["propertyOrdering"] = names
	}
	addPropertyOrdering(s.Items)
}

func compile(name string, data []byte) (*jsv.Schema, error) {
	doc, err := jsv.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	url := "https://schemas.unknown-world.local/" + strings.ToLower(name) + ".json"
	c := jsv.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}
