package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema describes config.yaml as a JSON Schema document, for editors
// that validate YAML against one.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		FieldNameTag:               "yaml",
		DoNotReference:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(&Config{})
	s.Title = "Reverie configuration"
	return s
}

// SchemaJSON renders [Schema] as indented JSON.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(Schema(), "", "  ")
}
