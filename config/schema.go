package config

import (
	"encoding/json"
	"sync"

	"github.com/grovetools/taskagent/schema"
	"github.com/invopop/jsonschema"
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// GenerateSchema generates the JSON Schema for taskagent.yml. Core sections
// are strict; unknown top-level keys are allowed so extensions such as
// logging can live in the same file.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		ExpandedStruct:             true,
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
	}

	s := r.Reflect(&Config{})
	s.Title = "taskagent configuration"
	s.Description = "Schema for taskagent.yml."
	s.Version = "http://json-schema.org/draft-07/schema#"
	s.AdditionalProperties = nil

	return json.MarshalIndent(s, "", "  ")
}

// ValidateDocument checks a decoded configuration document against the
// generated schema.
func ValidateDocument(doc interface{}) error {
	validatorOnce.Do(func() {
		var data []byte
		data, validatorErr = GenerateSchema()
		if validatorErr != nil {
			return
		}
		validator, validatorErr = schema.NewValidator("taskagent.json", data)
	})
	if validatorErr != nil {
		return validatorErr
	}
	return validator.Validate(doc)
}
