package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/transcanvas/pkg/schema"
)

const schemaURL = "https://transcanvas.dev/schemas/config.json"

//go:embed config.schema.json
var schemaJSON []byte

var compiled = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal config schema: %w", err)
	}
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add config schema resource: %w", err)
	}
	return c.Compile(schemaURL)
})

func validateSchema(cfg Config) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "serialize config").WithCause(err)
	}
	return validateDocument(b)
}

// validateDocument checks raw JSON against the schema. Numbers reach the
// validator as json.Number.
func validateDocument(b []byte) error {
	sch, err := compiled()
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "config schema does not compile").WithCause(err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "parse config: %s", err.Error()).WithCause(err)
	}
	if err := sch.Validate(doc); err != nil {
		return violationError(err)
	}
	return nil
}

func violationError(err error) *schema.CanvasError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, "invalid config: "+violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid config: %d violations", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

// collectViolations flattens the error tree into "/path: message" leaves.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		return []string{fmt.Sprintf("/%s: %s", strings.Join(verr.InstanceLocation, "/"), verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
