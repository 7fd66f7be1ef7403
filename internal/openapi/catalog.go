// Package openapi loads OpenAPI documents that describe the backend command
// surface. Every operation with an operationId is a command; its request
// body schema validates arguments before a call is made and the
// x-response-shape extension declares whether the answer is wrapped in an
// envelope.
package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/vigil/model"
)

// ShapeExtension is the operation extension declaring the response shape.
const ShapeExtension = "x-response-shape"

// IdempotentExtension marks a command as safe to retry.
const IdempotentExtension = "x-idempotent"

// Source describes an OpenAPI document to load.
type Source struct {
	ServiceID string
	Path      string
}

// Command holds a catalogued backend command.
type Command struct {
	Name       string
	ServiceID  string
	Method     string
	Path       string
	Shape      model.ResponseShape
	Idempotent bool
	Schema     *openapi3.Schema
}

// Catalog is an in-memory index of backend commands keyed by name.
type Catalog struct {
	commands map[string]Command
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{commands: make(map[string]Command)}
}

// Load parses every source document and indexes its operations.
func (c *Catalog) Load(sources []Source) error {
	loader := newLoader()
	for _, src := range sources {
		doc, err := loader.LoadFromFile(src.Path)
		if err != nil {
			return fmt.Errorf("openapi: loading %s (%s): %w", src.ServiceID, src.Path, err)
		}
		if err := c.index(src.ServiceID, doc); err != nil {
			return err
		}
	}
	return nil
}

// LoadData indexes a document supplied as bytes.
func (c *Catalog) LoadData(serviceID string, data []byte) error {
	doc, err := newLoader().LoadFromData(data)
	if err != nil {
		return fmt.Errorf("openapi: parsing %s: %w", serviceID, err)
	}
	return c.index(serviceID, doc)
}

func newLoader() *openapi3.Loader {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	return loader
}

func (c *Catalog) index(serviceID string, doc *openapi3.T) error {
	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("openapi: validating %s: %w", serviceID, err)
	}

	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}
			shape := model.ShapeBare
			if v, ok := op.Extensions[ShapeExtension].(string); ok {
				shape = model.ResponseShape(v)
			}
			if !shape.Valid() {
				return fmt.Errorf("openapi: %s/%s: unknown %s %q", serviceID, op.OperationID, ShapeExtension, shape)
			}
			idempotent := method == http.MethodGet
			if v, ok := op.Extensions[IdempotentExtension].(bool); ok {
				idempotent = v
			}

			var schema *openapi3.Schema
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				if ct := op.RequestBody.Value.Content.Get("application/json"); ct != nil && ct.Schema != nil {
					schema = ct.Schema.Value
				}
			}

			if prev, dup := c.commands[op.OperationID]; dup && prev.ServiceID != serviceID {
				return fmt.Errorf("openapi: command %q declared by both %s and %s", op.OperationID, prev.ServiceID, serviceID)
			}
			c.commands[op.OperationID] = Command{
				Name:       op.OperationID,
				ServiceID:  serviceID,
				Method:     method,
				Path:       path,
				Shape:      shape,
				Idempotent: idempotent,
				Schema:     schema,
			}
		}
	}
	return nil
}

// Get returns the catalogued command with the given name.
func (c *Catalog) Get(name string) (Command, bool) {
	cmd, ok := c.commands[name]
	return cmd, ok
}

// Names returns every command name, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateArgs checks args against the command's request schema. Commands
// without a catalog entry or without a schema are not checked.
func (c *Catalog) ValidateArgs(name string, args map[string]any) []model.FieldError {
	cmd, ok := c.commands[name]
	if !ok || cmd.Schema == nil {
		return nil
	}

	var errs []model.FieldError
	for _, req := range cmd.Schema.Required {
		if _, exists := args[req]; !exists {
			errs = append(errs, model.FieldError{
				Field:   req,
				Code:    "REQUIRED",
				Message: fmt.Sprintf("%s is required", req),
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	// Schema validation works on decoded JSON values.
	value, err := normalize(args)
	if err != nil {
		return []model.FieldError{{Code: "INVALID", Message: err.Error()}}
	}
	if err := cmd.Schema.VisitJSON(value, openapi3.MultiErrors()); err != nil {
		return schemaErrors(err)
	}
	return nil
}

func normalize(args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	return out, nil
}

func schemaErrors(err error) []model.FieldError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []model.FieldError
		for _, e := range multi {
			out = append(out, schemaErrors(e)...)
		}
		return out
	}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		return []model.FieldError{{
			Field:   strings.Join(se.JSONPointer(), "."),
			Code:    "INVALID",
			Message: se.Reason,
		}}
	}
	return []model.FieldError{{Code: "INVALID", Message: err.Error()}}
}
