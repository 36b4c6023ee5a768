package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/zeusync/entitysync/internal/entity"
)

// SchemaValidator validates payloads against a compiled JSON Schema. In Partial
// mode failures of the "required" keyword are ignored.
type SchemaValidator struct {
	schema *jsonschema.Schema
	name   string
}

// CompileSchema compiles a single schema document.
func CompileSchema(name string, doc []byte) (*SchemaValidator, error) {
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchemaCompile, name, err)
	}
	url := "mem://schemas/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err = c.AddResource(url, parsed); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchemaCompile, name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchemaCompile, name, err)
	}
	return &SchemaValidator{schema: sch, name: name}, nil
}

func (v *SchemaValidator) Validate(payload entity.Record, mode Mode) Result {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{Errors: []string{fmt.Sprintf("%s: payload is not JSON: %v", v.name, err)}}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Result{Errors: []string{fmt.Sprintf("%s: payload is not JSON: %v", v.name, err)}}
	}
	err = v.schema.Validate(inst)
	if err == nil {
		return Result{OK: true}
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return Result{Errors: []string{err.Error()}}
	}
	var msgs []string
	collectLeaves(ve, mode, &msgs)
	if len(msgs) == 0 {
		return Result{OK: true}
	}
	return Result{Errors: msgs}
}

func collectLeaves(ve *jsonschema.ValidationError, mode Mode, out *[]string) {
	if len(ve.Causes) == 0 {
		if _, ok := ve.ErrorKind.(*kind.Required); ok && mode == Partial {
			return
		}
		*out = append(*out, strings.TrimSpace(ve.Error()))
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, mode, out)
	}
}

// LoadSchemaDir compiles every <entityType>.json file in dir and registers it.
// It returns the entity types that were registered.
func LoadSchemaDir(r *Registry, dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	var types []string
	for _, path := range matches {
		doc, err := os.ReadFile(path)
		if err != nil {
			return types, err
		}
		entityType := strings.TrimSuffix(filepath.Base(path), ".json")
		sv, err := CompileSchema(entityType, doc)
		if err != nil {
			return types, err
		}
		r.Register(entityType, sv)
		types = append(types, entityType)
	}
	return types, nil
}
