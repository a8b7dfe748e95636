package config

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaCUE []byte

var (
	schemaOnce sync.Once
	schemaVal  cue.Value
	schemaErr  error
)

// pipelineSchema compiles the embedded schema once. The schema is part of
// the binary, so a compile failure is a programming error surfaced on first
// validation rather than at init.
func pipelineSchema() (cue.Value, error) {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		v := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile embedded schema: %w", err)
			return
		}
		schemaVal = v.LookupPath(cue.ParsePath("#Pipeline"))
		if err := schemaVal.Err(); err != nil {
			schemaErr = fmt.Errorf("lookup #Pipeline: %w", err)
		}
	})
	return schemaVal, schemaErr
}

// ValidateRaw checks a flattened config map against the pipeline schema
// before it is decoded into Options. This catches type mistakes and
// out-of-range knobs with positions pointing at the offending key instead of
// a decode panic or a silent zero value.
func ValidateRaw(raw map[string]any) error {
	schema, err := pipelineSchema()
	if err != nil {
		return err
	}

	ctx := schema.Context()
	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
