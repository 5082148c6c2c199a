package wire

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schema.cue
var schemaSource string

type payloadSchema struct {
	ctx  *cue.Context
	root cue.Value
}

// compileSchema parses the embedded schema once. The cue.Context must not
// be shared with values from other contexts, so the validator keeps its own.
var compileSchema = sync.OnceValues(func() (*payloadSchema, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}
	return &payloadSchema{ctx: ctx, root: root}, nil
})

// ValidatePayload checks a known type's raw payload against its schema
// definition. Unknown types pass: they have no definition to violate, and
// forward compatibility demands they flow through untouched.
func ValidatePayload(msgType string, payload []byte) error {
	if !Known(msgType) {
		return nil
	}

	s, err := compileSchema()
	if err != nil {
		return err
	}

	def := s.root.LookupPath(cue.ParsePath(msgType))
	if err := def.Err(); err != nil {
		return fmt.Errorf("no schema for %s: %w", msgType, err)
	}

	if len(payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	expr, err := cuejson.Extract(msgType, payload)
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	val := s.ctx.BuildExpr(expr)
	if err := val.Err(); err != nil {
		return fmt.Errorf("build payload value: %w", err)
	}

	unified := def.Unify(val)
	if err := unified.Err(); err != nil {
		return err
	}
	return unified.Validate(cue.Final(), cue.Concrete(true))
}
