package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/shopspring/decimal"

	"github.com/roach88/cdv/internal/engine"
	"github.com/roach88/cdv/internal/scheduler"
)

//go:embed policy_schema.cue
var policySchema string

// Policy is the compiled content of a policy file.
type Policy struct {
	Engine    engine.Policy
	Intervals scheduler.Intervals
}

// DefaultPolicy returns the policy an empty file compiles to.
func DefaultPolicy() Policy {
	return Policy{Engine: engine.DefaultPolicy(), Intervals: scheduler.DefaultIntervals()}
}

// PolicyError reports an invalid policy field with its source position.
type PolicyError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *PolicyError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadPolicy reads and compiles a policy file. An empty path yields
// DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return CompilePolicy(src, path)
}

// CompilePolicy unifies src with the policy schema and extracts the
// result. Unknown fields are rejected because #Policy is closed.
func CompilePolicy(src []byte, filename string) (Policy, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(policySchema, cue.Filename("policy_schema.cue"))
	if err := schema.Err(); err != nil {
		return Policy{}, fmt.Errorf("compile policy schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Policy"))

	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return Policy{}, formatCUEError(err)
	}

	v := def.Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Policy{}, formatCUEError(err)
	}
	return extractPolicy(v)
}

func extractPolicy(v cue.Value) (Policy, error) {
	var p Policy
	var err error

	allocation, err := lookupString(v, "allocation")
	if err != nil {
		return p, err
	}
	maturation, err := lookupString(v, "maturation")
	if err != nil {
		return p, err
	}
	p.Engine.Allocation = engine.Allocation(allocation)
	p.Engine.Maturation = engine.Maturation(maturation)

	if p.Engine.PublicBaseURL, err = lookupString(v, "public_base_url"); err != nil {
		return p, err
	}

	batch, err := lookupValue(v, "promote_batch_size")
	if err != nil {
		return p, err
	}
	n, err := batch.Int64()
	if err != nil {
		return p, fieldError(batch, "promote_batch_size", err)
	}
	p.Engine.PromoteBatchSize = int(n)

	factor, err := lookupValue(v, "co2_factor")
	if err != nil {
		return p, err
	}
	// JSON keeps the literal digits, so the decimal never passes through float64.
	raw, err := factor.MarshalJSON()
	if err != nil {
		return p, fieldError(factor, "co2_factor", err)
	}
	if p.Engine.CO2Factor, err = decimal.NewFromString(string(raw)); err != nil {
		return p, fieldError(factor, "co2_factor", err)
	}

	intervals := []struct {
		path string
		dst  *time.Duration
	}{
		{"intervals.promote", &p.Intervals.Promote},
		{"intervals.reconcile", &p.Intervals.Reconcile},
		{"intervals.evaluate", &p.Intervals.Evaluate},
		{"intervals.mint_uibs", &p.Intervals.MintUIBs},
	}
	for _, iv := range intervals {
		fv, err := lookupValue(v, iv.path)
		if err != nil {
			return p, err
		}
		s, err := fv.String()
		if err != nil {
			return p, fieldError(fv, iv.path, err)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return p, fieldError(fv, iv.path, err)
		}
		if d < 0 {
			return p, fieldError(fv, iv.path, fmt.Errorf("duration must not be negative"))
		}
		*iv.dst = d
	}

	if err := p.Engine.Validate(); err != nil {
		return p, &PolicyError{Field: "policy", Message: err.Error()}
	}
	return p, nil
}

// lookupValue resolves a field and selects its default when it is a
// disjunction.
func lookupValue(v cue.Value, path string) (cue.Value, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return fv, &PolicyError{Field: path, Message: "missing field"}
	}
	if d, ok := fv.Default(); ok {
		fv = d
	}
	return fv, nil
}

func lookupString(v cue.Value, path string) (string, error) {
	fv, err := lookupValue(v, path)
	if err != nil {
		return "", err
	}
	s, err := fv.String()
	if err != nil {
		return "", fieldError(fv, path, err)
	}
	return s, nil
}

func fieldError(v cue.Value, field string, err error) error {
	return &PolicyError{Field: field, Message: err.Error(), Pos: v.Pos()}
}

// formatCUEError converts CUE errors to PolicyError with position info.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	field := "cue"
	if path := first.Path(); len(path) > 0 {
		field = strings.Join(path, ".")
	}
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &PolicyError{Field: field, Message: first.Error(), Pos: positions[0]}
	}
	return &PolicyError{Field: field, Message: first.Error()}
}
