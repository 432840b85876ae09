// Package params loads contract deployment parameters from CUE.
//
// A parameter file sets any of the fields of #Params (see schema.cue) under a
// top-level params struct. Missing fields take the reference defaults:
//
//	params: {
//		deposit_gwei:       10000000 // 0.01 ETH
//		round_duration:     "72h"
//		commission_percent: 10
//	}
package params

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/votepool/internal/contract"
)

//go:embed schema.cue
var schemaCUE string

// Error is a parameter file that does not satisfy the schema.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the reference parameters.
func Default() contract.Config {
	return contract.DefaultConfig()
}

// Load reads parameters from a .cue file or from a directory holding a CUE
// package. An empty path yields Default().
func Load(path string) (contract.Config, error) {
	if path == "" {
		return Default(), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return contract.Config{}, fmt.Errorf("load params: %w", err)
	}

	ctx := cuecontext.New()
	var v cue.Value
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return contract.Config{}, fmt.Errorf("load params: no CUE instances in %s", path)
		}
		if err := instances[0].Err; err != nil {
			return contract.Config{}, fmt.Errorf("load params: %w", err)
		}
		v = ctx.BuildInstance(instances[0])
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return contract.Config{}, fmt.Errorf("load params: %w", err)
		}
		v = ctx.CompileBytes(data, cue.Filename(path))
	}
	return decode(ctx, v)
}

// Parse reads parameters from CUE source.
func Parse(src []byte, filename string) (contract.Config, error) {
	ctx := cuecontext.New()
	return decode(ctx, ctx.CompileBytes(src, cue.Filename(filename)))
}

// decode unifies v with the embedded schema and extracts a validated Config.
func decode(ctx *cue.Context, v cue.Value) (contract.Config, error) {
	if err := v.Err(); err != nil {
		return contract.Config{}, formatCUEError(err)
	}

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return contract.Config{}, fmt.Errorf("params schema: %w", err)
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return contract.Config{}, formatCUEError(err)
	}

	p := unified.LookupPath(cue.ParsePath("params"))

	deposit, err := p.LookupPath(cue.ParsePath("deposit_gwei")).Int64()
	if err != nil {
		return contract.Config{}, formatCUEError(err)
	}
	percent, err := p.LookupPath(cue.ParsePath("commission_percent")).Int64()
	if err != nil {
		return contract.Config{}, formatCUEError(err)
	}

	durVal := p.LookupPath(cue.ParsePath("round_duration"))
	durStr, err := durVal.String()
	if err != nil {
		return contract.Config{}, formatCUEError(err)
	}
	dur, err := time.ParseDuration(durStr)
	if err != nil {
		return contract.Config{}, &Error{
			Field:   "round_duration",
			Message: err.Error(),
			Pos:     v.LookupPath(cue.ParsePath("params.round_duration")).Pos(),
		}
	}

	cfg := contract.Config{
		Deposit:           contract.Amount(deposit),
		RoundDuration:     dur,
		CommissionPercent: percent,
	}
	if err := cfg.Validate(); err != nil {
		return contract.Config{}, &Error{Field: "params", Message: err.Error(), Pos: p.Pos()}
	}
	return cfg, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &Error{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
