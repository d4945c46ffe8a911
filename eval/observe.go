package eval

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chazu/tarn/durability"
)

// WithImmutableRoot marks a directory subtree as content-addressed: reads
// under it are High durability instead of Medium.
func WithImmutableRoot(root string) Option {
	return func(ev *Evaluator) { ev.immutableRoot = root }
}

// ObserveInput records an external observation at the given tier against
// both the current computation's durability floor and the session-wide
// tracker. Every primitive that looks outside the evaluator must call it.
func (ev *Evaluator) ObserveInput(o *Obs, tier durability.Tier) {
	o.Note(tier)
	if ev.tracker != nil {
		ev.tracker.Observe(tier)
	}
}

// classifyPath returns the durability tier of reading the given path.
func (ev *Evaluator) classifyPath(path string) durability.Tier {
	if ev.immutableRoot != "" && strings.HasPrefix(path, ev.immutableRoot) {
		return durability.High
	}
	return durability.Medium
}

func registerDefaultPrims(ev *Evaluator) {
	ev.RegisterPrim("add", primArith(func(a, b int64) int64 { return a + b }))
	ev.RegisterPrim("sub", primArith(func(a, b int64) int64 { return a - b }))
	ev.RegisterPrim("mul", primArith(func(a, b int64) int64 { return a * b }))
	ev.RegisterPrim("lessThan", primLessThan)
	ev.RegisterPrim("readFile", primReadFile)
	ev.RegisterPrim("getEnv", primGetEnv)
	ev.RegisterPrim("now", primNow)
}

func primArith(fn func(a, b int64) int64) PrimOp {
	return func(ev *Evaluator, o *Obs, args []*Value) (*Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("eval: arithmetic primitive wants 2 arguments, got %d", len(args))
		}
		if args[0].Kind() != ValInt || args[1].Kind() != ValInt {
			return nil, fmt.Errorf("eval: arithmetic on %s and %s", args[0].Kind(), args[1].Kind())
		}
		return IntValue(fn(args[0].Int(), args[1].Int())), nil
	}
}

func primLessThan(ev *Evaluator, o *Obs, args []*Value) (*Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("eval: lessThan wants 2 arguments, got %d", len(args))
	}
	if args[0].Kind() != ValInt || args[1].Kind() != ValInt {
		return nil, fmt.Errorf("eval: lessThan on %s and %s", args[0].Kind(), args[1].Kind())
	}
	return BoolValue(args[0].Int() < args[1].Int()), nil
}

// primReadFile reads a file's contents. The resulting string carries the
// source path as provenance context; the read is Medium durability (High
// under the immutable root).
func primReadFile(ev *Evaluator, o *Obs, args []*Value) (*Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("eval: readFile wants 1 argument, got %d", len(args))
	}
	var path string
	switch args[0].Kind() {
	case ValPath:
		path = args[0].Path()
	case ValString:
		path = args[0].Str()
	default:
		return nil, fmt.Errorf("eval: readFile on %s value", args[0].Kind())
	}
	ev.ObserveInput(o, ev.classifyPath(path))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("eval: readFile: %w", err)
	}
	return StringValue(string(data), []string{path}), nil
}

// primGetEnv reads an environment variable: stable within a run, not
// across runs, hence Medium.
func primGetEnv(ev *Evaluator, o *Obs, args []*Value) (*Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("eval: getEnv wants 1 argument, got %d", len(args))
	}
	if args[0].Kind() != ValString {
		return nil, fmt.Errorf("eval: getEnv on %s value", args[0].Kind())
	}
	ev.ObserveInput(o, durability.Medium)
	return StringValue(os.Getenv(args[0].Str()), nil), nil
}

// primNow reads the wall clock: volatile, Low durability, never persisted.
func primNow(ev *Evaluator, o *Obs, args []*Value) (*Value, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("eval: now wants no arguments, got %d", len(args))
	}
	ev.ObserveInput(o, durability.Low)
	return IntValue(time.Now().UnixNano()), nil
}
