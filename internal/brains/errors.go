package brains

import "fmt"

// Category groups engine failures the way callers react to them.
type Category int

const (
	CategoryInternal Category = iota + 1
	CategoryPopulation
	CategoryConfig
	CategoryNetwork
	CategoryCrossover
	CategoryMutation
	CategoryEvolution
	CategoryExport
	CategoryImport
	CategoryEvaluate
)

func (c Category) String() string {
	switch c {
	case CategoryInternal:
		return "internal"
	case CategoryPopulation:
		return "population"
	case CategoryConfig:
		return "config"
	case CategoryNetwork:
		return "network"
	case CategoryCrossover:
		return "crossover"
	case CategoryMutation:
		return "mutation"
	case CategoryEvolution:
		return "evolution"
	case CategoryExport:
		return "export"
	case CategoryImport:
		return "import"
	case CategoryEvaluate:
		return "evaluate"
	default:
		return "unknown"
	}
}

// Error is the single error type reported by the engine.
type Error struct {
	Category Category
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func errorf(c Category, format string, args ...any) *Error {
	return &Error{Category: c, Msg: fmt.Sprintf(format, args...)}
}

func wrap(c Category, err error, msg string) *Error {
	return &Error{Category: c, Msg: msg, Err: err}
}
