// Package loaderr classifies failures of a load run.
//
// Every step of the pipeline wraps its failure in an *Error carrying the Kind of
// step that failed. The wrapped cause stays reachable through errors.Is/As, and the
// error text is unchanged apart from the step prefix.
package loaderr

import "errors"

// Kind is the pipeline step that produced an error.
type Kind int

const (
	KindUnknown   Kind = iota
	KindConfig         // config file missing/unparseable, required keys or credentials absent
	KindFetch          // network fault or non-2xx response while downloading
	KindConnect        // warehouse authentication or connectivity
	KindStatement      // a stage-and-load statement failed
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindFetch:
		return "fetch"
	case KindConnect:
		return "connect"
	case KindStatement:
		return "statement"
	default:
		return "unknown"
	}
}

// Error wraps a step failure with its Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns nil when err is nil. An error that is already classified keeps its
// original Kind and is returned as is.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Config(op string, err error) error    { return Wrap(KindConfig, op, err) }
func Fetch(op string, err error) error     { return Wrap(KindFetch, op, err) }
func Connect(op string, err error) error   { return Wrap(KindConnect, op, err) }
func Statement(op string, err error) error { return Wrap(KindStatement, op, err) }

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}
