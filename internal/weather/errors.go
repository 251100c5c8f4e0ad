package weather

import (
	"errors"
	"fmt"
)

// Kind classifies refresh failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindFetch
	KindParse
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindFetch:
		return "FETCH_FAILURE"
	case KindParse:
		return "PARSE_FAILURE"
	case KindConfig:
		return "CONFIG_FAILURE"
	default:
		return "UNKNOWN_FAILURE"
	}
}

var (
	// ErrNoLocation is returned when neither the request nor the saved
	// preferences provide a location to fetch. It counts as a fetch failure.
	ErrNoLocation = errors.New("no location available")

	// ErrNotCached is returned by a cache read that finds no rows.
	ErrNotCached = errors.New("no cached data")
)

// Error is a classified failure raised while refreshing data.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func FetchError(op string, err error) *Error {
	return &Error{Kind: KindFetch, Op: op, Err: err}
}

func ParseError(op string, err error) *Error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

func ConfigError(op string, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNoLocation) {
		return KindFetch
	}
	return KindUnknown
}
