package canonical

import (
	"errors"
	"fmt"
)

// Kind is the stable string discriminant carried by every pipeline error, so
// the service layer can render distinct guidance per kind without re-deriving it.
type Kind string

const (
	// KindAmbiguousFormat: two detection probes succeeded with conflicting results.
	KindAmbiguousFormat Kind = "ambiguous_format"
	// KindUnsupportedFormat: no detection probe recognized the input.
	KindUnsupportedFormat Kind = "unsupported_format"
	// KindMalformedInput: a parser started but the structure violated the
	// format's grammar. Carries a location pointer; the parser emitted nothing.
	KindMalformedInput Kind = "malformed_input"
	// KindUnsupportedVariant: structurally valid but an unhandled dialect,
	// routed separately from generic failures.
	KindUnsupportedVariant Kind = "unsupported_variant"
)

// Error is the single error type returned by detect/parse operations.
type Error struct {
	Kind Kind
	Hint string
	// Location pointer for malformed input. Line is 1-based; Offset is the
	// byte offset into the original buffer. Fragment is the shortest
	// reproducible input fragment.
	Line     int
	Offset   int
	Fragment string
	// Probes carries the raw detection signals for ambiguous/unsupported
	// format diagnostics.
	Probes []string
}

func (e *Error) Error() string {
	switch {
	case e.Line > 0 && e.Fragment != "":
		return fmt.Sprintf("%s: %s (line %d: %q)", e.Kind, e.Hint, e.Line, e.Fragment)
	case e.Line > 0:
		return fmt.Sprintf("%s: %s (line %d)", e.Kind, e.Hint, e.Line)
	case len(e.Probes) > 0:
		return fmt.Sprintf("%s: %s (probes: %v)", e.Kind, e.Hint, e.Probes)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Hint)
	}
}

// NewMalformed builds a malformed-input error with its location pointer.
func NewMalformed(hint string, line, offset int, fragment string) *Error {
	return &Error{Kind: KindMalformedInput, Hint: hint, Line: line, Offset: offset, Fragment: fragment}
}

// NewUnsupportedVariant flags a structurally valid but unhandled dialect.
func NewUnsupportedVariant(hint string) *Error {
	return &Error{Kind: KindUnsupportedVariant, Hint: hint}
}

// KindOf extracts the discriminant from an error chain, or "" if the chain
// holds no pipeline error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
