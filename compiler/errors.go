package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/regc/ssa"
)

// ErrorKind classifies compile failures.
type ErrorKind uint8

const (
	// KindUnsupported marks a well-formed construct this target does not
	// lower. Compilation of the enclosing function is aborted.
	KindUnsupported ErrorKind = iota + 1
	// KindInternal marks a broken invariant in the input graph or in the
	// compiler itself.
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnsupported:
		return "unsupported"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Sentinels matched through errors.Is on a *CompileError.
var (
	ErrUnsupported = errors.New("unsupported operation")
	ErrInternal    = errors.New("internal compiler error")
)

// CompileError reports why a function could not be compiled or linked.
type CompileError struct {
	Kind      ErrorKind
	Construct string // offending construct, e.g. "binary and"
	Message   string
	Func      string      // function being compiled, if known
	Block     ssa.BlockID // block being compiled, if known
}

func (e *CompileError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Construct != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Construct)
	}
	switch {
	case e.Func != "" && !e.Block.IsDummy():
		fmt.Fprintf(&sb, " in %s/%s", e.Func, e.Block)
	case e.Func != "":
		fmt.Fprintf(&sb, " in %s", e.Func)
	case !e.Block.IsDummy():
		fmt.Fprintf(&sb, " in %s", e.Block)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	return sb.String()
}

// Unwrap maps the kind onto its sentinel.
func (e *CompileError) Unwrap() error {
	switch e.Kind {
	case KindUnsupported:
		return ErrUnsupported
	case KindInternal:
		return ErrInternal
	}
	return nil
}

func unsupportedf(construct, format string, args ...interface{}) *CompileError {
	return &CompileError{Kind: KindUnsupported, Construct: construct, Message: fmt.Sprintf(format, args...)}
}

func internalf(construct, format string, args ...interface{}) *CompileError {
	return &CompileError{Kind: KindInternal, Construct: construct, Message: fmt.Sprintf(format, args...)}
}

// IsUnsupported reports whether err is an unsupported-operation failure.
func IsUnsupported(err error) bool { return errors.Is(err, ErrUnsupported) }

// IsInternal reports whether err is an internal-consistency failure.
func IsInternal(err error) bool { return errors.Is(err, ErrInternal) }
