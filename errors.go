package pgq

import (
	"errors"
	"fmt"
	"strings"
)

/*
Error codes. You probably shouldn't use this directly; instead, use the `Err`
variables with `errors.Is`.
*/
type ErrCode string

const (
	ErrCodeUnknown             ErrCode = ""
	ErrCodeInvalidInput        ErrCode = "InvalidInput"
	ErrCodeMissingArgument     ErrCode = "MissingArgument"
	ErrCodeUnexpectedParameter ErrCode = "UnexpectedParameter"
	ErrCodeUnusedArgument      ErrCode = "UnusedArgument"
	ErrCodeOrdinalOutOfBounds  ErrCode = "OrdinalOutOfBounds"
	ErrCodeResolution          ErrCode = "Resolution"
	ErrCodeAmbiguousReference  ErrCode = "AmbiguousReference"
	ErrCodeNoReference         ErrCode = "NoReference"
	ErrCodeNotFound            ErrCode = "NotFound"
	ErrCodeManyFound           ErrCode = "ManyFound"
	ErrCodeConflictTarget      ErrCode = "ConflictTarget"
	ErrCodeIsolationLevel      ErrCode = "IsolationLevel"
)

/*
Use blank error variables to detect error types:

	if errors.Is(err, pgq.ErrNotFound) {
		// Handle specific error.
	}

Note that errors returned by this package can't be compared via `==` because
they may include additional details about the circumstances. When compared by
`errors.Is`, they compare `.Cause` and fall back on `.Code`.
*/
var (
	ErrInvalidInput        Err = Err{Code: ErrCodeInvalidInput, Cause: errors.New(`invalid input`)}
	ErrMissingArgument     Err = Err{Code: ErrCodeMissingArgument, Cause: errors.New(`missing argument`)}
	ErrUnexpectedParameter Err = Err{Code: ErrCodeUnexpectedParameter, Cause: errors.New(`unexpected parameter`)}
	ErrUnusedArgument      Err = Err{Code: ErrCodeUnusedArgument, Cause: errors.New(`unused argument`)}
	ErrOrdinalOutOfBounds  Err = Err{Code: ErrCodeOrdinalOutOfBounds, Cause: errors.New(`ordinal parameter exceeds arguments`)}
	ErrResolution          Err = Err{Code: ErrCodeResolution, Cause: errors.New(`marker used outside of its context`)}
	ErrAmbiguousReference  Err = Err{Code: ErrCodeAmbiguousReference, Cause: errors.New(`ambiguous reference`)}
	ErrNoReference         Err = Err{Code: ErrCodeNoReference, Cause: errors.New(`no reference`)}
	ErrNotFound            Err = Err{Code: ErrCodeNotFound, Cause: errors.New(`no row found`)}
	ErrManyFound           Err = Err{Code: ErrCodeManyFound, Cause: errors.New(`more than one row found`)}
	ErrConflictTarget      Err = Err{Code: ErrCodeConflictTarget, Cause: errors.New(`invalid conflict target`)}
	ErrIsolationLevel      Err = Err{Code: ErrCodeIsolationLevel, Cause: errors.New(`incompatible isolation level`)}
)

// Type of errors returned by this package, other than database errors.
type Err struct {
	Code  ErrCode
	While string
	Cause error
}

// Implement `error`.
func (self Err) Error() string {
	if self == (Err{}) {
		return ``
	}
	msg := `[pgq]`
	if self.Code != ErrCodeUnknown {
		msg += fmt.Sprintf(` %s`, self.Code)
	}
	if self.While != `` {
		msg += fmt.Sprintf(` while %v`, self.While)
	}
	if self.Cause != nil {
		msg += `: ` + self.Cause.Error()
	}
	return msg
}

// Implement a hidden interface in "errors".
func (self Err) Is(other error) bool {
	if self.Cause != nil && errors.Is(self.Cause, other) {
		return true
	}
	err, ok := other.(Err)
	return ok && err.Code == self.Code
}

// Implement a hidden interface in "errors".
func (self Err) Unwrap() error {
	return self.Cause
}

func (self Err) while(while string) Err {
	self.While = while
	return self
}

func (self Err) because(cause error) Err {
	self.Cause = cause
	return self
}

func (self Err) format(pattern string, args ...any) Err {
	return self.because(fmt.Errorf(pattern, args...))
}

/*
Error reported by the database or by the driver while executing a statement.
Adapters fill `Code`, `Message` and `Detail` from the driver error; the runner
attaches the statement text and arguments. `Code` is the five-character
SQLSTATE, empty when the failure didn't come from the server.
*/
type DatabaseError struct {
	Code    string
	Message string
	Detail  string
	Text    string
	Args    []any
	Cause   error
}

// Implement `error`.
func (self *DatabaseError) Error() string {
	var buf strings.Builder
	buf.WriteString(`[pgq] database error`)
	if self.Code != `` {
		buf.WriteString(` `)
		buf.WriteString(self.Code)
	}
	if self.Message != `` {
		buf.WriteString(`: `)
		buf.WriteString(self.Message)
	} else if self.Cause != nil {
		buf.WriteString(`: `)
		buf.WriteString(self.Cause.Error())
	}
	if self.Detail != `` {
		buf.WriteString(` (`)
		buf.WriteString(self.Detail)
		buf.WriteString(`)`)
	}
	if self.Text != `` {
		fmt.Fprintf(&buf, `; query: %s; args: %v`, self.Text, self.Args)
	}
	return buf.String()
}

// Implement a hidden interface in "errors".
func (self *DatabaseError) Unwrap() error { return self.Cause }

// True if the error is a serialization failure (SQLSTATE 40001).
func (self *DatabaseError) SerializationFailure() bool {
	return self != nil && self.Code == SqlStateSerializationFailure
}

// True if the error belongs to SQLSTATE class 23 (integrity constraint
// violation).
func (self *DatabaseError) ConstraintViolation() bool {
	return self != nil && strings.HasPrefix(self.Code, `23`)
}

// SQLSTATE codes recognized by this package.
const (
	SqlStateSerializationFailure = `40001`
	SqlStateUniqueViolation      = `23505`
	SqlStateForeignKeyViolation  = `23503`
)

// True if anything in the error chain is a `*DatabaseError` reporting a
// serialization failure.
func IsSerializationFailure(err error) bool {
	var dbErr *DatabaseError
	return errors.As(err, &dbErr) && dbErr.SerializationFailure()
}

// True if anything in the error chain is a `*DatabaseError` reporting an
// integrity constraint violation.
func IsConstraintViolation(err error) bool {
	var dbErr *DatabaseError
	return errors.As(err, &dbErr) && dbErr.ConstraintViolation()
}

// Wraps an arbitrary execution error, attaching statement context. Existing
// `*DatabaseError` values are copied rather than mutated.
func dbError(err error, text string, args []any) error {
	if err == nil {
		return nil
	}

	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		out := *dbErr
		out.Text, out.Args = text, args
		if out.Cause == nil {
			out.Cause = err
		}
		return &out
	}
	return &DatabaseError{Message: err.Error(), Text: text, Args: args, Cause: err}
}
