// Package apperrors defines the categorized errors returned by the engine.
package apperrors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

type Category string

const (
	CategoryExtraction    Category = "extraction"
	CategoryDuplicate     Category = "duplicate"
	CategoryMatching      Category = "matching"
	CategoryConflict      Category = "conflict"
	CategoryValidation    Category = "validation"
	CategoryNotFound      Category = "not_found"
	CategoryStorage       Category = "storage"
	CategoryConfiguration Category = "configuration"
)

type Code string

const (
	CodeUnknownSender        Code = "unknown_sender"
	CodeAmountNotFound       Code = "amount_not_found"
	CodeInvalidAmount        Code = "invalid_amount"
	CodeInvalidTemplate      Code = "invalid_template"
	CodeDuplicateTransaction Code = "duplicate_transaction"
	CodePaymentNotPending    Code = "payment_not_pending"
	CodeInvalidTransition    Code = "invalid_transition"
	CodeAccountInvariant     Code = "account_invariant"
	CodeRecordNotFound       Code = "record_not_found"
	CodeStorageFailure       Code = "storage_failure"
	CodeInvalidConfig        Code = "invalid_config"
	CodeInvalidReviewStatus  Code = "invalid_review_status"
	CodeInvalidInput         Code = "invalid_input"
	CodeNoAccountAvailable   Code = "no_account_available"
	CodeTransactionSettled   Code = "transaction_settled"
)

// Context carries extra diagnostic values.
type Context map[string]interface{}

// Error is the engine's categorized error.
type Error struct {
	Category Category `json:"category"`
	Code     Code     `json:"code"`
	Message  string   `json:"message"`
	Context  Context  `json:"context,omitempty"`
	Cause    error    `json:"-"`
	stack    errors.StackTrace
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error with the same category and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// StackTrace returns where the error was created.
func (e *Error) StackTrace() errors.StackTrace { return e.stack }

// WithContext adds a diagnostic key.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func New(category Category, code Code, message string) *Error {
	return &Error{
		Category: category,
		Code:     code,
		Message:  message,
		stack:    errors.New("").(stackTracer).StackTrace()[1:],
	}
}

func Newf(category Category, code Code, format string, args ...interface{}) *Error {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap attaches a category to err. A nil err stays nil.
func Wrap(err error, category Category, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    err,
		stack:    errors.WithStack(err).(stackTracer).StackTrace()[1:],
	}
}

// Storage wraps a persistence failure.
func Storage(err error, op string) error {
	return Wrap(err, CategoryStorage, CodeStorageFailure, op)
}

// NotFound reports a missing record.
func NotFound(kind string, id interface{}) *Error {
	return Newf(CategoryNotFound, CodeRecordNotFound, "%s %v not found", kind, id).WithContext("id", id)
}

// Validation reports bad input.
func Validation(code Code, format string, args ...interface{}) *Error {
	return Newf(CategoryValidation, code, format, args...)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func IsCategory(err error, category Category) bool {
	e, ok := As(err)
	return ok && e.Category == category
}

func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// HTTPStatus maps an error to a response status.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Category {
	case CategoryValidation, CategoryExtraction:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryConflict, CategoryDuplicate:
		return http.StatusConflict
	case CategoryMatching:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
