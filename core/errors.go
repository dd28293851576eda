package core

import "github.com/pkg/errors"

// Authorization failure reasons.
const (
	ReasonDifferentSchool  = "different_school"
	ReasonDifferentClass   = "different_class"
	ReasonForbidden        = "forbidden"
	ReasonNotAuthenticated = "not_authenticated"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// AuthorizationError is returned when the actor may not perform an operation.
type AuthorizationError struct {
	Reason string
}

func NewAuthorizationError(reason string) error {
	return &AuthorizationError{Reason: reason}
}

func (err AuthorizationError) Error() string {
	return "ไม่มีสิทธิ์เข้าถึงข้อมูลนี้ (" + err.Reason + ")"
}

// StateError is returned when an entity is in the wrong status for a mutation.
// No data has been changed when it is returned.
type StateError struct {
	Message string
}

func NewStateError(msg string) error {
	return &StateError{Message: msg}
}

func (err StateError) Error() string {
	return err.Message
}

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	Resource string
}

func NewNotFoundError(resource string) error {
	return &NotFoundError{Resource: resource}
}

func (err NotFoundError) Error() string {
	return "ไม่พบข้อมูล" + err.Resource
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

func IsAuthorization(err error) bool {
	_, ok := errors.Cause(err).(*AuthorizationError)
	return ok
}

func IsState(err error) bool {
	_, ok := errors.Cause(err).(*StateError)
	return ok
}

func IsValidation(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
