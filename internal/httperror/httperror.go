package httperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/graphql-go/graphql/gqlerrors"
)

// Class identifies which stage of the request pipeline raised an error.
type Class string

const (
	ClassParam            Class = "param"
	ClassConfig           Class = "config"
	ClassMethod           Class = "method"
	ClassMissingQuery     Class = "missing_query"
	ClassSchemaValidation Class = "schema_validation"
	ClassSyntax           Class = "syntax"
	ClassValidation       Class = "validation"
	ClassOperation        Class = "operation"
	ClassExecutionContext Class = "execution_context"
	ClassUnhandled        Class = "unhandled"
)

// HTTPError is a pipeline failure already shaped for the response: a
// status, extra headers and the GraphQL errors to report.
type HTTPError struct {
	Status  int
	Class   Class
	Message string
	Headers map[string]string
	Errors  []gqlerrors.FormattedError

	cause error
}

// New creates an HTTPError. With no GraphQL errors given, the message
// becomes the single reported error.
func New(status int, class Class, message string, errs ...gqlerrors.FormattedError) *HTTPError {
	if len(errs) == 0 {
		errs = []gqlerrors.FormattedError{gqlerrors.NewFormattedError(message)}
	}
	return &HTTPError{
		Status:  status,
		Class:   class,
		Message: message,
		Headers: map[string]string{},
		Errors:  errs,
	}
}

func (e *HTTPError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.cause
}

// WithHeader sets a response header carried by the error.
func (e *HTTPError) WithHeader(key, value string) *HTTPError {
	e.Headers[key] = value
	return e
}

// WithCause records the underlying failure for logging.
func (e *HTTPError) WithCause(err error) *HTTPError {
	e.cause = err
	return e
}

// ParamError reports a request body or parameter that could not be decoded.
func ParamError(status int, message string, cause error) *HTTPError {
	return New(status, ClassParam, message).WithCause(cause)
}

// ConfigError reports an unusable options object. Operator-caused.
func ConfigError(message string, cause error) *HTTPError {
	return New(http.StatusInternalServerError, ClassConfig, message).WithCause(cause)
}

func MethodNotAllowed() *HTTPError {
	return New(http.StatusMethodNotAllowed, ClassMethod, "GraphQL only supports GET and POST requests.").
		WithHeader("Allow", "GET, POST")
}

func MissingQuery() *HTTPError {
	return New(http.StatusBadRequest, ClassMissingQuery, "Must provide query string.")
}

func SchemaValidation(errs []gqlerrors.FormattedError) *HTTPError {
	return New(http.StatusInternalServerError, ClassSchemaValidation, "GraphQL schema validation error.", errs...)
}

// Syntax wraps a parser failure. The parser diagnostic and its locations
// are kept as the single reported error.
func Syntax(err error) *HTTPError {
	formatted := gqlerrors.FormatError(err)
	formatted.Message = "GraphQL syntax error. " + formatted.Message
	return New(http.StatusBadRequest, ClassSyntax, "GraphQL syntax error.", formatted).WithCause(err)
}

func Validation(errs []gqlerrors.FormattedError) *HTTPError {
	return New(http.StatusBadRequest, ClassValidation, "GraphQL validation error.", errs...)
}

// OperationNotAllowed refuses a non-query operation sent with GET.
func OperationNotAllowed(operation string) *HTTPError {
	return New(http.StatusMethodNotAllowed, ClassOperation,
		fmt.Sprintf("Can only perform a %s operation from a POST request.", operation)).
		WithHeader("Allow", "POST")
}

// ExecutionContext reports a failure building or honouring the execution
// context. It is attributed to the client.
func ExecutionContext(cause error) *HTTPError {
	return New(http.StatusBadRequest, ClassExecutionContext, "GraphQL execution context error.",
		gqlerrors.FormatError(cause)).WithCause(cause)
}

// Normalize maps any error to an HTTPError. Errors raised by the pipeline
// are returned unchanged; anything else becomes a 500 with one error.
func Normalize(err error) *HTTPError {
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return New(http.StatusInternalServerError, ClassUnhandled, err.Error()).WithCause(err)
}
