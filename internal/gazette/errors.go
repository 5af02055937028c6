package gazette

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a pipeline error. Stage handlers use the kind to decide
// whether a message is retried or terminated.
type Kind string

// Error kinds.
const (
	// KindExternalAPI covers failures of crawl sites, the OCR service,
	// LLM providers, and webhook endpoints.
	KindExternalAPI Kind = "external_api"

	// KindStorage covers database connect/query/validation failures.
	KindStorage Kind = "storage"

	// KindConfiguration covers invalid or missing configuration.
	KindConfiguration Kind = "configuration"

	// KindValidation covers rejected inputs.
	KindValidation Kind = "validation"

	// KindNotFound covers missing rows and unknown identifiers.
	KindNotFound Kind = "not_found"

	// KindTimeout covers exceeded deadlines on any external call.
	KindTimeout Kind = "timeout"

	// KindQueue covers broker publish/consume failures.
	KindQueue Kind = "queue"

	// KindInternal covers everything unexpected inside a worker.
	KindInternal Kind = "internal"
)

// retryableKinds are transient: a redelivery may succeed.
var retryableKinds = map[Kind]bool{
	KindExternalAPI: true,
	KindStorage:     true,
	KindTimeout:     true,
	KindQueue:       true,
	KindInternal:    true,
}

// PipelineError carries the classification and context a stage handler
// needs to route a failure: the kind drives ack/retry/terminate, the code
// and context end up in the error log.
type PipelineError struct {
	Kind       Kind
	Code       string
	HTTPStatus int
	Context    map[string]string
	OccurredAt time.Time
	Err        error
}

// NewError builds a classified pipeline error wrapping err.
func NewError(kind Kind, code string, err error) *PipelineError {
	return &PipelineError{
		Kind:       kind,
		Code:       code,
		OccurredAt: time.Now().UTC(),
		Err:        err,
	}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}

	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
}

// Unwrap exposes the wrapped cause to errors.Is and errors.As.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// WithHTTPStatus attaches the HTTP status observed from an external call.
func (e *PipelineError) WithHTTPStatus(status int) *PipelineError {
	e.HTTPStatus = status

	return e
}

// WithContext attaches one structured context pair.
func (e *PipelineError) WithContext(key, value string) *PipelineError {
	if e.Context == nil {
		e.Context = map[string]string{}
	}

	e.Context[key] = value

	return e
}

// Retryable reports whether the error's kind is transient.
func (e *PipelineError) Retryable() bool {
	return retryableKinds[e.Kind]
}

// KindOf extracts the kind from an error chain. Unclassified errors
// report KindInternal so they stay retryable by default.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	return KindInternal
}

// Retryable reports whether any error in the chain is a transient
// pipeline error. Unclassified errors count as transient.
func Retryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}

	return true
}
