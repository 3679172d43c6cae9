package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// DecodeKind enumerates image decoding failures
type DecodeKind string

const (
	InvalidFormat DecodeKind = "invalid_format"
)

// LoadKind enumerates local backend initialization failures
type LoadKind string

const (
	CorruptModel  LoadKind = "corrupt_model"
	CorruptLabels LoadKind = "corrupt_labels"
)

// InferenceKind enumerates backend execution failures
type InferenceKind string

const (
	ModelNotLoaded     InferenceKind = "model_not_loaded"
	LabelCountMismatch InferenceKind = "label_count_mismatch"
	InvalidInput       InferenceKind = "invalid_input"
	ExecutionFailed    InferenceKind = "execution_failed"
	Unreachable        InferenceKind = "unreachable"
	ServerRejected     InferenceKind = "server_rejected"
	BadResponse        InferenceKind = "bad_response"
)

// ResolutionKind enumerates top-1 label derivation failures
type ResolutionKind string

const (
	ShapeMismatch   ResolutionKind = "shape_mismatch"
	IndexOutOfRange ResolutionKind = "index_out_of_range"
	NoComparableScore   ResolutionKind = "no_comparable_score"
)

// Stage names the pipeline step a ClassificationError originated from
type Stage string

const (
	StageDecode     Stage = "decode"
	StagePreprocess Stage = "preprocess"
	StageInfer      Stage = "infer"
	StageResolve    Stage = "resolve"
)

// Kind-only values for use with errors.Is.
var (
	ErrInvalidFormat      = &DecodeError{Kind: InvalidFormat}
	ErrCorruptModel       = &LoadError{Kind: CorruptModel}
	ErrCorruptLabels      = &LoadError{Kind: CorruptLabels}
	ErrModelNotLoaded     = &InferenceError{Kind: ModelNotLoaded}
	ErrLabelCountMismatch = &InferenceError{Kind: LabelCountMismatch}
	ErrInvalidInput       = &InferenceError{Kind: InvalidInput}
	ErrExecutionFailed    = &InferenceError{Kind: ExecutionFailed}
	ErrUnreachable        = &InferenceError{Kind: Unreachable}
	ErrServerRejected     = &InferenceError{Kind: ServerRejected}
	ErrBadResponse        = &InferenceError{Kind: BadResponse}
	ErrShapeMismatch      = &ResolutionError{Kind: ShapeMismatch}
	ErrIndexOutOfRange    = &ResolutionError{Kind: IndexOutOfRange}
	ErrNoComparableScore      = &ResolutionError{Kind: NoComparableScore}
)

// DecodeError reports an empty, malformed or unsupported image
type DecodeError struct {
	Kind    DecodeKind
	Message string
	Cause   error
}

func NewDecodeError(message string, cause error) *DecodeError {
	return &DecodeError{Kind: InvalidFormat, Message: message, Cause: cause}
}

func (e *DecodeError) Error() string {
	return formatKind("decode", string(e.Kind), e.Message, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind
}

// LoadError reports a bad model or label resource at initialization
type LoadError struct {
	Kind    LoadKind
	Message string
	Cause   error
}

func NewLoadError(kind LoadKind, message string, cause error) *LoadError {
	return &LoadError{Kind: kind, Message: message, Cause: cause}
}

func (e *LoadError) Error() string {
	return formatKind("load", string(e.Kind), e.Message, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

func (e *LoadError) Is(target error) bool {
	t, ok := target.(*LoadError)
	return ok && t.Kind == e.Kind
}

// InferenceError reports a backend execution failure. StatusCode is set
// for ServerRejected and holds the remote HTTP status.
type InferenceError struct {
	Kind       InferenceKind
	Message    string
	StatusCode int
	Cause      error
}

func NewInferenceError(kind InferenceKind, message string, cause error) *InferenceError {
	return &InferenceError{Kind: kind, Message: message, Cause: cause}
}

func (e *InferenceError) Error() string {
	return formatKind("inference", string(e.Kind), e.Message, e.Cause)
}

func (e *InferenceError) Unwrap() error { return e.Cause }

func (e *InferenceError) Is(target error) bool {
	t, ok := target.(*InferenceError)
	return ok && t.Kind == e.Kind
}

// ResolutionError reports a failure to derive the top-1 prediction
type ResolutionError struct {
	Kind    ResolutionKind
	Message string
}

func NewResolutionError(kind ResolutionKind, message string) *ResolutionError {
	return &ResolutionError{Kind: kind, Message: message}
}

func (e *ResolutionError) Error() string {
	return formatKind("resolve", string(e.Kind), e.Message, nil)
}

func (e *ResolutionError) Is(target error) bool {
	t, ok := target.(*ResolutionError)
	return ok && t.Kind == e.Kind
}

// ClassificationError wraps any stage failure with the stage it came from
type ClassificationError struct {
	Stage Stage
	Err   error
}

func NewClassificationError(stage Stage, err error) *ClassificationError {
	return &ClassificationError{Stage: stage, Err: err}
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed at %s: %v", e.Stage, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// Message returns the originating stage error's own message, e.g. the
// verbatim "error" field of a rejected remote request.
func (e *ClassificationError) Message() string {
	var (
		decodeErr  *DecodeError
		loadErr    *LoadError
		inferErr   *InferenceError
		resolveErr *ResolutionError
	)
	switch {
	case errors.As(e.Err, &inferErr):
		return inferErr.Message
	case errors.As(e.Err, &decodeErr):
		return decodeErr.Message
	case errors.As(e.Err, &resolveErr):
		return resolveErr.Message
	case errors.As(e.Err, &loadErr):
		return loadErr.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return ""
}

// StatusFor maps the classification taxonomy to an HTTP status code
func StatusFor(err error) int {
	var (
		decodeErr  *DecodeError
		loadErr    *LoadError
		inferErr   *InferenceError
		resolveErr *ResolutionError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest
	case errors.As(err, &loadErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &inferErr):
		switch inferErr.Kind {
		case ModelNotLoaded:
			return http.StatusServiceUnavailable
		case InvalidInput:
			return http.StatusBadRequest
		case Unreachable, ServerRejected, BadResponse:
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	case errors.As(err, &resolveErr):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func formatKind(scope, kind, message string, cause error) string {
	msg := fmt.Sprintf("%s: %s", scope, kind)
	if message != "" {
		msg += ": " + message
	}
	if cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", cause)
	}
	return msg
}
