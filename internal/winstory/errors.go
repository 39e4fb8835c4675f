package winstory

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/errors"
)

// IngestKind tags why a payload could not be turned into stories.
type IngestKind int

const (
	EmptyPayload IngestKind = iota
	MalformedJSON
	UnexpectedShape
)

func (k IngestKind) String() string {
	switch k {
	case EmptyPayload:
		return "empty_payload"
	case MalformedJSON:
		return "malformed_json"
	case UnexpectedShape:
		return "unexpected_shape"
	default:
		return "unknown"
	}
}

// IngestError is returned by the normalizer. Message keeps the parser's own
// text for diagnostics.
type IngestError struct {
	Kind    IngestKind
	Message string
	Err     error
}

func (e *IngestError) Error() string {
	switch e.Kind {
	case MalformedJSON:
		return fmt.Sprintf("malformed story payload: %s", e.Message)
	case UnexpectedShape:
		return fmt.Sprintf("unexpected story payload shape: %s", e.Message)
	default:
		return e.Message
	}
}

// Unwrap exposes the matching sentinel from pkg/errors alongside the cause.
func (e *IngestError) Unwrap() []error {
	errs := make([]error, 0, 2)
	switch e.Kind {
	case MalformedJSON:
		errs = append(errs, apperrors.ErrMalformedPayload)
	case UnexpectedShape:
		errs = append(errs, apperrors.ErrUnexpectedShape)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// TriggerError wraps a failed call to the generation trigger.
type TriggerError struct {
	RecordID string
	Err      error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("triggering story generation for %s: %v", e.RecordID, e.Err)
}

func (e *TriggerError) Unwrap() []error {
	return []error{apperrors.ErrTriggerFailed, e.Err}
}

// RecordFetchError reports that the record source delivered an error instead
// of data, or that a re-fetch request could not be issued.
type RecordFetchError struct {
	RecordID string
	Err      error
}

func (e *RecordFetchError) Error() string {
	return fmt.Sprintf("fetching record %s: %v", e.RecordID, e.Err)
}

func (e *RecordFetchError) Unwrap() []error {
	return []error{apperrors.ErrRecordFetch, e.Err}
}
