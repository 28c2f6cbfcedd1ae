package model

import "errors"

var (
	ErrMissingInput         = errors.New("missing input data")
	ErrDegradedModel        = errors.New("classifier fitted on request batch")
	ErrDegradedTopology     = errors.New("topology unavailable")
	ErrUnknownSeverity      = errors.New("unknown severity")
	ErrUnknownNodeReference = errors.New("unknown node reference")
	ErrUnknownWeather       = errors.New("unknown weather condition")
	ErrEmptyRegistry        = errors.New("consumer registry is empty")
)

const (
	ErrorKindMissingInput   = "missing_input"
	ErrorKindInvalidRequest = "invalid_request"
	ErrorKindInternal       = "internal"
)

type ErrorPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func NewErrorPayload(err error) ErrorPayload {
	kind := ErrorKindInternal
	switch {
	case errors.Is(err, ErrMissingInput), errors.Is(err, ErrEmptyRegistry):
		kind = ErrorKindMissingInput
	case errors.Is(err, ErrUnknownWeather), errors.Is(err, ErrUnknownSeverity):
		kind = ErrorKindInvalidRequest
	}
	return ErrorPayload{Error: err.Error(), Kind: kind}
}
