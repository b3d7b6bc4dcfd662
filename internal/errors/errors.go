package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodePermissionDenied   = Code(codes.PermissionDenied)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeInternal           = Code(codes.Internal)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeFailedPrecondition: http.StatusConflict,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// Reason is a stable, machine-readable rejection cause. Clients switch on it to pick
// the message they show, so values must never be renamed.
type Reason string

const (
	ReasonInvalidRequest      Reason = "invalid_request"
	ReasonInvalidAnswer       Reason = "invalid_answer"
	ReasonInvalidStatus       Reason = "invalid_status"
	ReasonInvalidRound        Reason = "invalid_round"
	ReasonInvalidAction       Reason = "invalid_action"
	ReasonTrainingNotFound    Reason = "training_not_found"
	ReasonRoundNotFound       Reason = "round_not_found"
	ReasonQuestionNotFound    Reason = "question_not_found"
	ReasonScenarioNotFound    Reason = "scenario_not_found"
	ReasonScenarioUnavailable Reason = "scenario_unavailable"
	ReasonTrainingNotActive   Reason = "training_not_active"
	ReasonNoAccess            Reason = "no_access"
	ReasonRoleNotAllowed      Reason = "role_not_allowed"
	ReasonRoundNotAccessible  Reason = "round_not_accessible"
	ReasonDuplicate           Reason = "duplicate_submission"
	ReasonInvalidTransition   Reason = "invalid_transition"
	ReasonNotFacilitator      Reason = "not_facilitator"
	ReasonCapacityReached     Reason = "capacity_reached"
	ReasonInvalidAccessCode   Reason = "invalid_access_code"
	ReasonUnauthenticated     Reason = "unauthenticated"
)

type Error struct {
	Code    Code   `json:"code"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.Reason != "" {
		s += fmt.Sprintf(", reason: %s", e.Reason)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

// Convert returns err as *Error, wrapping anything unknown as Internal.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// HasReason reports whether err carries the given rejection reason.
func HasReason(err error, r Reason) bool {
	var e *Error
	return errors.As(err, &e) && e.Reason == r
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

func WithReason(r Reason) Option {
	return optionFunc(func(e *Error) {
		e.Reason = r
	})
}
