package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by who caused it and how callers should react.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindConflict
	KindForbidden
	KindUpstreamUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "internal"
	}
}

// Domain codes carried on the wire so that remote callers can tell apart
// errors sharing a Kind.
const (
	CodeInvalidParticipants  = "invalid_participants"
	CodeParticipantNotInPool = "participant_not_in_pool"
	CodeDuplicateMatch       = "duplicate_match"
	CodeMatchNotFound        = "match_not_found"
	CodeNotParticipant       = "not_participant"
	CodeUserNotInPool        = "user_not_in_pool"
	CodeAlreadyInPool        = "already_in_pool"
	CodePoolNotFound         = "pool_not_found"
	CodeMemberNotFound       = "member_not_found"
	CodeMemberExists         = "member_exists"
	CodePoolFull             = "pool_full"
	CodePoolNotEmpty         = "pool_not_empty"
	CodeDecisionNotFound     = "decision_not_found"
	CodeStoreUnavailable     = "store_unavailable"
)

// Error is the typed error returned by every component.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind and, when set on the target, by Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Kind == t.Kind && t.Msg == "" && t.Err == nil
}

// New builds an error of the given kind and code.
func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func InvalidInput(format string, args ...any) *Error {
	return New(KindInvalidInput, "", format, args...)
}

func NotFound(code, format string, args ...any) *Error {
	return New(KindNotFound, code, format, args...)
}

func Upstream(err error, format string, args ...any) *Error {
	return Wrap(KindUpstreamUnavailable, err, format, args...)
}

func Internal(err error, format string, args ...any) *Error {
	return Wrap(KindInternal, err, format, args...)
}

// Targets for errors.Is.
var (
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}

	ErrInvalidParticipants  = &Error{Kind: KindInvalidInput, Code: CodeInvalidParticipants}
	ErrParticipantNotInPool = &Error{Kind: KindInvalidInput, Code: CodeParticipantNotInPool}
	ErrDuplicateMatch       = &Error{Kind: KindConflict, Code: CodeDuplicateMatch}
	ErrMatchNotFound        = &Error{Kind: KindNotFound, Code: CodeMatchNotFound}
	ErrNotParticipant       = &Error{Kind: KindForbidden, Code: CodeNotParticipant}
	ErrUserNotInPool        = &Error{Kind: KindNotFound, Code: CodeUserNotInPool}
	ErrAlreadyInPool        = &Error{Kind: KindConflict, Code: CodeAlreadyInPool}
	ErrPoolFull             = &Error{Kind: KindConflict, Code: CodePoolFull}
)

// KindOf reports the Kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the domain code of err, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps an error onto the status code returned to clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUpstreamUnavailable:
		if CodeOf(err) == CodeStoreUnavailable {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus rebuilds a typed error from a remote service response.
func FromStatus(status int, code, msg string) *Error {
	var kind Kind
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = KindInvalidInput
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusConflict:
		kind = KindConflict
	case status == http.StatusForbidden:
		kind = KindForbidden
	case status == http.StatusTooManyRequests || status >= 500:
		kind = KindUpstreamUnavailable
	default:
		kind = KindInternal
	}
	if msg == "" {
		msg = fmt.Sprintf("upstream returned %d", status)
	}
	return &Error{Kind: kind, Code: code, Msg: msg}
}
