package domain

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable class of a failure.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindAlreadyFinalized   Kind = "already_finalized"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindInvalidState       Kind = "invalid_state"
	KindRecipientNotFound  Kind = "recipient_not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindConflict           Kind = "conflict"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindBusy               Kind = "busy"
	KindInvalidInput       Kind = "invalid_input"
)

// Error carries a Kind plus a human message. Two errors match under errors.Is
// when their kinds match, so the sentinels below work as comparison targets.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrAlreadyFinalized   = &Error{Kind: KindAlreadyFinalized}
	ErrInsufficientFunds  = &Error{Kind: KindInsufficientFunds}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrRecipientNotFound  = &Error{Kind: KindRecipientNotFound}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrStorageUnavailable = &Error{Kind: KindStorageUnavailable}
	ErrBusy               = &Error{Kind: KindBusy}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
)

// NewError builds an Error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause. An err that already carries a
// kind is returned untouched.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the kind of err. Errors without a kind are storage failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindStorageUnavailable
}

// Retryable reports whether the operation may succeed if attempted again.
func Retryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
