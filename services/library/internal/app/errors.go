package app

import (
	"errors"
	"fmt"
	"strings"

	"zettler/pkg/store"
)

// Kind classifies an application error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindValidation
	KindNotFound
	KindConflict
	KindRateLimited
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream"
	}
	return "internal"
}

// Error carries a client-safe Message. Err is for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func errUnauthenticated() error {
	return &Error{Kind: KindUnauthenticated, Message: "Unauthorized"}
}

func errForbidden(msg string) error {
	if msg == "" {
		msg = "Forbidden"
	}
	return &Error{Kind: KindForbidden, Message: msg}
}

func errValidation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func errNotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func errConflict(msg string, err error) error {
	return &Error{Kind: KindConflict, Message: msg, Err: err}
}

func errUpstream(msg string, err error) error {
	return &Error{Kind: KindUpstream, Message: msg, Err: err}
}

func errInternal(op string, err error) error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: fmt.Errorf("%s: %w", op, err)}
}

// storeErr maps store sentinels onto kinds; anything else is internal.
func storeErr(op, notFound string, err error) error {
	var appErr *Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, store.ErrNotFound):
		return errNotFound(notFound)
	case errors.Is(err, store.ErrConflict):
		return errConflict(conflictMessage(err), err)
	}
	return errInternal(op, err)
}

func conflictMessage(err error) string {
	if msg, ok := strings.CutPrefix(err.Error(), store.ErrConflict.Error()+": "); ok && msg != "" {
		return msg
	}
	return "Conflict"
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf returns the client-facing message of err.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Message
	}
	return "internal error"
}
