package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("forbidden")
)

// ValidationError is reported before any store write happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// CommitError wraps a failed primary invoice write. Message is shown to the
// operator as is.
type CommitError struct {
	Message string
	Err     error
}

func (e *CommitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

const (
	msgInvoiceHeaderFailed = "تعذر حفظ الفاتورة"
	msgInvoiceItemsFailed  = "تعذر حفظ أصناف الفاتورة"
	msgOrderInvoiceFailed  = "تعذر إنشاء فاتورة الطلب"
)

func transitionError(from string, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
