package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error pairs a domain failure with the HTTP status and stable code the
// transport layer reports. Layers below the handlers return these; the
// handlers unpack them with errors.As.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// The attempt engine taxonomy. Compare with errors.Is.
var (
	ErrTemplateNotFound = New(http.StatusNotFound, "TEMPLATE_NOT_FOUND",
		errors.New("test template not found"))
	ErrAttemptNotFound = New(http.StatusNotFound, "ATTEMPT_NOT_FOUND",
		errors.New("attempt not found"))
	ErrAttemptAlreadyTerminal = New(http.StatusConflict, "ATTEMPT_ALREADY_TERMINAL",
		errors.New("attempt already reached a terminal state"))
	ErrDuplicateAnswer = New(http.StatusConflict, "DUPLICATE_ANSWER",
		errors.New("question already answered in this attempt"))
	ErrQuestionNotInPool = New(http.StatusBadRequest, "QUESTION_NOT_IN_POOL",
		errors.New("question does not belong to the attempt pool"))
	ErrInvalidStrategy = New(http.StatusBadRequest, "INVALID_STRATEGY",
		errors.New("unknown adaptive strategy"))
)

// InsufficientQuestions reports a pre-flight failure: the named template
// section asks for more eligible questions than the bank can supply.
func InsufficientQuestions(section string, required, available int64) *Error {
	return New(http.StatusBadRequest, "INSUFFICIENT_QUESTIONS",
		fmt.Errorf("section %s requires %d eligible questions, only %d available", section, required, available))
}

// StatusFor extracts the HTTP status carried by err, defaulting to 500
// for anything outside the taxonomy.
func StatusFor(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status != 0 {
		return apiErr.Status
	}
	return http.StatusInternalServerError
}

// CodeFor extracts the stable code carried by err, empty when absent.
func CodeFor(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
