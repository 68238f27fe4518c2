package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeParse            ErrorCode = "PARSE_ERROR"
	CodeSchema           ErrorCode = "SCHEMA_ERROR"
	CodeFailedPrecond    ErrorCode = "FAILED_PRECONDITION"
	CodeMissingTimestamp ErrorCode = "MISSING_TIMESTAMP"
	CodeMalformedSource  ErrorCode = "MALFORMED_SOURCE"
	CodeInvalidTemplate  ErrorCode = "INVALID_TEMPLATE"
	CodeRegistration     ErrorCode = "TEMPLATE_REGISTRATION"
	CodeCache            ErrorCode = "CACHE_ERROR"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeAlreadyExists    ErrorCode = "ALREADY_EXISTS"
	CodeConflict         ErrorCode = "CONFLICT"
	CodeSourceFile       ErrorCode = "SOURCE_FILE"
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
)

var (
	ErrParse                = errors.New("invalid json")
	ErrSchema               = errors.New("schema error")
	ErrPrecondition         = errors.New("failed precondition")
	ErrMissingTimestamp     = errors.New("missing @timestamp")
	ErrMalformedSource      = errors.New("malformed source document")
	ErrInvalidTemplate      = errors.New("invalid template")
	ErrTemplateRegistration = errors.New("template registration failed")
	ErrCache                = errors.New("template cache error")
	ErrTemplateNotFound     = errors.New("template not found")
	ErrTemplateDuplicate    = errors.New("duplicate template")
	ErrCacheConflict        = errors.New("template cache conflict")
	ErrSourceFile           = errors.New("source file unavailable")
	ErrInvalidArgument      = errors.New("invalid argument")
)

var codeSentinels = map[ErrorCode]error{
	CodeParse:            ErrParse,
	CodeSchema:           ErrSchema,
	CodeFailedPrecond:    ErrPrecondition,
	CodeMissingTimestamp: ErrMissingTimestamp,
	CodeMalformedSource:  ErrMalformedSource,
	CodeInvalidTemplate:  ErrInvalidTemplate,
	CodeRegistration:     ErrTemplateRegistration,
	CodeCache:            ErrCache,
	CodeNotFound:         ErrTemplateNotFound,
	CodeAlreadyExists:    ErrTemplateDuplicate,
	CodeConflict:         ErrCacheConflict,
	CodeSourceFile:       ErrSourceFile,
	CodeInvalidArgument:  ErrInvalidArgument,
}

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
	Meta    map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches the sentinel associated with the error code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := codeSentinels[e.Code]
	return ok && sentinel == target
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

// Errorf builds an Error with a formatted message and no cause.
func Errorf(code ErrorCode, op, format string, args ...any) *Error {
	return E(code, op, fmt.Sprintf(format, args...), nil)
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
			Meta:    existing.Meta,
		}
	}
	return E(code, op, "", err)
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	for code, sentinel := range codeSentinels {
		if errors.Is(err, sentinel) {
			return code, true
		}
	}
	return "", false
}
