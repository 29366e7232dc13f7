package domain

import (
	"errors"
	"fmt"
)

type ErrCode string

const (
	CodeNoSession        ErrCode = "no_session"
	CodeNetwork          ErrCode = "network_error"
	CodeRanker           ErrCode = "ranker_error"
	CodeSessionExpired   ErrCode = "session_expired"
	CodeTelemetryDropped ErrCode = "telemetry_dropped"
	CodeInvalidConfig    ErrCode = "invalid_config"
)

type AppError struct {
	Code    ErrCode
	Message string
	Meta    map[string]string
}

func (e *AppError) Error() string {
	if len(e.Meta) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Meta)
}

func ErrNoSession(msg string) error      { return &AppError{Code: CodeNoSession, Message: msg} }
func ErrNetwork(msg string) error        { return &AppError{Code: CodeNetwork, Message: msg} }
func ErrRanker(msg string) error         { return &AppError{Code: CodeRanker, Message: msg} }
func ErrSessionExpired(msg string) error { return &AppError{Code: CodeSessionExpired, Message: msg} }
func ErrInvalidConfig(msg string) error  { return &AppError{Code: CodeInvalidConfig, Message: msg} }

func ErrRankerMeta(msg string, meta map[string]string) error {
	return &AppError{Code: CodeRanker, Message: msg, Meta: meta}
}

// CodeOf extracts the ErrCode from err, or "" when err is not an AppError.
func CodeOf(err error) ErrCode {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func IsCode(err error, code ErrCode) bool { return CodeOf(err) == code }
