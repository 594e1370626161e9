package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode is the discriminant of a failure carried on a correlated response.
type ErrorCode string

const (
	CodeChannelNotConnected        ErrorCode = "ChannelNotConnected"
	CodeUnexpectedResponseShape    ErrorCode = "UnexpectedResponseShape"
	CodeVaultAlreadyExists         ErrorCode = "VaultAlreadyExists"
	CodeInvalidPassword            ErrorCode = "InvalidPassword"
	CodeWalletLocked               ErrorCode = "WalletLocked"
	CodeSourceLocked               ErrorCode = "SourceLocked"
	CodeAccountAlreadyExists       ErrorCode = "AccountAlreadyExists"
	CodeMnemonicNotFound           ErrorCode = "MnemonicNotFound"
	CodeMigrationAlreadyInProgress ErrorCode = "MigrationAlreadyInProgress"
	CodeRequestExpired             ErrorCode = "RequestExpired"
	CodeNotFound                   ErrorCode = "NotFound"
	CodeInvalidRequest             ErrorCode = "InvalidRequest"
	CodeMigrationRequired          ErrorCode = "MigrationRequired"
	CodeRateLimited                ErrorCode = "RateLimited"
	CodeInternal                   ErrorCode = "Internal"
)

// Error is a typed failure. Two errors are equal under errors.Is when their
// codes match, so a wrapped sentinel and an error decoded from the wire compare equal.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrChannelNotConnected        = &Error{Code: CodeChannelNotConnected, Message: "channel is not connected"}
	ErrUnexpectedResponseShape    = &Error{Code: CodeUnexpectedResponseShape, Message: "unexpected response shape"}
	ErrVaultAlreadyExists         = &Error{Code: CodeVaultAlreadyExists, Message: "vault already exists"}
	ErrInvalidPassword            = &Error{Code: CodeInvalidPassword, Message: "invalid password"}
	ErrWalletLocked               = &Error{Code: CodeWalletLocked, Message: "wallet is locked"}
	ErrSourceLocked               = &Error{Code: CodeSourceLocked, Message: "account source is locked"}
	ErrAccountAlreadyExists       = &Error{Code: CodeAccountAlreadyExists, Message: "account already exists"}
	ErrMnemonicNotFound           = &Error{Code: CodeMnemonicNotFound, Message: "mnemonic not found"}
	ErrMigrationAlreadyInProgress = &Error{Code: CodeMigrationAlreadyInProgress, Message: "storage migration already in progress"}
	ErrRequestExpired             = &Error{Code: CodeRequestExpired, Message: "request expired"}
	ErrNotFound                   = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidRequest             = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	ErrMigrationRequired          = &Error{Code: CodeMigrationRequired, Message: "storage migration required"}
	ErrRateLimited                = &Error{Code: CodeRateLimited, Message: "too many attempts"}
	ErrInternal                   = &Error{Code: CodeInternal, Message: "internal error"}
)

// AsError converts any error into a wire-safe typed error. Errors outside the
// taxonomy become Internal with their detail dropped.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return ErrInternal
}
