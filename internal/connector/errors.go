package connector

import (
	"fmt"

	"moff.io/wallet-connector/pkg/errors"
)

// Result codes shared by every adapter.
const (
	CodeSuccess              = 1
	CodeWalletNotFound       = 2
	CodeUnauthorized         = 3
	CodeChainMismatch        = 4
	CodeUserClosedDialog     = 5
	CodeMissingConfiguration = 6
	CodeProviderUnavailable  = 7
	CodeSessionDisconnected  = 8
)

var codeNames = map[int]string{
	CodeSuccess:              "success",
	CodeWalletNotFound:       "wallet_not_found",
	CodeUnauthorized:         "unauthorized",
	CodeChainMismatch:        "chain_mismatch",
	CodeUserClosedDialog:     "user_closed_dialog",
	CodeMissingConfiguration: "missing_configuration",
	CodeProviderUnavailable:  "provider_unavailable",
	CodeSessionDisconnected:  "session_disconnected",
}

// CodeName returns a stable label for code, used in logs and metrics.
func CodeName(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return "unknown"
}

// Error is the structured failure every adapter returns and publishes.
type Error struct {
	Code     int    `json:"code"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Message  string `json:"message"`
	Address  string `json:"address,omitempty"`
	Type     string `json:"type,omitempty"`
}

func NewError(code int, subtitle, message string) *Error {
	return &Error{
		Code:     code,
		Title:    "Error",
		Subtitle: subtitle,
		Message:  message,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Subtitle, e.Message, e.Code)
}

// WithAddress returns a copy of e carrying address.
func (e *Error) WithAddress(address string) *Error {
	cp := *e
	cp.Address = address
	return &cp
}

// WithType returns a copy of e tagged with the wallet type.
func (e *Error) WithType(typ string) *Error {
	cp := *e
	cp.Type = typ
	return &cp
}

// AsError unwraps err into a *Error.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// HasCode reports whether err is a *Error with the given code.
func HasCode(err error, code int) bool {
	ce, ok := AsError(err)
	return ok && ce.Code == code
}

// Prebuilt errors, copy before mutating through WithAddress / WithType.
var (
	ErrWalletNotFound = NewError(CodeWalletNotFound, "Error connect", "Wallet not found, please install the extension.")
	ErrUnauthorized   = NewError(CodeUnauthorized, "Authorized error", "You are not authorized.")
	ErrUserRejected   = NewError(CodeUnauthorized, "User rejected the request", "User rejected the connect")
	ErrChainMismatch  = NewError(CodeChainMismatch, "chainChanged error", "Chain is not supported, please switch to the configured network.")
	ErrNoExtension    = NewError(CodeProviderUnavailable, "Provider error", "No extension")
	ErrNotConnected   = NewError(CodeProviderUnavailable, "Provider error", "Wallet is not connected")
	ErrDialogClosed   = NewError(CodeUserClosedDialog, "Error connect", "User closed qr modal window.")
	ErrMissingConfig  = NewError(CodeMissingConfiguration, "Error connect", "Project Id is required")
	ErrDisconnected   = NewError(CodeSessionDisconnected, "Disconnect", "Wallet disconnected")
)
