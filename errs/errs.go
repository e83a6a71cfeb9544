// Package errs defines the structured error taxonomy shared by every
// component of the secure channel: the vault, wire codec, handshake
// engine, record layer, connection manager and message log all wrap
// failures in *Error so a caller (or the CLI harness) can branch on a
// stable Code rather than on error strings.
package errs

import "fmt"

// Path identifies the component that produced the error.
type Path string

const (
	PathVault     Path = "vault"
	PathWire      Path = "wire"
	PathHandshake Path = "handshake"
	PathRecord    Path = "record"
	PathConn      Path = "conn"
	PathStore     Path = "store"
	PathUser      Path = "user"
)

// Code is a stable, programmatic error identifier. Names follow the
// taxonomy of the specification's error handling design: VaultError,
// NetworkError, ProtocolError, StorageError, ResourceError, UserError.
type Code string

const (
	// Vault errors.
	CodeVaultNotFound      Code = "vault_not_found"
	CodeVaultExists        Code = "vault_exists"
	CodeVaultBadPassphrase Code = "vault_bad_passphrase"
	CodeVaultCorrupt       Code = "vault_corrupt"

	// Network errors.
	CodeBindFailed    Code = "bind_failed"
	CodeConnRefused   Code = "conn_refused"
	CodeTimeout       Code = "timeout"
	CodeUnreachable   Code = "unreachable"
	CodeIOError       Code = "io_error"

	// Protocol errors.
	CodeBadFrame             Code = "bad_frame"
	CodeBadSignature         Code = "bad_signature"
	CodeBadChallengeResponse Code = "bad_challenge_response"
	CodeIdentityMismatch     Code = "identity_mismatch"
	CodeUnknownVersion       Code = "unknown_version"
	CodeUnexpectedState      Code = "unexpected_state"
	CodeReplay               Code = "replay"
	CodeAuthFail             Code = "auth_fail"

	// Storage errors.
	CodeStorageIOError   Code = "storage_io_error"
	CodeCorruptRow       Code = "corrupt_row"
	CodeStorageBusy      Code = "storage_busy"

	// Resource errors.
	CodeBusy      Code = "busy"
	CodeQueueFull Code = "queue_full"

	// User errors.
	CodeInvalidAddress  Code = "invalid_address"
	CodeInvalidPort     Code = "invalid_port"
	CodeFileTooLarge    Code = "file_too_large"
	CodeInvalidFilename Code = "invalid_filename"
)

// Error is a structured, programmatically identifiable error.
type Error struct {
	Path Path
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Path, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Path, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target shares this error's Code, letting callers
// use errors.Is(err, errs.New(errs.PathVault, errs.CodeVaultCorrupt))
// or compare against the Code directly via errs.CodeOf.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap builds a structured error with the given path, code and cause.
func Wrap(path Path, code Code, err error) error {
	return &Error{Path: path, Code: code, Err: err}
}

// New builds a structured error without an underlying cause.
func New(path Path, code Code) error {
	return &Error{Path: path, Code: code}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an *Error.
func CodeOf(err error) (Code, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}

// ExitCode maps an error produced anywhere in the core to the process
// exit codes of the CLI harness contract: 0 ok, 2 bad arguments,
// 10 vault errors, 20 network errors, 30 protocol errors, 40 storage errors.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	code, ok := CodeOf(err)
	if !ok {
		return 1
	}
	switch code {
	case CodeInvalidAddress, CodeInvalidPort, CodeFileTooLarge, CodeInvalidFilename:
		return 2
	case CodeVaultNotFound, CodeVaultExists, CodeVaultBadPassphrase, CodeVaultCorrupt:
		return 10
	case CodeBindFailed, CodeConnRefused, CodeTimeout, CodeUnreachable, CodeIOError:
		return 20
	case CodeBadFrame, CodeBadSignature, CodeBadChallengeResponse, CodeIdentityMismatch,
		CodeUnknownVersion, CodeUnexpectedState, CodeReplay, CodeAuthFail:
		return 30
	case CodeStorageIOError, CodeCorruptRow, CodeStorageBusy:
		return 40
	case CodeBusy, CodeQueueFull:
		return 20
	default:
		return 1
	}
}
