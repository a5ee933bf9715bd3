// Package autherr defines the error kinds surfaced by the authentication and
// authorization pipeline. Every kind carries a stable numeric code so that
// clients can branch on it, and an HTTP status used by the boundary layer.
package autherr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of authentication or authorization failure.
type Kind int

const (
	KindUnknown Kind = iota

	// API key gate
	KindMissingCredentialHeader
	KindMalformedCredentialPayload
	KindUnknownCredential
	KindInactiveCredential
	KindCredentialHashMismatch
	KindCredentialTimestampStale
	KindCredentialNotFound

	// Bearer token gate
	KindMissingOrMalformedToken
	KindTokenExpired
	KindInvalidTokenSignature
	KindPasswordExpired
	KindPasswordMismatch
	KindNewPasswordMustDiffer

	// Payload sanity
	KindPrincipalNotFound
	KindPrincipalInactive
	KindPrincipalExists
	KindRoleInactive
	KindRoleNotFound

	// Permission gate
	KindInsufficientPermission
	KindAdminModeMismatch

	KindInternalAuthFailure
)

type kindInfo struct {
	name    string
	code    int
	status  int
	message string
}

var kinds = map[Kind]kindInfo{
	KindMissingCredentialHeader:    {"MissingCredentialHeader", 5021, http.StatusUnauthorized, "API key and timestamp headers are required"},
	KindMalformedCredentialPayload: {"MalformedCredentialPayload", 5022, http.StatusUnauthorized, "API key payload is malformed"},
	KindUnknownCredential:          {"UnknownCredential", 5023, http.StatusUnauthorized, "API key is not recognized"},
	KindInactiveCredential:         {"InactiveCredential", 5024, http.StatusForbidden, "API key is inactive"},
	KindCredentialHashMismatch:     {"CredentialHashMismatch", 5025, http.StatusUnauthorized, "API key signature is invalid"},
	KindCredentialTimestampStale:   {"CredentialTimestampStale", 5026, http.StatusUnauthorized, "API key timestamp is outside the accepted window"},
	KindCredentialNotFound:         {"CredentialNotFound", 5030, http.StatusNotFound, "API key not found"},

	KindMissingOrMalformedToken: {"MissingOrMalformedToken", 5101, http.StatusUnauthorized, "Bearer token is missing or malformed"},
	KindTokenExpired:            {"TokenExpired", 5102, http.StatusUnauthorized, "Token has expired"},
	KindInvalidTokenSignature:   {"InvalidTokenSignature", 5103, http.StatusUnauthorized, "Token is invalid"},
	KindPasswordExpired:         {"PasswordExpired", 5104, http.StatusForbidden, "Password has expired"},
	KindPasswordMismatch:        {"PasswordMismatch", 5105, http.StatusBadRequest, "Password does not match"},
	KindNewPasswordMustDiffer:   {"NewPasswordMustDiffer", 5106, http.StatusBadRequest, "New password must differ from the current one"},

	KindPrincipalNotFound: {"PrincipalNotFound", 5140, http.StatusNotFound, "User not found"},
	KindPrincipalInactive: {"PrincipalInactive", 5141, http.StatusForbidden, "User is inactive"},
	KindPrincipalExists:   {"PrincipalExists", 5142, http.StatusBadRequest, "User already exists"},
	KindRoleInactive:      {"RoleInactive", 5150, http.StatusForbidden, "Role is inactive"},
	KindRoleNotFound:      {"RoleNotFound", 5151, http.StatusNotFound, "Role not found"},

	KindInsufficientPermission: {"InsufficientPermission", 5201, http.StatusForbidden, "Insufficient permission"},
	KindAdminModeMismatch:      {"AdminModeMismatch", 5202, http.StatusForbidden, "Role is not allowed on this route"},

	KindInternalAuthFailure: {"InternalAuthFailure", 5990, http.StatusInternalServerError, "Internal authentication failure"},
}

func (k Kind) info() kindInfo {
	if i, ok := kinds[k]; ok {
		return i
	}
	return kinds[KindInternalAuthFailure]
}

// String returns the kind name, e.g. "CredentialTimestampStale".
func (k Kind) String() string { return k.info().name }

// Code returns the stable numeric error code for the kind.
func (k Kind) Code() int { return k.info().code }

// Status returns the HTTP status the boundary layer should answer with.
func (k Kind) Status() int { return k.info().status }

// Message returns the default human-readable message.
func (k Kind) Message() string { return k.info().message }

// Error is a pipeline failure of a specific Kind. Op names the stage or
// operation that produced it; Err is the optional underlying cause and is
// never rendered to clients.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New returns an *Error of the given kind.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap returns an *Error of the given kind carrying cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, autherr.ErrTokenExpired) works regardless of Op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind of err. Errors outside the taxonomy report
// KindInternalAuthFailure; a nil error reports KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternalAuthFailure
}

// Sentinels for errors.Is comparisons.
var (
	ErrMissingCredentialHeader    = New(KindMissingCredentialHeader, "")
	ErrMalformedCredentialPayload = New(KindMalformedCredentialPayload, "")
	ErrUnknownCredential          = New(KindUnknownCredential, "")
	ErrInactiveCredential         = New(KindInactiveCredential, "")
	ErrCredentialHashMismatch     = New(KindCredentialHashMismatch, "")
	ErrCredentialTimestampStale   = New(KindCredentialTimestampStale, "")
	ErrCredentialNotFound         = New(KindCredentialNotFound, "")
	ErrMissingOrMalformedToken    = New(KindMissingOrMalformedToken, "")
	ErrTokenExpired               = New(KindTokenExpired, "")
	ErrInvalidTokenSignature      = New(KindInvalidTokenSignature, "")
	ErrPasswordExpired            = New(KindPasswordExpired, "")
	ErrPasswordMismatch           = New(KindPasswordMismatch, "")
	ErrNewPasswordMustDiffer      = New(KindNewPasswordMustDiffer, "")
	ErrPrincipalNotFound          = New(KindPrincipalNotFound, "")
	ErrPrincipalInactive          = New(KindPrincipalInactive, "")
	ErrPrincipalExists            = New(KindPrincipalExists, "")
	ErrRoleInactive               = New(KindRoleInactive, "")
	ErrRoleNotFound               = New(KindRoleNotFound, "")
	ErrInsufficientPermission     = New(KindInsufficientPermission, "")
	ErrAdminModeMismatch          = New(KindAdminModeMismatch, "")
	ErrInternalAuthFailure        = New(KindInternalAuthFailure, "")
)
