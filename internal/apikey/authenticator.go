// Package apikey implements the API key protocol: credential generation,
// the sealed x-api-key header codec, the request authenticator and the
// credential lifecycle manager.
//
// A client holds (key, secret, passphrase, encryptionKey). For each request
// it sends
//
//	x-timestamp: <unix milliseconds>
//	x-api-key:   <key>:<Encrypt({key, timestamp, hash})>
//
// where hash = HMAC-SHA256(SHA256(key + ":" + secret), key + ":" + timestamp).
// The server stores only SHA256(key + ":" + secret), so it can recompute the
// request hash without ever holding the secret.
package apikey

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/faucetdb/turnstile/internal/authcrypto"
	"github.com/faucetdb/turnstile/internal/autherr"
	"github.com/faucetdb/turnstile/internal/model"
	"github.com/faucetdb/turnstile/internal/store"
)

// DefaultReplayWindow is how far a request timestamp may drift from the
// server clock, in either direction.
const DefaultReplayWindow = 5 * time.Minute

// CredentialFinder looks up a credential by its public key. Implementations
// return an error wrapping store.ErrNotFound when the key is unknown.
type CredentialFinder interface {
	GetAPIKeyByKey(ctx context.Context, key string) (*model.APIKey, error)
}

// Principal is the public view of an authenticated credential.
type Principal struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func principalOf(cred *model.APIKey) *Principal {
	return &Principal{
		ID:          cred.ID,
		Key:         cred.Key,
		Name:        cred.Name,
		Description: cred.Description,
	}
}

// State is the outcome of evaluating one request against the protocol. The
// checks run in declaration order and stop at the first failing state.
type State int

const (
	StateNoHeader State = iota
	StateMalformed
	StateKeyUnknown
	StateInactive
	StateHashMismatch
	StateTimestampStale
	StateValid
)

var stateNames = [...]string{
	StateNoHeader:       "NoHeader",
	StateMalformed:      "Malformed",
	StateKeyUnknown:     "KeyUnknown",
	StateInactive:       "Inactive",
	StateHashMismatch:   "HashMismatch",
	StateTimestampStale: "TimestampStale",
	StateValid:          "Valid",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// Kind maps a failing state to its error kind. StateValid maps to
// autherr.KindUnknown.
func (s State) Kind() autherr.Kind {
	switch s {
	case StateNoHeader:
		return autherr.KindMissingCredentialHeader
	case StateMalformed:
		return autherr.KindMalformedCredentialPayload
	case StateKeyUnknown:
		return autherr.KindUnknownCredential
	case StateInactive:
		return autherr.KindInactiveCredential
	case StateHashMismatch:
		return autherr.KindCredentialHashMismatch
	case StateTimestampStale:
		return autherr.KindCredentialTimestampStale
	case StateValid:
		return autherr.KindUnknown
	}
	return autherr.KindInternalAuthFailure
}

// Authenticator validates x-api-key / x-timestamp header pairs.
type Authenticator struct {
	finder CredentialFinder
	window time.Duration
	now    func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock replaces the wall clock used for the replay window.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// NewAuthenticator returns an Authenticator that resolves credentials
// through finder. A non-positive window selects DefaultReplayWindow.
func NewAuthenticator(finder CredentialFinder, window time.Duration, opts ...Option) *Authenticator {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	a := &Authenticator{finder: finder, window: window, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Window returns the configured replay window.
func (a *Authenticator) Window() time.Duration { return a.window }

// Authenticate runs the header pair through the protocol and returns the
// credential's public fields when every check passes.
func (a *Authenticator) Authenticate(ctx context.Context, apiKeyHeader, timestampHeader string) (*Principal, error) {
	state, cred, cause := a.evaluate(ctx, apiKeyHeader, timestampHeader)
	if state != StateValid {
		return nil, autherr.Wrap(state.Kind(), "apikey.authenticate", cause)
	}
	return principalOf(cred), nil
}

// stateLookupFailed marks a finder error that is not a miss.
const stateLookupFailed State = -1

func (a *Authenticator) evaluate(ctx context.Context, apiKeyHeader, timestampHeader string) (State, *model.APIKey, error) {
	if apiKeyHeader == "" || timestampHeader == "" {
		return StateNoHeader, nil, nil
	}

	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return StateMalformed, nil, errors.New("timestamp is not an integer")
	}
	key, ciphertext, err := SplitHeader(apiKeyHeader)
	if err != nil {
		return StateMalformed, nil, err
	}

	cred, err := a.finder.GetAPIKeyByKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return StateKeyUnknown, nil, nil
		}
		return stateLookupFailed, nil, err
	}

	payload, err := Decode(cred, key, ciphertext)
	if err != nil {
		return StateMalformed, nil, err
	}
	if payload.Timestamp != ts {
		return StateMalformed, nil, errors.New("payload timestamp does not match header")
	}

	if !cred.IsActive {
		return StateInactive, nil, nil
	}

	if !authcrypto.HashEquals(RequestHash(cred.Hash, key, ts), payload.Hash) {
		return StateHashMismatch, nil, nil
	}

	drift := a.now().Sub(time.UnixMilli(ts))
	if drift < 0 {
		drift = -drift
	}
	if drift > a.window {
		return StateTimestampStale, nil, nil
	}

	return StateValid, cred, nil
}

// AuthenticateBasic validates a base64 "key:secret" token against the
// stored credential hash.
func (a *Authenticator) AuthenticateBasic(ctx context.Context, basicToken string) (*Principal, error) {
	const op = "apikey.basic"
	if basicToken == "" {
		return nil, autherr.New(autherr.KindMissingCredentialHeader, op)
	}
	key, secret, err := authcrypto.ParseBasicToken(basicToken)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindMalformedCredentialPayload, op, err)
	}

	cred, err := a.finder.GetAPIKeyByKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, autherr.New(autherr.KindUnknownCredential, op)
		}
		return nil, autherr.Wrap(autherr.KindInternalAuthFailure, op, err)
	}
	if !cred.IsActive {
		return nil, autherr.New(autherr.KindInactiveCredential, op)
	}
	if !authcrypto.HashEquals(CredentialHash(key, secret), cred.Hash) {
		return nil, autherr.New(autherr.KindCredentialHashMismatch, op)
	}
	return principalOf(cred), nil
}

// CredentialHash is the stored form of a key/secret pair.
func CredentialHash(key, secret string) string {
	return authcrypto.HashString(key + ":" + secret)
}

// RequestHash binds a request timestamp to a credential. anchor is the
// credential hash as returned by CredentialHash.
func RequestHash(anchor, key string, timestampMillis int64) string {
	return authcrypto.HMAC(anchor, key+":"+strconv.FormatInt(timestampMillis, 10))
}

// Headers is a signed header pair ready to be sent with a request.
type Headers struct {
	APIKey    string
	Timestamp string
}

// SignRequest builds the x-api-key and x-timestamp values a client holding
// secret would send at time now.
func SignRequest(secret model.APIKeySecret, now time.Time) (Headers, error) {
	ts := now.UnixMilli()
	p := Payload{
		Key:       secret.Key,
		Timestamp: ts,
		Hash:      RequestHash(CredentialHash(secret.Key, secret.Secret), secret.Key, ts),
	}
	h, err := Encode(p, secret.EncryptionKey, secret.Passphrase)
	if err != nil {
		return Headers{}, err
	}
	return Headers{APIKey: h, Timestamp: strconv.FormatInt(ts, 10)}, nil
}
