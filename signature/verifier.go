// Package signature verifies push-delivery signatures.
//
// Every push delivery carries a signature header of the form
// "t=<unix-seconds>,v1=<hex-hmac>". The signed payload is the literal string
// "<timestamp>.<rawBody>", where rawBody is the exact body as received.
// Re-serializing the body (for example decoding and re-encoding JSON) before
// verifying will break the signature and is explicitly unsupported.
//
// The timestamp bounds the replay window: deliveries older than the tolerance
// are rejected, and deliveries dated in the future are always rejected, even
// within tolerance. Signature comparison uses crypto/subtle to prevent timing
// side-channels.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// DefaultTolerance is the maximum accepted age of a signed delivery unless
// overridden with WithTolerance.
const DefaultTolerance = 300 * time.Second

// Verifier verifies push-delivery signatures for a single endpoint secret.
// A Verifier is immutable and safe for concurrent use.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// Option adjusts verification behavior. Options passed to New set defaults
// for the verifier; options passed to Verify apply to that call only.
type Option func(*Verifier)

// WithTolerance sets the maximum accepted delivery age. Zero means only an
// exact timestamp match passes.
func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) {
		v.tolerance = d
	}
}

// WithNow overrides the clock. Used in tests.
func WithNow(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// New creates a Verifier for the given endpoint secret.
// An empty secret is a configuration mistake and fails immediately rather
// than at the first verification attempt.
func New(secret string, opts ...Option) (*Verifier, error) {
	if secret == "" {
		return nil, newError(CodeMissingSecret, "secret is empty")
	}

	v := &Verifier{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks the signature header against the raw request body.
//
// It returns nil if the delivery is authentic and fresh, and a
// *VerificationError otherwise. The error's Code is one of the closed set
// declared in this package; failures that do not map to a specific code are
// reported as CodeVerificationError so callers never see a foreign error.
func (v *Verifier) Verify(header, body string, opts ...Option) error {
	call := *v
	for _, opt := range opts {
		opt(&call)
	}

	if err := call.verify(header, body); err != nil {
		var verr *VerificationError
		if errors.As(err, &verr) {
			return err
		}
		return wrapError(CodeVerificationError, "verification failed", err)
	}
	return nil
}

// VerifySafe is Verify collapsed to a boolean. Every failure, including a
// well-formed but expired delivery, reports false; callers that need to
// distinguish failure modes use Verify and CodeOf.
func (v *Verifier) VerifySafe(header, body string, opts ...Option) bool {
	return v.Verify(header, body, opts...) == nil
}

func (v *Verifier) verify(header, body string) error {
	parsed, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}

	if !isTimestampValidAt(parsed.Timestamp, v.tolerance, v.now()) {
		return newError(CodeTimestampTooOld, "timestamp outside tolerance window")
	}

	expected := v.CalculateSignature(parsed.Timestamp, body)
	if !signaturesEqual(expected, parsed.Signature) {
		return newError(CodeInvalidSignature, "signature mismatch")
	}
	return nil
}

// CalculateSignature computes the lower-case hex HMAC-SHA256 of the canonical
// payload "<timestamp>.<body>". Exposed so the signing scheme is testable
// independently of header parsing and freshness checks.
func (v *Verifier) CalculateSignature(timestamp int64, body string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// IsTimestampValid reports whether timestamp is acceptable right now.
// A timestamp is valid iff it is not in the future and at most tolerance old.
// Future timestamps are rejected outright: tolerating sender-favoring clock
// skew would widen the replay window.
func IsTimestampValid(timestamp int64, tolerance time.Duration) bool {
	return isTimestampValidAt(timestamp, tolerance, time.Now())
}

func isTimestampValidAt(timestamp int64, tolerance time.Duration, now time.Time) bool {
	age := now.Unix() - timestamp
	return age >= 0 && age <= int64(tolerance/time.Second)
}

// signaturesEqual compares two hex signatures in constant time.
// A signature that does not decode as hex is treated as a mismatch rather
// than a format error, so malformed and forged signatures are
// indistinguishable to a probing sender.
func signaturesEqual(expected, presented string) bool {
	expectedRaw, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	presentedRaw, err := hex.DecodeString(presented)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expectedRaw, presentedRaw) == 1
}

// Verify verifies header against body using a one-off verifier built from
// secret. Convenience form for callers that do not hold a Verifier.
func Verify(secret, header, body string, opts ...Option) error {
	v, err := New(secret)
	if err != nil {
		return err
	}
	return v.Verify(header, body, opts...)
}

// VerifySafe is the boolean form of the package-level Verify.
func VerifySafe(secret, header, body string, opts ...Option) bool {
	return Verify(secret, header, body, opts...) == nil
}
