package signature

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

// fixedClock returns a clock option pinned to a known instant.
func fixedClock(unix int64) Option {
	return WithNow(func() time.Time { return time.Unix(unix, 0) })
}

func signedHeader(t *testing.T, secret string, timestamp int64, body string) string {
	t.Helper()
	v, err := New(secret)
	require.NoError(t, err)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, v.CalculateSignature(timestamp, body))
}

func TestNewRejectsEmptySecret(t *testing.T) {
	v, err := New("")
	assert.Nil(t, v)
	require.Error(t, err)
	assert.Equal(t, CodeMissingSecret, CodeOf(err))
}

func TestVerifyValidSignature(t *testing.T) {
	now := int64(1700000000)
	body := `{"id":"evt_1","data":{"amount":42}}`

	v, err := New(testSecret, fixedClock(now))
	require.NoError(t, err)

	// Anywhere in [now-tolerance, now] passes.
	for _, ts := range []int64{now, now - 1, now - 150, now - 300} {
		header := signedHeader(t, testSecret, ts, body)
		assert.NoError(t, v.Verify(header, body), "timestamp %d should verify", ts)
		assert.True(t, v.VerifySafe(header, body))
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	now := int64(1700000000)
	body := `{"id":"evt_1"}`

	v, err := New(testSecret, fixedClock(now))
	require.NoError(t, err)

	sig := v.CalculateSignature(now, body)
	require.Len(t, sig, 64)

	// Flipping any single hex character must invalidate the signature.
	for i := 0; i < len(sig); i += 7 {
		flipped := []byte(sig)
		if flipped[i] == '0' {
			flipped[i] = '1'
		} else {
			flipped[i] = '0'
		}
		header := fmt.Sprintf("t=%d,v1=%s", now, string(flipped))
		err := v.Verify(header, body)
		require.Error(t, err, "flipped hex char at %d must fail", i)
		assert.Equal(t, CodeInvalidSignature, CodeOf(err))
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	now := int64(1700000000)
	v, err := New(testSecret, fixedClock(now))
	require.NoError(t, err)

	header := signedHeader(t, testSecret, now, `{"amount":42}`)
	err = v.Verify(header, `{"amount":9000}`)
	assert.Equal(t, CodeInvalidSignature, CodeOf(err))
}

func TestVerifyRejectsNonHexSignature(t *testing.T) {
	now := int64(1700000000)
	v, err := New(testSecret, fixedClock(now))
	require.NoError(t, err)

	// Not valid hex: treated as a mismatch, not a format error.
	header := fmt.Sprintf("t=%d,v1=zzzz", now)
	err = v.Verify(header, "body")
	assert.Equal(t, CodeInvalidSignature, CodeOf(err))
}

func TestVerifyTimestampWindow(t *testing.T) {
	now := int64(1700000000)
	body := "payload"

	tests := []struct {
		name      string
		timestamp int64
		tolerance time.Duration
		wantCode  Code
	}{
		{name: "exactly at tolerance edge", timestamp: now - 300, tolerance: DefaultTolerance},
		{name: "one second past tolerance", timestamp: now - 301, tolerance: DefaultTolerance, wantCode: CodeTimestampTooOld},
		{name: "one second in the future", timestamp: now + 1, tolerance: DefaultTolerance, wantCode: CodeTimestampTooOld},
		{name: "zero tolerance exact match", timestamp: now, tolerance: 0},
		{name: "zero tolerance one second old", timestamp: now - 1, tolerance: 0, wantCode: CodeTimestampTooOld},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := New(testSecret, fixedClock(now), WithTolerance(tt.tolerance))
			require.NoError(t, err)

			header := signedHeader(t, testSecret, tt.timestamp, body)
			err = v.Verify(header, body)
			if tt.wantCode == "" {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.wantCode, CodeOf(err))
			}
		})
	}
}

func TestVerifyPerCallToleranceOverride(t *testing.T) {
	now := int64(1700000000)
	v, err := New(testSecret, fixedClock(now))
	require.NoError(t, err)

	header := signedHeader(t, testSecret, now-30, "body")

	// Default tolerance accepts a 30s old delivery; a per-call override of 10s
	// rejects it without mutating the verifier.
	assert.Equal(t, CodeTimestampTooOld, CodeOf(v.Verify(header, "body", WithTolerance(10*time.Second))))
	assert.NoError(t, v.Verify(header, "body"))
}

func TestIsTimestampValid(t *testing.T) {
	now := time.Now().Unix()

	assert.True(t, IsTimestampValid(now, DefaultTolerance))
	assert.True(t, IsTimestampValid(now-299, DefaultTolerance))
	assert.False(t, IsTimestampValid(now-301, DefaultTolerance))
	assert.False(t, IsTimestampValid(now+60, DefaultTolerance))
}

func TestCalculateSignature(t *testing.T) {
	v, err := New(testSecret)
	require.NoError(t, err)

	sig := v.CalculateSignature(100, "hello")
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, v.CalculateSignature(100, "hello"), "signature must be deterministic")
	assert.NotEqual(t, sig, v.CalculateSignature(101, "hello"), "timestamp is part of the signed payload")
	assert.NotEqual(t, sig, v.CalculateSignature(100, "hello "), "body is signed byte-for-byte")

	other, err := New("another-secret")
	require.NoError(t, err)
	assert.NotEqual(t, sig, other.CalculateSignature(100, "hello"))
}

func TestPackageLevelConvenienceFunctions(t *testing.T) {
	now := time.Now().Unix()
	v, err := New(testSecret)
	require.NoError(t, err)
	header := fmt.Sprintf("t=%d,v1=%s", now, v.CalculateSignature(now, "body"))

	assert.NoError(t, Verify(testSecret, header, "body"))
	assert.True(t, VerifySafe(testSecret, header, "body"))

	assert.Equal(t, CodeMissingSecret, CodeOf(Verify("", header, "body")))
	assert.False(t, VerifySafe(testSecret, header, "tampered"))
	assert.False(t, VerifySafe(testSecret, "", "body"))
}

func TestVerifySafeCollapsesAllFailures(t *testing.T) {
	now := int64(1700000000)
	v, err := New(testSecret, fixedClock(now))
	require.NoError(t, err)

	// Expired and forged deliveries are indistinguishable through the safe form.
	expired := signedHeader(t, testSecret, now-3600, "body")
	forged := fmt.Sprintf("t=%d,v1=%s", now, v.CalculateSignature(now, "other"))

	assert.False(t, v.VerifySafe(expired, "body"))
	assert.False(t, v.VerifySafe(forged, "body"))
	assert.False(t, v.VerifySafe("garbage", "body"))
}
