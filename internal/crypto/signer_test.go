package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignCallRecoverRoundTrip(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	require.NoError(t, err)

	body := []byte(`{"principal":1000,"lock_period":90}`)
	sig, err := signer.SignCall("POST", "/api/bonds", body, 1700000000)
	require.NoError(t, err)

	caller, err := RecoverCaller("POST", "/api/bonds", body, 1700000000, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Principal(), caller)
}

func TestRecoverCallerRejectsTampering(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	require.NoError(t, err)

	body := []byte(`{"price":1000}`)
	sig, err := signer.SignCall("POST", "/api/listings", body, 1700000000)
	require.NoError(t, err)

	// A different body recovers a different (wrong) principal.
	caller, err := RecoverCaller("POST", "/api/listings", []byte(`{"price":1}`), 1700000000, sig)
	require.NoError(t, err)
	assert.NotEqual(t, signer.Principal(), caller)

	// So does a different timestamp.
	caller, err = RecoverCaller("POST", "/api/listings", body, 1700000001, sig)
	require.NoError(t, err)
	assert.NotEqual(t, signer.Principal(), caller)
}

func TestRecoverCallerRejectsMalformedSignature(t *testing.T) {
	_, err := RecoverCaller("POST", "/api/bonds", nil, 0, "0xzz")
	assert.Error(t, err)

	_, err = RecoverCaller("POST", "/api/bonds", nil, 0, "0xdead")
	assert.Error(t, err)
}

func TestCallDigestDeterministic(t *testing.T) {
	d1 := CallDigest("POST", "/api/bonds", []byte("x"), 42)
	d2 := CallDigest("POST", "/api/bonds", []byte("x"), 42)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 32)

	d3 := CallDigest("POST", "/api/bonds", []byte("y"), 42)
	assert.NotEqual(t, d1, d3)
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}
