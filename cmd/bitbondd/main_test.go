package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitbondlabs/bitbondd/internal/crypto"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignCallHeadersRecoverRoundTrip(t *testing.T) {
	signer, err := crypto.NewSigner(testKeyHex)
	require.NoError(t, err)

	body := []byte(`{"principal":1000,"lock_period":90}`)
	at := time.Unix(1_756_000_000, 0)

	sig, ts, err := signCallHeaders(signer, http.MethodPost, "/api/bonds", body, at)
	require.NoError(t, err)
	assert.Equal(t, "1756000000", ts)

	caller, err := crypto.RecoverCaller(http.MethodPost, "/api/bonds", body, at.Unix(), sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Principal(), caller)

	// A tampered body does not recover the signer.
	caller, err = crypto.RecoverCaller(http.MethodPost, "/api/bonds", []byte(`{}`), at.Unix(), sig)
	if err == nil {
		assert.NotEqual(t, signer.Principal(), caller)
	}
}
