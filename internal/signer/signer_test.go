// ABOUTME: Tests for the reference LNURL-auth signer
// ABOUTME: Covers key loading, signing and the callback round trip against a stub service

package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cachet/internal/auth"
	"github.com/2389/cachet/internal/lnurl"
)

var testK1 = bytes.Repeat([]byte{0x42}, lnurl.ChallengeSize)

func TestFromHex_RoundTrip(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	loaded, err := FromHex(s.PrivateKeyHex())
	require.NoError(t, err)
	assert.Equal(t, s.PubKeyHex(), loaded.PubKeyHex())
	assert.Len(t, loaded.PubKey(), 33)
}

func TestFromHex_Errors(t *testing.T) {
	_, err := FromHex("zz")
	assert.Error(t, err)

	_, err = FromHex("abcd")
	assert.Error(t, err)
}

func TestSign_Verifies(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	sig, err := s.Sign(testK1)
	require.NoError(t, err)

	assert.NoError(t, auth.NewSecp256k1Verifier().Verify(testK1, sig, s.PubKey()))

	_, err = s.Sign(testK1[:16])
	assert.ErrorIs(t, err, lnurl.ErrInvalidChallenge)
}

func TestSignedURL(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	encoded, err := lnurl.Encode(testK1, "https://example.com/auth")
	require.NoError(t, err)

	signed, err := s.SignedURL(encoded)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, signed, nil)
	q := req.URL.Query()
	assert.Equal(t, "login", q.Get("tag"))
	assert.Equal(t, hex.EncodeToString(testK1), q.Get("k1"))
	assert.Equal(t, s.PubKeyHex(), q.Get("key"))

	sig, err := hex.DecodeString(q.Get("sig"))
	require.NoError(t, err)
	assert.NoError(t, auth.NewSecp256k1Verifier().Verify(testK1, sig, s.PubKey()))
}

func TestSignedURL_NotLogin(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	encoded, err := lnurl.EncodeURL("https://example.com/withdraw?tag=withdrawRequest&k1=" + hex.EncodeToString(testK1))
	require.NoError(t, err)

	_, err = s.SignedURL(encoded)
	assert.ErrorIs(t, err, ErrNotLoginURL)
}

func TestLogin(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		k1, _ := hex.DecodeString(q.Get("k1"))
		sig, _ := hex.DecodeString(q.Get("sig"))
		key, _ := hex.DecodeString(q.Get("key"))

		w.Header().Set("Content-Type", "application/json")
		if err := auth.NewSecp256k1Verifier().Verify(k1, sig, key); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"status":"ERROR","reason":"Invalid signature."}`))
			return
		}
		w.Write([]byte(`{"status":"OK"}`))
	}))
	defer srv.Close()

	encoded, err := lnurl.Encode(testK1, srv.URL+"/auth")
	require.NoError(t, err)

	assert.NoError(t, s.WithHTTPClient(srv.Client()).Login(context.Background(), encoded))
}

func TestLogin_Rejected(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ERROR","reason":"Challenge is not found."}`))
	}))
	defer srv.Close()

	encoded, err := lnurl.Encode(testK1, srv.URL+"/auth")
	require.NoError(t, err)

	err = s.Login(context.Background(), encoded)
	var cbErr *CallbackError
	require.True(t, errors.As(err, &cbErr), "error = %v", err)
	assert.Equal(t, http.StatusOK, cbErr.StatusCode)
	assert.Equal(t, "Challenge is not found.", cbErr.Reason)
}
