// ABOUTME: LNURL-auth encoding: callback URLs, bech32 "lnurl" strings and k1 extraction
// ABOUTME: Wraps decred bech32 without the 90-character limit that LNURLs exceed

package lnurl

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/decred/dcrd/bech32"
)

// HRP is the bech32 human-readable part of every LNURL.
const HRP = "lnurl"

// ChallengeSize is the length in bytes of a k1 challenge.
const ChallengeSize = 32

const lightningScheme = "lightning:"

var (
	// ErrEmptyURL is returned when encoding an empty callback.
	ErrEmptyURL = errors.New("lnurl: empty url")

	// ErrInvalidChallenge is returned when k1 is not 32 bytes.
	ErrInvalidChallenge = errors.New("lnurl: k1 must be 32 bytes")

	// ErrWrongHRP is returned when decoding a bech32 string whose HRP is not "lnurl".
	ErrWrongHRP = errors.New("lnurl: human-readable part is not lnurl")

	// ErrMissingChallenge is returned when a URL carries no k1 parameter.
	ErrMissingChallenge = errors.New("lnurl: url has no k1 parameter")
)

// CallbackURL returns the wallet callback for a service reachable at base.
func CallbackURL(base string) string {
	return strings.TrimRight(base, "/") + "/auth"
}

// LoginURL appends the login tag and hex k1 to callback.
func LoginURL(k1 []byte, callback string) (string, error) {
	if callback == "" {
		return "", ErrEmptyURL
	}
	if len(k1) != ChallengeSize {
		return "", ErrInvalidChallenge
	}

	sep := "?"
	if strings.Contains(callback, "?") {
		sep = "&"
	}
	return callback + sep + "tag=login&k1=" + hex.EncodeToString(k1), nil
}

// Encode builds the login URL for k1 and bech32-encodes it with HRP "lnurl".
// The result is lowercase; callers may uppercase it for QR codes.
func Encode(k1 []byte, callback string) (string, error) {
	uri, err := LoginURL(k1, callback)
	if err != nil {
		return "", err
	}
	return EncodeURL(uri)
}

// EncodeURL bech32-encodes an arbitrary URL with HRP "lnurl".
func EncodeURL(uri string) (string, error) {
	if uri == "" {
		return "", ErrEmptyURL
	}

	data, err := bech32.ConvertBits([]byte(uri), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("lnurl: converting bits: %w", err)
	}

	s, err := bech32.Encode(HRP, data)
	if err != nil {
		return "", fmt.Errorf("lnurl: encoding: %w", err)
	}
	return s, nil
}

// Decode reverses Encode. Input is case-insensitive and may carry a
// "lightning:" prefix.
func Decode(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, lightningScheme)

	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return "", fmt.Errorf("lnurl: decoding: %w", err)
	}
	if hrp != HRP {
		return "", ErrWrongHRP
	}

	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("lnurl: converting bits: %w", err)
	}
	return string(raw), nil
}

// ChallengeFromURL extracts and validates the k1 query parameter of a login URL.
func ChallengeFromURL(uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("lnurl: parsing url: %w", err)
	}

	k1Hex := u.Query().Get("k1")
	if k1Hex == "" {
		return nil, ErrMissingChallenge
	}

	k1, err := hex.DecodeString(k1Hex)
	if err != nil || len(k1) != ChallengeSize {
		return nil, ErrInvalidChallenge
	}
	return k1, nil
}
