// Package login implements the LNURL-auth protocol on top of the store and
// auth packages.
//
// A login has three steps:
//
//  1. StartLogin creates a challenge (k1) and its bech32 LNURL.
//  2. A wallet signs k1 and calls back; Verify checks the signature and
//     binds the wallet key to the challenge, at most once.
//  3. The browser polls with Poll until the challenge is bound, then
//     receives a session token.
//
// Errors form a small taxonomy the HTTP layer maps to status codes:
// ErrInvalidInput, ErrChallengeNotFound, ErrAlreadyBound,
// ErrInvalidSignature and ErrWaitingForLogin. Anything else is a backend
// failure.
package login
