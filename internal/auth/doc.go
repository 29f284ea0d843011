// Package auth verifies LNURL-auth signatures and issues session tokens.
//
// # Signatures
//
// Secp256k1Verifier checks a wallet's DER-encoded ECDSA signature over the
// raw 32-byte k1 challenge against its 33-byte compressed public key. Every
// rejection is a *SignatureError carrying a reason (malformed_challenge,
// malformed_signature, malformed_pubkey, mismatch) and matches
// ErrInvalidSignature with errors.Is.
//
// # Sessions
//
// SessionIssuer mints HS256 JWTs whose "sub" claim is the hex public key:
//
//	issuer, err := auth.NewSessionIssuer(secret, 24*time.Hour)
//	session, err := issuer.Issue(pubkey)
//	pubkey, err := issuer.Authenticate(session.AccessToken)
//
// The secret must be at least MinSecretLength bytes. Authenticate accepts
// only HS256, requires "exp", and reports expiry as ErrExpiredToken so
// callers can distinguish it from ErrInvalidToken.
//
// # HTTP Middleware
//
// BearerMiddleware guards API routes. Handlers read the caller with
// FromContext:
//
//	mux.Handle("GET /api/me", auth.BearerMiddleware(issuer)(meHandler))
//
//	func meHandler(w http.ResponseWriter, r *http.Request) {
//	    id := auth.FromContext(r.Context())
//	    ...
//	}
package auth
