// Package signer is a minimal LNURL-auth wallet.
//
// It exists so the login flow can be driven end to end without a Lightning
// wallet: cachet-signer uses it from the command line and the server tests
// use it against httptest servers.
//
//	s, _ := signer.Generate()
//	err := s.Login(ctx, "lnurl1dp68gurn8ghj7...")
package signer
