// Package lnurl encodes and decodes LNURL-auth login links.
//
// A login link is the callback URL with "tag=login&k1=<hex>" appended,
// bech32-encoded under the human-readable part "lnurl":
//
//	https://example.com/auth?tag=login&k1=9f3c...
//	lnurl1dp68gurn8ghj7...
//
// LNURLs routinely exceed the 90-character bech32 limit, so decoding uses
// bech32.DecodeNoLimit.
package lnurl
