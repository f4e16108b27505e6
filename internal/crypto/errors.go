// Package crypto implements the Miniserver's hybrid RSA/AES session sealing,
// AES-256-CBC command encryption, and salted keyed-hash authentication (§4.2).
package crypto

import "errors"

// ErrUnsupportedHashAlg is returned when the Miniserver advertises a hash
// algorithm name this package does not recognise.
var ErrUnsupportedHashAlg = errors.New("crypto: unsupported hash algorithm")
