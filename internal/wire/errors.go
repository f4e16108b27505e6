package wire

import "errors"

// ErrProtocolViolation marks a fatal, non-recoverable deviation from the
// framed message protocol (bad prefix, non-zero reserved byte, unknown
// identifier, or a value-state body whose size is not a multiple of 24).
var ErrProtocolViolation = errors.New("wire: protocol violation")
