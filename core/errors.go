package core

import (
	"errors"
	"syscall"
)

var (
	ErrPeerUnknown           = errors.New("peer unknown")
	ErrRejected              = errors.New("permission denied: receiver rejected transfer")
	ErrProtocol              = errors.New("protocol violation")
	ErrIncompleteTransfer    = errors.New("file read incomplete")
	ErrPrematureEOF          = errors.New("connection closed before transfer completed")
	ErrInvalidFilename       = errors.New("invalid filename")
	ErrFilenameTooLong       = errors.New("filename exceeds 65535 bytes")
	ErrMalformedAnnouncement = errors.New("malformed announcement")
)

// IsConnReset reports whether err was caused by the remote side resetting
// the connection.
func IsConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
