package aax

import (
	"errors"
)

var (
	// ErrCredentialMismatch is returned when the activation bytes do not unlock the file.
	// It usually means the caller should ask for different activation bytes.
	ErrCredentialMismatch = errors.New("activation bytes are incorrect or the file is corrupt")
	// ErrInvalidSecret is returned when the activation bytes are not valid hex.
	ErrInvalidSecret = errors.New("invalid activation bytes")
	// ErrUnsupportedFormat is returned for container variants that cannot be decrypted.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrMissingBox is returned when a required top-level box is absent.
	ErrMissingBox = errors.New("missing box")
	// ErrMalformedContainer is returned when a declared box length is inconsistent with the stream.
	ErrMalformedContainer = errors.New("malformed container")
)

// CredentialCause tells which check of the key derivation failed.
type CredentialCause int

const (
	// CauseChecksum means the embedded checksum did not match the derived working key.
	CauseChecksum CredentialCause = iota
	// CauseEcho means the decrypted envelope did not echo the activation bytes.
	CauseEcho
)

func (c CredentialCause) String() string {
	switch c {
	case CauseChecksum:
		return "checksum"
	case CauseEcho:
		return "echo"
	default:
		return "unknown"
	}
}

// CredentialError reports a failed key derivation check.
// Both causes match ErrCredentialMismatch with errors.Is.
type CredentialError struct {
	Cause CredentialCause
}

func (e *CredentialError) Error() string {
	return ErrCredentialMismatch.Error()
}

func (e *CredentialError) Is(target error) bool {
	return target == ErrCredentialMismatch
}
