package drop

import "errors"

var (
	// ErrCapacityExceeded is returned when an upload would grow a FileIndex past MaxFiles.
	ErrCapacityExceeded = errors.New("a session can contain up to 25 files")

	// ErrFileNotFound is returned for file ids absent from the FileIndex.
	ErrFileNotFound = errors.New("file not found")

	// ErrBlobNotFound is returned by BlobStore.Get for unknown keys.
	ErrBlobNotFound = errors.New("object not found")

	// ErrInvalidName is returned for display names outside the allowed length.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidFileID is returned for empty file ids.
	ErrInvalidFileID = errors.New("invalid file id")

	// ErrNotJoined is returned when an anonymous connection tries to send a message.
	ErrNotJoined = errors.New("join the session before sending messages")

	// ErrMessageTooLong is returned for chat messages longer than MaxMessageLength.
	ErrMessageTooLong = errors.New("message too long")

	// ErrSessionExpired is returned by a coordinator that has already torn down
	// its session. Callers should resolve the session again.
	ErrSessionExpired = errors.New("session expired")
)

// IsValidation reports whether err is a caller mistake that leaves state untouched.
func IsValidation(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidFileID) ||
		errors.Is(err, ErrNotJoined) ||
		errors.Is(err, ErrMessageTooLong)
}
