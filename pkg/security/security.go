// Package security provides validation, sanitization, and limits for the shardwork package.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/shardwork/pkg/core"
)

// Security limits and configuration
const (
	// MaxKindLength is the maximum length for job kinds
	MaxKindLength = 255

	// MaxSubjectKeyLength is the maximum length for subject keys
	MaxSubjectKeyLength = 255

	// MaxWorkerIDLength is the maximum length for worker identifiers
	MaxWorkerIDLength = 255

	// MaxCheckpointTypeLength is the maximum length for checkpoint types
	MaxCheckpointTypeLength = 64

	// MaxCheckpointKeyLength is the maximum length for checkpoint keys
	MaxCheckpointKeyLength = 255

	// MaxCheckpointPayloadSize is the maximum size in bytes for checkpoint payloads (1MB)
	MaxCheckpointPayloadSize = 1 << 20

	// MaxRetries is the hard limit for shard retry ceilings
	MaxRetries = 100

	// MaxConcurrency is the hard limit for worker capacity
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096
)

// validKind matches alphanumeric, hyphens, underscores, and dots
var validKind = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// validSubjectKey additionally admits mailbox-style identifiers (@, +, %)
// and may start with a digit
var validSubjectKey = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9@._%+\-]*$`)

// ValidateKind validates a job kind
func ValidateKind(kind string) error {
	if kind == "" {
		return core.ErrInvalidKind
	}
	if len(kind) > MaxKindLength {
		return core.ErrKindTooLong
	}
	if !validKind.MatchString(kind) {
		return core.ErrInvalidKind
	}
	return nil
}

// ValidateSubjectKey validates a subject key
func ValidateSubjectKey(key string) error {
	if key == "" {
		return core.ErrInvalidSubjectKey
	}
	if len(key) > MaxSubjectKeyLength {
		return core.ErrSubjectKeyTooLong
	}
	if !validSubjectKey.MatchString(key) {
		return core.ErrInvalidSubjectKey
	}
	return nil
}

// ValidateWorkerID validates a worker identifier
func ValidateWorkerID(id string) error {
	if id == "" {
		return core.ErrInvalidWorkerID
	}
	if len(id) > MaxWorkerIDLength {
		return core.ErrWorkerIDTooLong
	}
	if !validKind.MatchString(id) {
		return core.ErrInvalidWorkerID
	}
	return nil
}

// ValidateCheckpointType validates a checkpoint type
func ValidateCheckpointType(ctype string) error {
	if ctype == "" || len(ctype) > MaxCheckpointTypeLength || !validKind.MatchString(ctype) {
		return core.ErrInvalidCheckpointType
	}
	return nil
}

// ValidateCheckpointKey validates a checkpoint key.
// Keys are free-form resource identifiers (folder paths, batch cursors),
// so only emptiness and length are enforced.
func ValidateCheckpointKey(key string) error {
	if key == "" {
		return core.ErrCheckpointKeyEmpty
	}
	if len(key) > MaxCheckpointKeyLength {
		return core.ErrCheckpointKeyTooLong
	}
	return nil
}

// ValidatePayloadSize validates a checkpoint payload size
func ValidatePayloadSize(payload []byte) error {
	if len(payload) > MaxCheckpointPayloadSize {
		return core.ErrPayloadTooLarge
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampRetries ensures a retry ceiling is within limits
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampConcurrency ensures worker capacity is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
