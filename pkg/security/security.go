// Package security provides validation, sanitization, and limits for the pipeline package.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/threadpass/pipeline/pkg/core"
)

// Limits enforced at the boundary before anything touches storage.
const (
	// MaxBrandIDLength is the maximum length for brand identifiers.
	MaxBrandIDLength = 64

	// MaxSourceLength is the maximum length for source identities.
	MaxSourceLength = 128

	// MaxFieldNameLength is the maximum length for catalog field names.
	MaxFieldNameLength = 128

	// MaxErrorMessageLength is the maximum length for stored error messages.
	MaxErrorMessageLength = 4096

	// MaxChunkSize is the hard limit for rows per chunk.
	MaxChunkSize = 1000

	// MaxChunkRetries is the hard limit for chunk retry attempts.
	MaxChunkRetries = 10

	// MaxConcurrency is the hard limit for worker concurrency.
	MaxConcurrency = 64

	// MaxRowFailures is the cap on stored failure entries per job; rows
	// beyond it still count in the failed counter but are not itemized.
	MaxRowFailures = 10000
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

var validSource = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.:]*$`)

// ValidateBrandID validates a brand identifier.
func ValidateBrandID(id string) error {
	if id == "" || len(id) > MaxBrandIDLength || !validIdentifier.MatchString(id) {
		return core.ErrInvalidBrand
	}
	return nil
}

// ValidateSource validates a source identity ("manual" or
// "integration:<connection>").
func ValidateSource(s core.Source) error {
	v := string(s)
	if v == "" || len(v) > MaxSourceLength || !validSource.MatchString(v) {
		return core.ErrInvalidSource
	}
	if s != core.SourceManual {
		if _, ok := s.Integration(); !ok {
			return core.ErrInvalidSource
		}
	}
	return nil
}

// ClampChunkSize ensures a chunk size is within [1, MaxChunkSize].
func ClampChunkSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxChunkSize {
		return MaxChunkSize
	}
	return n
}

// ClampRetries ensures a chunk retry count is within [1, MaxChunkRetries].
func ClampRetries(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxChunkRetries {
		return MaxChunkRetries
	}
	return n
}

// ClampConcurrency ensures worker concurrency is within [1, MaxConcurrency].
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// SanitizeErrorMessage truncates and sanitizes error messages before they
// are stored on a job or failure record.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(msg))
	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}
	out := sanitized.String()

	if len(out) > MaxErrorMessageLength {
		cut := MaxErrorMessageLength
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + "... (truncated)"
	}
	return out
}
