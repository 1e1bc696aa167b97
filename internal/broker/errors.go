package broker

import (
	"fmt"
	"strings"
	"unicode"
)

// SourceError is a failure raised by a message-source client library.
type SourceError struct {
	Source string
	Code   string
	// Retryable is the library's own transient indicator, nil when it has none.
	Retryable *bool
	Err       error
}

func (e *SourceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error (%s): %v", e.Source, e.Code, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func (e *SourceError) IsRetryable() bool {
	if e.Retryable == nil {
		return true
	}
	return *e.Retryable
}

// Reason is "<source>_<code>", or "<source>_error" without a code.
func (e *SourceError) Reason() string {
	code := toSnake(e.Code)
	if code == "" {
		code = "error"
	}
	source := toSnake(e.Source)
	if source == "" {
		source = "source"
	}
	return source + "_" + code
}

func toSnake(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func boolPtr(b bool) *bool {
	return &b
}
