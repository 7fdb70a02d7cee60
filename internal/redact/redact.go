package redact

import (
	"fmt"
	"log"
	"regexp"
	"strings"
)

var (
	bearerRe   = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-+/=]+)`)
	apiKeyRe   = regexp.MustCompile(`(?i)(api[_-]?key(?:s)?\s*[:=]\s*)([A-Za-z0-9._\-+/=]+)`)
	dsnRe      = regexp.MustCompile(`(?i)(postgres(?:ql)?://)([^@\s]+)@`)
	emailRe    = regexp.MustCompile(`(?i)[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	tokenishRe = regexp.MustCompile(`(?i)(token\s*[:=]\s*)([A-Za-z0-9._\-+/=]{6,})`)
)

// String redacts credentials and personal identifiers from free-form
// strings before they reach the log. Student emails count as personal
// data here.
func String(s string) string {
	if s == "" {
		return s
	}
	out := s
	out = bearerRe.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyRe.ReplaceAllString(out, "${1}[REDACTED]")
	out = dsnRe.ReplaceAllString(out, "${1}[REDACTED]@")
	out = tokenishRe.ReplaceAllString(out, "${1}[REDACTED]")
	out = emailRe.ReplaceAllString(out, "[REDACTED_EMAIL]")
	for strings.Contains(out, "[REDACTED][REDACTED]") {
		out = strings.ReplaceAll(out, "[REDACTED][REDACTED]", "[REDACTED]")
	}
	return out
}

// Sprintf formats like fmt.Sprintf and redacts the result.
func Sprintf(format string, args ...interface{}) string {
	return String(fmt.Sprintf(format, args...))
}

// Logf prints a redacted log line.
func Logf(format string, args ...interface{}) {
	log.Print(Sprintf(format, args...))
}

// Fatalf prints a redacted fatal log line.
func Fatalf(format string, args ...interface{}) {
	log.Fatal(Sprintf(format, args...))
}
