// Package dedupkey derives stable identities for submission payloads.
package dedupkey

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Key identifies a submission by its normalized identifying fields.
type Key string

// None means the payload carries no identity and must not be deduplicated.
const None Key = ""

const separator = "::"

// Derive joins the normalized identifying fields. Both fields empty yields None.
func Derive(a, b string) Key {
	na := Normalize(a)
	nb := Normalize(b)
	if na == "" && nb == "" {
		return None
	}
	return Key(na + separator + nb)
}

// FromFields derives a key from two named fields of a decoded JSON object.
// Missing or non-string values count as empty.
func FromFields(payload map[string]any, fieldA, fieldB string) Key {
	return Derive(Field(payload, fieldA), Field(payload, fieldB))
}

// Normalize trims surrounding whitespace and lowercases.
func Normalize(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	// Casers keep internal state and must not be shared across goroutines.
	return cases.Lower(language.Und).String(trimmed)
}

func (k Key) Dedupable() bool {
	return k != None
}

func (k Key) String() string {
	return string(k)
}

// Field reads a string, number or Stringer value from payload.
func Field(payload map[string]any, field string) string {
	if payload == nil || field == "" {
		return ""
	}
	switch value := payload[field].(type) {
	case nil:
		return ""
	case string:
		return value
	case fmt.Stringer:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int, int64:
		return fmt.Sprint(value)
	default:
		return ""
	}
}
