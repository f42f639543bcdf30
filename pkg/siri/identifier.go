package siri

import "strings"

// IDSeparator joins an original identifier with its mapped counterpart,
// e.g. "1234$ATB:Line:1234".
const IDSeparator = "$"

// OriginalID strips the mapped suffix from a combined identifier.
// Identifiers without a separator, or starting with one, are returned as-is.
func OriginalID(id string) string {
	if index := strings.Index(id, IDSeparator); index > 0 {
		return id[:index]
	}

	return id
}

// MappedID returns the part after the separator, or the identifier itself
// when it is not a combined one.
func MappedID(id string) string {
	if index := strings.Index(id, IDSeparator); index > 0 {
		return id[index+len(IDSeparator):]
	}

	return id
}

// MatchesLine compares a stored line reference against a requested one
// case-insensitively. Combined identifiers match on either half.
func MatchesLine(stored string, requested string) bool {
	if stored == "" {
		return false
	}

	stored = strings.ToLower(stored)
	requested = strings.ToLower(requested)

	return stored == requested ||
		strings.HasPrefix(stored, requested+IDSeparator) ||
		strings.HasSuffix(stored, IDSeparator+requested)
}
