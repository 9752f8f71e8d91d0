package utils

import "strings"

// MatchPermission checks if a granted permission pattern covers a required
// "<resourceType>:<action>" string. Patterns may use '*' for either segment
// ("dashboard:*", "*:read", "*") or as a trailing wildcard within a segment
// ("dash*:read").
func MatchPermission(pattern, required string) bool {
	if pattern == "*" || pattern == required {
		return true
	}
	patType, patAction := splitPermission(pattern)
	reqType, reqAction := splitPermission(required)
	return matchSegment(patType, reqType) && matchSegment(patAction, reqAction)
}

// MatchResourceID checks a resource id against a grant pattern: exact, "*",
// or trailing-'*' prefix match.
func MatchResourceID(pattern, id string) bool {
	return matchSegment(pattern, id)
}

func splitPermission(s string) (string, string) {
	if idx := strings.IndexByte(s, ':'); idx != -1 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

func matchSegment(pattern, value string) bool {
	if pattern == "*" || pattern == value {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, pattern[:len(pattern)-1])
	}
	return false
}
