package common

import (
	"strconv"
	"strings"
)

// AtoiDefault parses value, returning def when it is blank or malformed.
func AtoiDefault(value string, def int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// ClampInt bounds v to [lo, hi].
func ClampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
