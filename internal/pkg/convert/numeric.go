// Package convert provides type conversion utilities.
package convert

import (
	"strconv"
	"strings"
)

// ParseFloat parses a string price/quantity, returning 0 on failure.
func ParseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
