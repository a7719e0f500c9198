// Package formatting converts byte sizes between counts and the
// human-readable strings used in configuration files and log lines.
package formatting

import (
	"fmt"
	"strconv"
	"strings"
)

var suffixes = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// shifts maps accepted unit spellings to their power-of-1024 exponent.
// IEC spellings (MiB) are accepted alongside the conventional ones.
var shifts = map[string]uint{
	"":  0,
	"B": 0,
	"K": 10, "KB": 10, "KIB": 10,
	"M": 20, "MB": 20, "MIB": 20,
	"G": 30, "GB": 30, "GIB": 30,
	"T": 40, "TB": 40, "TIB": 40,
	"P": 50, "PB": 50, "PIB": 50,
	"E": 60, "EB": 60, "EIB": 60,
}

// FormatBytes renders n with the largest base-1024 unit that keeps the
// value at or above one. Negative precision is treated as zero.
func FormatBytes(n int64, precision int) string {
	precision = max(precision, 0)

	value := float64(n)
	idx := 0
	for idx < len(suffixes)-1 && (value >= 1024 || value <= -1024) {
		value /= 1024
		idx++
	}

	if idx == 0 {
		return strconv.FormatInt(n, 10) + " B"
	}
	return strconv.FormatFloat(value, 'f', precision, 64) + " " + suffixes[idx]
}

// ParseBytes reads sizes such as "50MB", "1.5 GiB" or "1024". Units are
// base-1024 and case-insensitive; a bare number is a byte count.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	split := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	number, unit := s, ""
	if split >= 0 {
		number, unit = s[:split], strings.TrimSpace(s[split:])
	}
	if number == "" {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size number %q: %w", number, err)
	}

	shift, ok := shifts[strings.ToUpper(unit)]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", unit)
	}

	return int64(value * float64(uint64(1)<<shift)), nil
}
