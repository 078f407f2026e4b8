// Package formatting converts byte sizes between counts and human-readable
// strings.
package formatting

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

var units = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// FormatBytes renders n with base-1024 units. Negative precision is treated
// as zero.
func FormatBytes(n int64, precision int) string {
	precision = max(precision, 0)

	size := float64(n)
	i := 0
	for math.Abs(size) >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}

	if i == 0 {
		return strconv.FormatInt(n, 10) + " B"
	}
	return strconv.FormatFloat(size, 'f', precision, 64) + " " + units[i]
}

// ParseBytes parses sizes such as "512", "10MB", "1.5 GiB" or "64k" into a
// byte count. Units are base-1024 and case-insensitive. The trailing "B" and
// the IEC "i" are optional.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	split := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})
	number, unit := s, ""
	if split >= 0 {
		number, unit = s[:split], strings.TrimSpace(s[split:])
	}
	if number == "" {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}

	exp, err := exponent(unit)
	if err != nil {
		return 0, err
	}
	return int64(value * math.Pow(1024, float64(exp))), nil
}

func exponent(unit string) (int, error) {
	u := strings.ToUpper(unit)
	if u == "" || u == "B" {
		return 0, nil
	}

	u = strings.TrimSuffix(u, "B")
	u = strings.TrimSuffix(u, "I")
	if len(u) == 1 {
		for i, name := range units[1:] {
			if name[:1] == u {
				return i + 1, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown byte size unit %q", unit)
}
