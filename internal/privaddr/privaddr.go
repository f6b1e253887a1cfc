// Package privaddr classifies dotted-quad literals as routable or not.
package privaddr

import (
	"strconv"
	"strings"
)

// IsPrivate reports whether literal is a dotted quad inside 10/8, 172.16/12,
// 192.168/16, 127/8 or 169.254/16.
//
// Anything that is not exactly four dot-separated base-10 integers is treated
// as routable and yields false. Segment values are not range checked, so the
// shape test applies to any literal, whatever kind it was extracted as.
func IsPrivate(literal string) bool {
	parts := strings.Split(literal, ".")
	if len(parts) != 4 {
		return false
	}
	var seg [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return false
		}
		seg[i] = n
	}

	p1, p2 := seg[0], seg[1]
	switch {
	case p1 == 10:
		return true
	case p1 == 172 && p2 >= 16 && p2 <= 31:
		return true
	case p1 == 192 && p2 == 168:
		return true
	case p1 == 127:
		return true
	case p1 == 169 && p2 == 254:
		return true
	}
	return false
}
