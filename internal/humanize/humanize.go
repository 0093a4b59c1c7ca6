// Package humanize formats durations and node IDs for chat-facing text.
package humanize

import (
	"fmt"
	"strconv"
	"strings"
)

// Ago renders a duration in seconds as a human "X ago" string.
func Ago(seconds int64) string {
	switch {
	case seconds < 0:
		return "in the future"
	case seconds < 60:
		return fmt.Sprintf("%ds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh ago", seconds/3600)
	default:
		return fmt.Sprintf("%dd ago", seconds/86400)
	}
}

// Duration renders an elapsed-seconds count as an uptime string: "Xd Yh Zm"
// from one day up, "Xh Ym" from one hour, "Xm Ys" from one minute, else
// "Xs". The lower units are shown even when they are zero.
func Duration(secs uint64) string {
	days := secs / 86400
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60
	seconds := secs % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// ParseNodeID accepts "!ebb0a1ce" (hex with bang prefix), an 8-char bare hex
// string, or a decimal node number, and returns the parsed node ID.
func ParseNodeID(s string) (uint32, bool) {
	s = strings.TrimSpace(s)
	if hex, ok := strings.CutPrefix(s, "!"); ok {
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, false
		}
		return uint32(v), true
	}
	if len(s) == 8 && isAllHex(s) {
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return 0, false
		}
		return uint32(v), true
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func isAllHex(s string) bool {
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
			return false
		}
	}
	return true
}
