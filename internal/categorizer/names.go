package categorizer

import "strings"

// SafeDirName strips characters that are invalid in directory names on
// common filesystems. TMDB titles such as "Mission: Impossible" need this.
func SafeDirName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return -1
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ". ")
	if s == "" {
		return "Unknown"
	}
	return s
}
