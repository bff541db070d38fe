package workflow

import "sort"

// sortQuestionKeys orders keys the way they appear on the paper: by the
// leading numeric run as an integer, then by the full key string for suffixed
// items. "1a, 1b, 2, 10" rather than the naive "1a, 1b, 10, 2". Keys with no
// leading digits go last, alphabetically.
func sortQuestionKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		ni, okI := leadingInt(keys[i])
		nj, okJ := leadingInt(keys[j])
		if okI != okJ {
			return okI
		}
		if okI && ni != nj {
			return ni < nj
		}
		return keys[i] < keys[j]
	})
}

func leadingInt(s string) (int, bool) {
	n := 0
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		n = n*10 + int(s[i]-'0')
		i++
	}
	return n, i > 0
}
