package keyspace

// MatchPattern matches str against a Redis-style glob pattern supporting
// '*', '?', character classes like [a-c] or [^a], and '\' escapes.
func MatchPattern(str, pattern string) bool {
	return matchGlob(str, pattern, 0, 0, make(map[[2]int]bool))
}

func matchGlob(str, pattern string, si, pi int, memo map[[2]int]bool) bool {
	key := [2]int{si, pi}
	if res, ok := memo[key]; ok {
		return res
	}

	if pi == len(pattern) {
		res := si == len(str)
		memo[key] = res
		return res
	}

	var res bool
	switch pattern[pi] {
	case '*':
		// collapse runs of stars
		for pi+1 < len(pattern) && pattern[pi+1] == '*' {
			pi++
		}
		res = matchGlob(str, pattern, si, pi+1, memo)
		if !res && si < len(str) {
			res = matchGlob(str, pattern, si+1, pi, memo)
		}
	case '?':
		res = si < len(str) && matchGlob(str, pattern, si+1, pi+1, memo)
	case '[':
		if si < len(str) {
			matched, next := matchClass(str[si], pattern, pi)
			res = matched && matchGlob(str, pattern, si+1, next, memo)
		}
	case '\\':
		if pi+1 < len(pattern) {
			res = si < len(str) && str[si] == pattern[pi+1] &&
				matchGlob(str, pattern, si+1, pi+2, memo)
			break
		}
		res = si < len(str) && str[si] == '\\' && matchGlob(str, pattern, si+1, pi+1, memo)
	default:
		res = si < len(str) && str[si] == pattern[pi] &&
			matchGlob(str, pattern, si+1, pi+1, memo)
	}

	memo[key] = res
	return res
}

// matchClass evaluates the character class opening at pattern[pi] == '['
// against c, returning whether it matched and the index past the class
func matchClass(c byte, pattern string, pi int) (bool, int) {
	i := pi + 1
	negate := false
	if i < len(pattern) && pattern[i] == '^' {
		negate = true
		i++
	}
	matched := false
	for i < len(pattern) && pattern[i] != ']' {
		if pattern[i] == '\\' && i+1 < len(pattern) {
			i++
			if pattern[i] == c {
				matched = true
			}
			i++
			continue
		}
		if i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']' {
			lo, hi := pattern[i], pattern[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			i += 3
			continue
		}
		if pattern[i] == c {
			matched = true
		}
		i++
	}
	if i < len(pattern) {
		i++ // consume ']'
	}
	if negate {
		matched = !matched
	}
	return matched, i
}
