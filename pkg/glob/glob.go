package glob

// Match reports whether s matches the glob pattern. Matching is
// byte-wise, mirroring the server's stringmatchlen: no UTF-8 decoding,
// patterns always cover the whole string.
func Match(pattern, s string) bool {
	return matchBytes(pattern, s)
}

// IsPattern reports whether p contains any glob metacharacter. Plain
// strings can take the exact-match fast path.
func IsPattern(p string) bool {
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '*', '?', '[', '\\':
			return true
		}
	}
	return false
}

func matchBytes(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Collapse consecutive stars.
			for len(pattern) > 1 && pattern[1] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if matchBytes(pattern[1:], s[i:]) {
					return true
				}
			}
			return false

		case '?':
			if len(s) == 0 {
				return false
			}
			pattern = pattern[1:]
			s = s[1:]

		case '[':
			if len(s) == 0 {
				return false
			}
			next, ok := matchClass(pattern, s[0])
			if !ok {
				return false
			}
			pattern = pattern[next:]
			s = s[1:]

		case '\\':
			if len(pattern) > 1 {
				pattern = pattern[1:]
			}
			if len(s) == 0 || pattern[0] != s[0] {
				return false
			}
			pattern = pattern[1:]
			s = s[1:]

		default:
			if len(s) == 0 || pattern[0] != s[0] {
				return false
			}
			pattern = pattern[1:]
			s = s[1:]
		}
	}
	return len(s) == 0
}

// matchClass matches c against the bracket class opening at pattern[0]
// and returns the pattern offset just past the closing bracket. ok is
// false when c is not in the class. An unterminated class consumes the
// rest of the pattern, as the server does.
func matchClass(pattern string, c byte) (next int, ok bool) {
	i := 1 // skip '['
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
	return i, matched
}
