// Package safematch provides the regex/glob matching discipline every
// pattern derived from worker/proposal input must go through: it is
// screened for catastrophic-backtracking shapes before it reaches the Go
// regex engine, and falls back to substring containment rather than ever
// panicking or hanging (see DESIGN.md for grounding notes).
package safematch

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// dangerousPattern matches regex shapes prone to catastrophic backtracking:
// nested quantifiers like (a+)+ or (a*)*, and alternations with overlapping,
// quantified branches.
var dangerousPattern = regexp.MustCompile(`\([^)]*[+*][^)]*\)[+*]|\([^|)]*\|[^|)]*\)[+*]`)

// IsDangerous reports whether expr has a shape likely to cause catastrophic
// backtracking.
func IsDangerous(expr string) bool {
	if dangerousPattern.MatchString(expr) {
		return true
	}
	// Very long alternations or deeply nested groups are also suspect.
	if strings.Count(expr, "(") > 32 {
		return true
	}
	return false
}

var (
	cacheMu sync.RWMutex
	cache   = map[string]*regexp.Regexp{}
)

// compile compiles expr once and memoizes the result (including failures,
// stored as nil).
func compile(expr string) *regexp.Regexp {
	cacheMu.RLock()
	re, ok := cache[expr]
	cacheMu.RUnlock()
	if ok {
		return re
	}
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if re, ok := cache[expr]; ok {
		return re
	}
	var compiled *regexp.Regexp
	if !IsDangerous(expr) {
		if c, err := regexp.Compile(expr); err == nil {
			compiled = c
		}
	}
	cache[expr] = compiled
	return compiled
}

// MatchRegex reports whether expr matches s. A dangerous or malformed regex
// never panics or blocks indefinitely: it falls back to case-insensitive
// substring containment.
func MatchRegex(expr, s string) bool {
	if re := compile(expr); re != nil {
		return re.MatchString(s)
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(expr))
}

// MatchAny reports whether s matches any of the given regex patterns.
func MatchAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if MatchRegex(p, s) {
			return true
		}
	}
	return false
}

// NormalizePath converts a path to forward-slash form for glob matching.
func NormalizePath(p string) string {
	return filepath.ToSlash(p)
}

// globToRegex escapes regex metacharacters first, then translates glob
// wildcards, so a literal metacharacter in the pattern can never be
// reinterpreted as part of a wildcard. Glob semantics: `*` matches one
// path segment, `**` matches any number of
// segments, `?` matches one character, `.` is literal.
func globToRegex(glob string) string {
	glob = NormalizePath(glob)
	var b strings.Builder
	b.WriteByte('^')
	i := 0
	for i < len(glob) {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				b.WriteString(".*")
				i += 2
				// swallow an immediately following slash so `**/` matches zero dirs too
				if i < len(glob) && glob[i] == '/' {
					i++
				}
				continue
			}
			b.WriteString("[^/]*")
			i++
		case '?':
			b.WriteString("[^/]")
			i++
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	b.WriteByte('$')
	return b.String()
}

// MatchGlob reports whether path matches the glob pattern: case-sensitive,
// `/`-normalized, `*` single-segment, `**` any-depth, `?` single-char, `.`
// literal.
func MatchGlob(glob, path string) bool {
	path = NormalizePath(path)
	re := compile(globToRegex(glob))
	if re == nil {
		return strings.Contains(path, strings.Trim(glob, "*"))
	}
	return re.MatchString(path)
}

// MatchAnyGlob reports whether path matches any of the given glob patterns.
func MatchAnyGlob(globs []string, path string) bool {
	for _, g := range globs {
		if MatchGlob(g, path) {
			return true
		}
	}
	return false
}
