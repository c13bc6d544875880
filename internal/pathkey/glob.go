package pathkey

import (
	"regexp"
	"strings"
)

// Glob is a compiled shell-style glob pattern, anchored at both ends.
type Glob struct {
	re        *regexp.Regexp
	recursive bool
	pattern   string
}

// CompileGlob compiles pattern following Unix shell glob conventions: '*'
// matches within a path segment, '?' matches one character, '[...]' is a
// character class. '**' matches any number of segments, but only when
// recursive is true — otherwise a literal run of stars is treated as a
// plain '*' (no segment-crossing).
func CompileGlob(pattern string, recursive bool) (*Glob, error) {
	var b strings.Builder
	b.WriteByte('^')

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '*':
			if recursive && i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(`.*`)
				i++
				// swallow an immediately following '/' so "**/x" also matches "x"
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
				}
				continue
			}
			b.WriteString(`[^/]*`)
		case '?':
			b.WriteString(`[^/]`)
		case '[':
			j := i + 1
			neg := false
			if j < len(runes) && (runes[j] == '!' || runes[j] == '^') {
				neg = true
				j++
			}
			start := j
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j >= len(runes) {
				// unterminated class: treat '[' literally
				b.WriteString(`\[`)
				continue
			}
			class := string(runes[start:j])
			b.WriteByte('[')
			if neg {
				b.WriteByte('^')
			}
			b.WriteString(regexp.QuoteMeta(class))
			// regexp.QuoteMeta escapes everything; inside a character class
			// that's almost always harmless, but ']' and '\' need to survive
			// unescaped/escaped correctly which QuoteMeta already handles.
			b.WriteByte(']')
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return &Glob{re: re, recursive: recursive, pattern: pattern}, nil
}

// Match reports whether path matches the compiled glob.
func (g *Glob) Match(path string) bool { return g.re.MatchString(path) }

// String returns the original glob pattern.
func (g *Glob) String() string { return g.pattern }

// Prefix returns the longest path prefix (possibly empty) that every match
// must start with — the literal leading segments before the first
// wildcard. Callers use this to narrow an index scan before filtering with
// Match.
func (g *Glob) Prefix() string {
	segs := strings.Split(g.pattern, "/")
	var lit []string
	for _, s := range segs {
		if strings.ContainsAny(s, "*?[") {
			break
		}
		lit = append(lit, s)
	}
	return strings.Join(lit, "/")
}
