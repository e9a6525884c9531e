package runner

import (
	"regexp"
	"strings"
)

var javaPublicClass = regexp.MustCompile(`\bpublic\s+(?:(?:final|abstract|strictfp)\s+)*class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)

const defaultJavaClass = "Main"

// javaClassName returns the top-level public class declared in source, or
// Main. Comments, literals and nested classes are ignored.
func javaClassName(source string) string {
	code := javaCodeOnly(source)
	for _, loc := range javaPublicClass.FindAllStringSubmatchIndex(code, -1) {
		if braceDepth(code[:loc[0]]) == 0 {
			return code[loc[2]:loc[3]]
		}
	}
	return defaultJavaClass
}

func braceDepth(code string) int {
	return strings.Count(code, "{") - strings.Count(code, "}")
}

// javaCodeOnly blanks comments and string, char and text-block literals,
// keeping offsets and newlines intact.
func javaCodeOnly(source string) string {
	out := []byte(source)
	blank := func(from, to int) {
		for i := from; i < to && i < len(out); i++ {
			if out[i] != '\n' {
				out[i] = ' '
			}
		}
	}
	for i := 0; i < len(source); {
		switch {
		case strings.HasPrefix(source[i:], "//"):
			end := strings.IndexByte(source[i:], '\n')
			if end < 0 {
				end = len(source) - i
			}
			blank(i, i+end)
			i += end
		case strings.HasPrefix(source[i:], "/*"):
			end := strings.Index(source[i+2:], "*/")
			if end < 0 {
				blank(i, len(source))
				return string(out)
			}
			blank(i, i+2+end+2)
			i += 2 + end + 2
		case strings.HasPrefix(source[i:], `"""`):
			end := strings.Index(source[i+3:], `"""`)
			if end < 0 {
				blank(i, len(source))
				return string(out)
			}
			blank(i, i+3+end+3)
			i += 3 + end + 3
		case source[i] == '"' || source[i] == '\'':
			end := literalEnd(source, i)
			blank(i, end)
			i = end
		default:
			i++
		}
	}
	return string(out)
}

// literalEnd returns the offset just past the quoted literal starting at i.
// An unterminated literal ends at the line break.
func literalEnd(source string, i int) int {
	quote := source[i]
	for j := i + 1; j < len(source); j++ {
		switch source[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		case '\n':
			return j
		}
	}
	return len(source)
}
