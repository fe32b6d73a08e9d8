package remotetest

import (
	"fmt"
	"strings"
)

// match evaluates the subset of the formula language the guest store
// emits: AND, OR, FIND and equality over LOWER(TRIM({col}&'')).
func match(formula string, fields map[string]any) bool {
	f := strings.TrimSpace(formula)
	switch {
	case f == "":
		return true
	case strings.HasPrefix(f, "AND(") && strings.HasSuffix(f, ")"):
		for _, arg := range splitArgs(f[len("AND(") : len(f)-1]) {
			if !match(arg, fields) {
				return false
			}
		}
		return true
	case strings.HasPrefix(f, "OR(") && strings.HasSuffix(f, ")"):
		for _, arg := range splitArgs(f[len("OR(") : len(f)-1]) {
			if match(arg, fields) {
				return true
			}
		}
		return false
	case strings.HasPrefix(f, "FIND(") && strings.HasSuffix(f, ")"):
		args := splitArgs(f[len("FIND(") : len(f)-1])
		if len(args) != 2 {
			return false
		}
		return strings.Contains(cellText(args[1], fields), unquote(args[0]))
	}

	if lhs, rhs, ok := cutTopLevel(f, " = "); ok {
		return cellText(lhs, fields) == unquote(rhs)
	}
	return false
}

// cellText resolves LOWER(TRIM({col}&'')) against a record.
func cellText(expr string, fields map[string]any) string {
	m := formulaFieldRe.FindStringSubmatch(expr)
	if m == nil {
		return ""
	}
	v, ok := fields[m[1]]
	if !ok || v == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return s
	}
	s = s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// splitArgs splits on commas outside quotes and parentheses.
func splitArgs(s string) []string {
	var (
		args  []string
		depth int
		quote bool
		start int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case quote && c == '\\':
			i++
		case c == '\'':
			quote = !quote
		case quote:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	return append(args, strings.TrimSpace(s[start:]))
}

func cutTopLevel(s, sep string) (string, string, bool) {
	depth, quote := 0, false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case quote && c == '\\':
			i++
		case c == '\'':
			quote = !quote
		case quote:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			return s[:i], s[i+len(sep):], true
		}
	}
	return "", "", false
}
