package rule

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse builds an expression tree from rule text. Parsing happens once at
// policy load; evaluation never re-parses.
//
// Compound expressions combine terms with " and " or " or " at a single
// level, folded left to right. Parentheses are rejected: nesting is out of
// the rule language on purpose, and a loud error beats silently matching
// the wrong thing.
func Parse(text string) (Expr, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, fmt.Errorf("rule: empty expression")
	}
	if strings.ContainsAny(s, "()") {
		return nil, fmt.Errorf("rule: parentheses are not supported in %q", text)
	}

	if parts := splitTop(s, " and "); len(parts) > 1 {
		return foldTerms(parts, func(l, r Expr) Expr { return And{Left: l, Right: r} })
	}
	if parts := splitTop(s, " or "); len(parts) > 1 {
		return foldTerms(parts, func(l, r Expr) Expr { return Or{Left: l, Right: r} })
	}
	return parseTerm(s)
}

// MustParse is a test and preset helper that panics on malformed rules.
func MustParse(text string) Expr {
	e, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return e
}

// splitTop splits on the combinator token outside quoted literals.
func splitTop(s, sep string) []string {
	var parts []string
	rest := s
	for {
		idx := indexOutsideQuotes(rest, sep)
		if idx < 0 {
			parts = append(parts, rest)
			return parts
		}
		parts = append(parts, rest[:idx])
		rest = rest[idx+len(sep):]
	}
}

func indexOutsideQuotes(s, sep string) int {
	inQuote := false
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i] == '"' {
			inQuote = !inQuote
			continue
		}
		if !inQuote && s[i:i+len(sep)] == sep {
			return i
		}
	}
	return -1
}

func foldTerms(parts []string, combine func(l, r Expr) Expr) (Expr, error) {
	out, err := parseTerm(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, err
	}
	for _, p := range parts[1:] {
		term, err := parseTerm(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = combine(out, term)
	}
	return out, nil
}

// comparison operators, two-character forms first so "<=" never parses as "<".
var operators = []Op{OpLE, OpGE, OpEQ, OpNE, OpLT, OpGT}

func parseTerm(s string) (Expr, error) {
	if idx := indexOutsideQuotes(s, " contains "); idx >= 0 {
		path := strings.TrimSpace(s[:idx])
		lit := strings.TrimSpace(s[idx+len(" contains "):])
		if err := validatePath(path); err != nil {
			return nil, err
		}
		if len(lit) < 2 || lit[0] != '"' || lit[len(lit)-1] != '"' {
			return nil, fmt.Errorf("rule: contains literal must be double-quoted in %q", s)
		}
		return Contains{Path: path, Literal: lit[1 : len(lit)-1]}, nil
	}

	if idx := indexOutsideQuotes(s, " in "); idx >= 0 {
		path := strings.TrimSpace(s[:idx])
		list := strings.TrimSpace(s[idx+len(" in "):])
		if err := validatePath(path); err != nil {
			return nil, err
		}
		if list == "" || strings.ContainsAny(list, " .") {
			return nil, fmt.Errorf("rule: invalid list name %q", list)
		}
		return Membership{Path: path, List: list}, nil
	}

	for _, op := range operators {
		idx := strings.Index(s, string(op))
		if idx < 0 {
			continue
		}
		path := strings.TrimSpace(s[:idx])
		numText := strings.TrimSpace(s[idx+len(op):])
		if err := validatePath(path); err != nil {
			return nil, err
		}
		num, err := strconv.ParseFloat(numText, 64)
		if err != nil {
			return nil, fmt.Errorf("rule: %q is not a numeric literal in %q", numText, s)
		}
		return Comparison{Path: path, Op: op, Value: num}, nil
	}

	return nil, fmt.Errorf("rule: unrecognized expression %q", s)
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("rule: missing field path")
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return fmt.Errorf("rule: malformed field path %q", path)
		}
	}
	if strings.ContainsAny(path, " \t\"") {
		return fmt.Errorf("rule: malformed field path %q", path)
	}
	return nil
}
