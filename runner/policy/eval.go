package policy

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/expr-lang/expr"
)

// EvalPredicate evaluates a restricted boolean expression against the given
// bindings.
//
// The expression grammar is deliberately small: literals, identifiers, dot
// access into bindings, comparisons and boolean connectives. Function calls
// and arithmetic are rejected before evaluation, so test configuration can
// never execute code against the host.
//
// An empty expression evaluates to true.
func EvalPredicate(cond string, vars map[string]any) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil
	}

	if err := ValidatePredicate(cond); err != nil {
		return false, err
	}

	out, err := expr.Eval(cond, vars)
	if err != nil {
		return false, err
	}

	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("predicate must evaluate to bool (got %T)", out)
	}

	return b, nil
}

// ValidatePredicate rejects expressions outside the restricted grammar.
// Dot access is allowed so predicates can reach into the context binding.
// The checks run against a copy with string-literal contents blanked out,
// so quoted data like "T-42" or "a:b" never trips them.
func ValidatePredicate(cond string) error {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return nil
	}
	cond = maskLiterals(cond)

	illegalChars := []rune{'{', '}', '[', ']', ';', ':', '?', '@', '#', '$', '\\'}
	for _, ch := range illegalChars {
		if strings.ContainsRune(cond, ch) {
			return fmt.Errorf("illegal character %q", ch)
		}
	}

	illegalOps := []string{"+", "-", "*", "/", "%"}
	for _, op := range illegalOps {
		if strings.Contains(cond, op) {
			return fmt.Errorf("arithmetic operator %q is not allowed", op)
		}
	}

	for i := 0; i < len(cond)-1; i++ {
		if cond[i] == '(' {
			j := i - 1
			for j >= 0 && unicode.IsSpace(rune(cond[j])) {
				j--
			}
			if j >= 0 && (unicode.IsLetter(rune(cond[j])) || cond[j] == '_') {
				k := j
				for k >= 0 && (unicode.IsLetter(rune(cond[k])) || unicode.IsDigit(rune(cond[k])) || cond[k] == '_') {
					k--
				}
				ident := strings.TrimSpace(cond[k+1 : j+1])
				if ident != "" {
					return fmt.Errorf("function calls are not allowed (found %q(...))", ident)
				}
			}
		}
	}

	return nil
}

// maskLiterals replaces every character inside a string literal with a
// space, preserving length and the delimiting quotes. Handles double- and
// single-quoted literals with backslash escapes; an unterminated literal
// masks through to the end and is left for the evaluator to reject.
func maskLiterals(cond string) string {
	out := []rune(cond)
	var quote rune
	escaped := false
	for i, ch := range out {
		if quote == 0 {
			if ch == '"' || ch == '\'' {
				quote = ch
			}
			continue
		}
		switch {
		case escaped:
			escaped = false
			out[i] = ' '
		case ch == '\\':
			escaped = true
			out[i] = ' '
		case ch == quote:
			quote = 0
		default:
			out[i] = ' '
		}
	}
	return string(out)
}
