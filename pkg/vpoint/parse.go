package vpoint

import "unicode"

// expr-lang keywords and builtin names excluded from variable extraction;
// kept in sync with internal/sandbox's builtins() and the language's own
// reserved words relevant to the arithmetic/comparison/boolean subset we
// expose.
var reservedWords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "nil": true,
	"true": true, "false": true, "let": true,
	"abs": true, "min": true, "max": true, "now": true,
}

// extractVariableNames parses formula just enough to pull out bare
// identifier tokens, used at registration time to validate that every free
// variable in the script is bound by a declared VirtualPoint input (§4.9:
// "parse the formula to extract referenced variable names, map them to
// inputs"). This is a lexical scan, not a full expr-lang parse — it is
// intentionally permissive so that idioms like nested member access
// (a.b) or the expr pipe operator don't produce false positives for a
// leading identifier.
func extractVariableNames(formula string) []string {
	var names []string
	seen := map[string]bool{}

	runes := []rune(formula)
	i := 0
	for i < len(runes) {
		r := runes[i]
		if unicode.IsLetter(r) || r == '_' {
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := string(runes[start:i])

			// Skip this identifier if it's immediately followed by '('
			// (a function call) or preceded by '.' (a member access).
			isCall := i < len(runes) && peekNonSpace(runes, i) == '('
			isMember := start > 0 && peekNonSpacePrev(runes, start) == '.'

			if !reservedWords[word] && !isCall && !isMember && !seen[word] {
				seen[word] = true
				names = append(names, word)
			}
			continue
		}
		i++
	}
	return names
}

func peekNonSpace(runes []rune, from int) rune {
	for j := from; j < len(runes); j++ {
		if runes[j] != ' ' && runes[j] != '\t' {
			return runes[j]
		}
	}
	return 0
}

func peekNonSpacePrev(runes []rune, before int) rune {
	for j := before - 1; j >= 0; j-- {
		if runes[j] != ' ' && runes[j] != '\t' {
			return runes[j]
		}
	}
	return 0
}
