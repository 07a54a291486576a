package recovery

import (
	"regexp"
	"strings"
)

var (
	// trailingCommaPattern finds a comma directly before a closer. It is only
	// used for classification; the repair itself is string-aware.
	trailingCommaPattern = regexp.MustCompile(`,\s*[}\]]`)
	// singleQuotePattern finds single-quoted keys or values.
	singleQuotePattern = regexp.MustCompile(`[{\[,:]\s*'|'\s*[:,}\]]`)
)

// RepairText applies best-effort lexical fixes: single-quoted strings become
// double-quoted, bare word values are quoted and trailing commas before a
// closer are dropped. It returns the text and the repairs that changed it.
func RepairText(text string) (string, []string) {
	var repairs []string
	out := text
	if fixed := convertSingleQuotes(out); fixed != out {
		out = fixed
		repairs = append(repairs, RepairSingleQuotes)
	}
	if fixed := quoteBareValues(out); fixed != out {
		out = fixed
		repairs = append(repairs, RepairBareValues)
	}
	if fixed := dropTrailingCommas(out); fixed != out {
		out = fixed
		repairs = append(repairs, RepairTrailingComma)
	}
	return out, repairs
}

// convertSingleQuotes rewrites 'x' literals outside double-quoted strings
// as "x", escaping embedded double quotes.
func convertSingleQuotes(text string) string {
	if !strings.Contains(text, "'") {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))

	const (
		outside = iota
		inDouble
		inSingle
	)
	state := outside
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch state {
		case outside:
			switch c {
			case '"':
				state = inDouble
				b.WriteByte(c)
			case '\'':
				state = inSingle
				b.WriteByte('"')
			default:
				b.WriteByte(c)
			}
		case inDouble:
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				state = outside
			}
		case inSingle:
			switch {
			case escaped:
				escaped = false
				if c == '\'' {
					b.WriteByte('\'')
				} else {
					b.WriteByte('\\')
					b.WriteByte(c)
				}
			case c == '\\':
				escaped = true
			case c == '"':
				b.WriteString(`\"`)
			case c == '\'':
				if closesSingle(text, i) {
					state = outside
					b.WriteByte('"')
				} else {
					b.WriteByte(c)
				}
			default:
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

// closesSingle reports whether the quote at i ends a single-quoted literal:
// the next non-space byte must be structural or the end of text. This keeps
// apostrophes like "don't" inside the literal.
func closesSingle(text string, i int) bool {
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case ' ', '\t', '\r', '\n':
			continue
		case ':', ',', '}', ']':
			return true
		default:
			return false
		}
	}
	return true
}

// quoteBareValues wraps unquoted word values that follow a colon, such as
// {"confidence": high}. Numbers and the literals true, false and null are
// left alone.
func quoteBareValues(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		b.WriteByte(c)
		if c == '"' {
			inString = true
			continue
		}
		if c != ':' {
			continue
		}

		j := i + 1
		for j < len(text) && isSpace(text[j]) {
			j++
		}
		if j >= len(text) || !isWordStart(text[j]) {
			continue
		}
		k := j
		for k < len(text) && !strings.ContainsRune(",}]\n", rune(text[k])) {
			k++
		}
		segment := text[j:k]
		word := strings.TrimRight(segment, " \t\r")
		if word == "true" || word == "false" || word == "null" {
			continue
		}
		b.WriteString(text[i+1 : j])
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(word, `"`, `\"`))
		b.WriteByte('"')
		b.WriteString(segment[len(word):])
		i = k - 1
	}
	return b.String()
}

// dropTrailingCommas removes commas that directly precede a closer,
// ignoring commas inside string literals.
func dropTrailingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(text) && isSpace(text[j]) {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func isWordStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '$'
}
