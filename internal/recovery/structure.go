package recovery

import (
	"regexp"
	"strings"
)

// fencePattern matches fenced code-block delimiters with an optional language tag.
var fencePattern = regexp.MustCompile("```[A-Za-z0-9_+.-]*")

// StripMarkup removes fenced code-block delimiters anywhere in text.
func StripMarkup(text string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(text, ""))
}

// ExtractRegion returns the substring from the first '{' to the last '}'.
// When the text has no '{' the whole text is the candidate. When the region
// is left open and more text follows the last '}', the output was cut off
// mid-structure, so everything from the first '{' is kept for repair.
func ExtractRegion(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return strings.TrimSpace(text)
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return strings.TrimSpace(text[start:])
	}

	region := text[start : end+1]
	tail := strings.TrimSpace(text[end+1:])
	if tail != "" && len(scanStructure(region).stack) > 0 {
		return strings.TrimSpace(text[start:])
	}
	return region
}

// structureScan is the result of a string-aware pass over brackets.
type structureScan struct {
	// stack holds unclosed openers in order.
	stack []byte
	// excess counts closers with nothing to close.
	excess int
	// mismatched is set when a closer does not match the innermost opener.
	mismatched bool
	// inString is set when the text ends inside a string literal.
	inString bool
}

func (s structureScan) balanced() bool {
	return len(s.stack) == 0 && s.excess == 0 && !s.mismatched && !s.inString
}

// scanStructure walks text tracking {} and [] nesting, ignoring brackets
// inside double-quoted string literals.
func scanStructure(text string) structureScan {
	var sc structureScan
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if sc.inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				sc.inString = false
			}
			continue
		}
		switch c {
		case '"':
			sc.inString = true
		case '{', '[':
			sc.stack = append(sc.stack, c)
		case '}', ']':
			if len(sc.stack) == 0 {
				sc.excess++
				continue
			}
			top := sc.stack[len(sc.stack)-1]
			if (c == '}' && top != '{') || (c == ']' && top != '[') {
				sc.mismatched = true
			}
			sc.stack = sc.stack[:len(sc.stack)-1]
		}
	}
	return sc
}

// RepairStructure balances brackets assuming truncation at the end rather
// than corruption in the middle: missing closers are appended, and excess
// closers are trimmed from the tail only. Balanced text is returned as is.
func RepairStructure(text string) (string, []string) {
	sc := scanStructure(text)
	if sc.balanced() || sc.mismatched {
		return text, nil
	}

	var repairs []string
	out := text

	if sc.excess > 0 {
		trimmed, ok := trimTailClosers(out, sc.excess)
		if ok {
			out = trimmed
			repairs = append(repairs, RepairTrimClosers)
			sc = scanStructure(out)
		}
	}

	if sc.inString {
		out += `"`
		repairs = append(repairs, RepairCloseString)
	}

	if len(sc.stack) > 0 {
		var b strings.Builder
		b.WriteString(strings.TrimRight(out, " \t\r\n"))
		for i := len(sc.stack) - 1; i >= 0; i-- {
			if sc.stack[i] == '{' {
				b.WriteByte('}')
			} else {
				b.WriteByte(']')
			}
		}
		out = b.String()
		repairs = append(repairs, RepairAppendClosers)
	}

	return out, repairs
}

// trimTailClosers removes up to n closers from the end of text, skipping
// trailing whitespace. It reports false when the excess is not at the tail.
func trimTailClosers(text string, n int) (string, bool) {
	out := strings.TrimRight(text, " \t\r\n")
	for n > 0 {
		if out == "" {
			return text, false
		}
		last := out[len(out)-1]
		if last != '}' && last != ']' {
			return text, false
		}
		out = strings.TrimRight(out[:len(out)-1], " \t\r\n")
		n--
	}
	if scanStructure(out).excess > 0 {
		return text, false
	}
	return out, true
}
