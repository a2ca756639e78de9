package config

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/contentbridge/adaptor/errkind"
)

// parseProperties reads a Java-style .properties stream: lines are
// key=value, key:value, or whitespace-separated; \u#### escapes decode to
// the corresponding rune; a trailing backslash continues the logical line
// onto the next physical line, with leading whitespace in the continuation
// stripped before it is appended.
func parseProperties(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var logical strings.Builder
	building := false

	for scanner.Scan() {
		line := scanner.Text()

		if building {
			logical.WriteString(strings.TrimLeft(line, " \t\f"))
		} else {
			trimmed := strings.TrimLeft(line, " \t\f")
			if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!") {
				continue
			}
			logical.Reset()
			logical.WriteString(line)
		}

		if endsWithUnescapedBackslash(logical.String()) {
			s := logical.String()
			logical.Reset()
			logical.WriteString(s[:len(s)-1])
			building = true
			continue
		}
		building = false

		key, value, err := splitKeyValue(logical.String())
		if err != nil {
			return nil, err
		}
		decodedKey, err := decodeEscapes(key)
		if err != nil {
			return nil, err
		}
		decodedValue, err := decodeEscapes(value)
		if err != nil {
			return nil, err
		}
		out[decodedKey] = decodedValue
	}
	if err := scanner.Err(); err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfiguration, "config: read source", err)
	}
	if building {
		return nil, errkind.New(errkind.InvalidConfiguration, "config: source ends mid-continuation")
	}
	return out, nil
}

// endsWithUnescapedBackslash reports whether s ends in a backslash that is
// not itself escaped (an even run of trailing backslashes is not a
// continuation marker).
func endsWithUnescapedBackslash(s string) bool {
	count := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		count++
	}
	return count%2 == 1
}

// splitKeyValue finds the first unescaped separator (=, :, or whitespace)
// and splits the logical line into key and value.
func splitKeyValue(line string) (key, value string, err error) {
	runes := []rune(line)
	i := 0
	for i < len(runes) {
		c := runes[i]
		if c == '\\' && i+1 < len(runes) {
			i += 2
			continue
		}
		if c == '=' || c == ':' || c == ' ' || c == '\t' || c == '\f' {
			key = string(runes[:i])
			rest := runes[i:]
			// skip one separator plus any additional whitespace before the value
			j := 0
			skippedAssign := false
			for j < len(rest) {
				if (rest[j] == ' ' || rest[j] == '\t' || rest[j] == '\f') && !skippedAssign {
					j++
					continue
				}
				if (rest[j] == '=' || rest[j] == ':') && !skippedAssign {
					skippedAssign = true
					j++
					continue
				}
				if (rest[j] == ' ' || rest[j] == '\t' || rest[j] == '\f') && skippedAssign {
					j++
					continue
				}
				break
			}
			value = string(rest[j:])
			return key, value, nil
		}
		i++
	}
	return line, "", nil
}

// decodeEscapes resolves \u#### unicode escapes and common backslash
// escapes (\t, \n, \r, \f, \\, \=, \:, \space) in s.
func decodeEscapes(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '\\' || i+1 >= len(runes) {
			b.WriteRune(runes[i])
			continue
		}
		next := runes[i+1]
		switch next {
		case 'u':
			if i+5 >= len(runes) {
				return "", errkind.New(errkind.InvalidConfiguration, "config: truncated \\u escape")
			}
			hex := string(runes[i+2 : i+6])
			v, err := strconv.ParseUint(hex, 16, 32)
			if err != nil {
				return "", errkind.Wrap(errkind.InvalidConfiguration, "config: invalid \\u escape", err)
			}
			b.WriteRune(rune(v))
			i += 5
		case 't':
			b.WriteRune('\t')
			i++
		case 'n':
			b.WriteRune('\n')
			i++
		case 'r':
			b.WriteRune('\r')
			i++
		case 'f':
			b.WriteRune('\f')
			i++
		default:
			b.WriteRune(next)
			i++
		}
	}
	return b.String(), nil
}
