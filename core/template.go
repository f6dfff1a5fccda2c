package core

import (
	"fmt"
	"sort"
	"strings"
)

// Template is a parsed placeholder string such as "blacklist:{account_no}" or
// "${rule_id}|${@id}".
//
// Token syntax:
//
//	{name}  ${name}  $name   placeholder (bare $name takes [A-Za-z0-9_] characters)
//	{{  }}  $$               literal '{', '}' and '$'
//
// Templates are parsed once at rule load time.
type Template struct {
	raw      string
	segments []segment
}

type segment struct {
	text        string
	placeholder bool
}

// ParseTemplate parses a template string
func ParseTemplate(raw string) (*Template, error) {
	t := &Template{raw: raw}
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '{':
			if i+1 < len(raw) && raw[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			name, end, err := readBraced(raw, i)
			if err != nil {
				return nil, err
			}
			flush()
			t.segments = append(t.segments, segment{text: name, placeholder: true})
			i = end
		case '}':
			if i+1 < len(raw) && raw[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("template %q: single '}' at offset %d", raw, i)
		case '$':
			if i+1 >= len(raw) {
				lit.WriteByte('$')
				continue
			}
			switch next := raw[i+1]; {
			case next == '$':
				lit.WriteByte('$')
				i++
			case next == '{':
				name, end, err := readBraced(raw, i+1)
				if err != nil {
					return nil, err
				}
				flush()
				t.segments = append(t.segments, segment{text: name, placeholder: true})
				i = end
			case isIdentByte(next):
				j := i + 1
				for j < len(raw) && isIdentByte(raw[j]) {
					j++
				}
				flush()
				t.segments = append(t.segments, segment{text: raw[i+1 : j], placeholder: true})
				i = j - 1
			default:
				lit.WriteByte('$')
			}
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

// MustParseTemplate is ParseTemplate for literals known to be valid
func MustParseTemplate(raw string) *Template {
	t, err := ParseTemplate(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func readBraced(raw string, open int) (string, int, error) {
	end := strings.IndexByte(raw[open+1:], '}')
	if end < 0 {
		return "", 0, fmt.Errorf("template %q: unterminated placeholder at offset %d", raw, open)
	}
	end += open + 1
	name := strings.TrimSpace(raw[open+1 : end])
	if name == "" {
		return "", 0, fmt.Errorf("template %q: empty placeholder at offset %d", raw, open)
	}
	if strings.ContainsRune(name, '{') {
		return "", 0, fmt.Errorf("template %q: nested '{' in placeholder at offset %d", raw, open)
	}
	return name, end, nil
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// String returns the template source
func (t *Template) String() string {
	return t.raw
}

// Placeholders returns the referenced names in order of first appearance
func (t *Template) Placeholders() []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range t.segments {
		if s.placeholder && !seen[s.text] {
			seen[s.text] = true
			names = append(names, s.text)
		}
	}
	return names
}

// Render substitutes placeholders from fields. A placeholder whose field is
// absent or nil yields a *TemplateError naming it.
func (t *Template) Render(fields map[string]interface{}) (string, error) {
	var b strings.Builder
	for _, s := range t.segments {
		if !s.placeholder {
			b.WriteString(s.text)
			continue
		}
		v, ok := fields[s.text]
		if !ok || v == nil {
			return "", &TemplateError{Template: t.raw, Missing: s.text, Available: sortedKeys(fields)}
		}
		b.WriteString(FormatValue(v))
	}
	return b.String(), nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
