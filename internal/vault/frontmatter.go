package vault

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/ansuz/internal/models"
)

// fieldSetter assigns one recognized frontmatter value to its typed field.
type fieldSetter func(*models.Frontmatter, any)

// schema maps recognized frontmatter keys to their typed fields. Keys absent
// from this table are retained opaquely in Frontmatter.Extra.
var schema = map[string]fieldSetter{
	"type":       func(fm *models.Frontmatter, v any) { fm.Type = asString(v) },
	"created":    func(fm *models.Frontmatter, v any) { fm.Created = asString(v) },
	"status":     func(fm *models.Frontmatter, v any) { fm.Status = asString(v) },
	"trigger":    func(fm *models.Frontmatter, v any) { fm.Trigger = asString(v) },
	"confidence": func(fm *models.Frontmatter, v any) { fm.Confidence = asString(v) },
	"source":     func(fm *models.Frontmatter, v any) { fm.Source = asString(v) },
	"related":    func(fm *models.Frontmatter, v any) { fm.Related = asStringList(v) },
	"tags":       func(fm *models.Frontmatter, v any) { fm.Tags = asStringList(v) },
}

// ParseFrontmatter splits raw note content into a typed frontmatter and the
// Markdown body. It never fails: an absent or malformed header degrades to an
// empty frontmatter with the entire input as body, so user editing mistakes
// cannot block sync or querying.
func ParseFrontmatter(data []byte) (models.Frontmatter, string) {
	raw, body := splitHeader(data)
	if raw == nil {
		return models.Frontmatter{}, body
	}

	fm := models.Frontmatter{Raw: raw}
	for k, v := range raw {
		if set, ok := schema[k]; ok {
			set(&fm, v)
			continue
		}
		if fm.Extra == nil {
			fm.Extra = make(map[string]any)
		}
		fm.Extra[k] = v
	}
	return fm, body
}

// splitHeader separates the YAML header (between leading --- delimiters) from
// the body. If no header is found, or its YAML does not decode to a mapping,
// the whole input is body.
func splitHeader(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter: everything is body.
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var raw map[string]any
	if err := yaml.Unmarshal(yamlBlock, &raw); err != nil || raw == nil {
		return nil, string(data)
	}
	return raw, body
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// asStringList accepts either a YAML sequence of strings or a single scalar.
func asStringList(v any) []string {
	switch val := v.(type) {
	case []any:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}
		return []string{s}
	default:
		return nil
	}
}
