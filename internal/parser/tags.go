package parser

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/starford/marksite/internal/models"
)

// NormalizeTag returns the canonical key for a tag value: NFC, case-folded,
// inner whitespace replaced by "_" and empty hierarchy segments dropped.
// It is idempotent.
func NormalizeTag(s string) string {
	segs := splitSegments(s)
	fold := cases.Fold()
	for i, seg := range segs {
		segs[i] = fold.String(strings.Join(strings.Fields(seg), "_"))
	}
	return strings.Join(segs, "/")
}

// DisplayTag returns the reader-facing form of a tag value.
func DisplayTag(s string) string {
	segs := splitSegments(s)
	for i, seg := range segs {
		segs[i] = strings.Join(strings.Fields(seg), " ")
	}
	return strings.Join(segs, "/")
}

func splitSegments(s string) []string {
	s = norm.NFC.String(s)
	raw := strings.Split(s, "/")
	out := raw[:0]
	for _, seg := range raw {
		if strings.TrimSpace(seg) != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Labels returns the singular and plural labels for a tag source, deriving
// missing ones from the last segment of the field name.
func Labels(src models.TagSource) (singular, plural string) {
	plural = src.LabelPlural
	if plural == "" {
		base := src.Field
		if i := strings.LastIndex(base, "."); i >= 0 {
			base = base[i+1:]
		}
		words := strings.FieldsFunc(base, func(r rune) bool {
			return r == '_' || r == '-' || unicode.IsSpace(r)
		})
		plural = cases.Title(language.English).String(strings.Join(words, " "))
	}
	singular = src.Label
	if singular == "" {
		singular = strings.TrimSuffix(plural, "s")
	}
	return singular, plural
}

// tagValues accepts a YAML sequence or a comma-separated scalar.
func tagValues(v any) []string {
	switch t := v.(type) {
	case nil, *models.Frontmatter:
		return nil
	case string:
		var out []string
		for _, p := range strings.Split(t, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			switch s := item.(type) {
			case nil, *models.Frontmatter, []any:
			case string:
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

// expandTags normalizes values and adds hierarchy ancestors, deduplicated in
// order of first appearance.
func expandTags(values []string) []models.NormalizedTag {
	seen := make(map[string]struct{})
	var out []models.NormalizedTag
	for _, v := range values {
		n := strings.Split(NormalizeTag(v), "/")
		d := strings.Split(DisplayTag(v), "/")
		if len(n) == 0 || n[0] == "" || len(n) != len(d) {
			continue
		}
		for i := 1; i <= len(n); i++ {
			key := strings.Join(n[:i], "/")
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, models.NormalizedTag{Normalized: key, Display: strings.Join(d[:i], "/")})
		}
	}
	return out
}
