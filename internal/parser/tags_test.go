package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/starford/marksite/internal/models"
)

func TestNormalizeTag(t *testing.T) {
	cases := map[string]string{
		"Rust":              "rust",
		"  web   dev ":      "web_dev",
		"Lang//Rust/":       "lang/rust",
		"STRASSE":           "strasse",
		"Café":              "café",
		"a / B c / d":       "a/b_c/d",
		"":                  "",
		"   ":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeTag(in), "NormalizeTag(%q)", in)
	}
}

func TestNormalizeTag_Idempotent(t *testing.T) {
	for _, in := range []string{"Rust", "Web Dev", "Lang/Rust", "ÅNGSTRÖM", "x/ y z /w"} {
		once := NormalizeTag(in)
		assert.Equal(t, once, NormalizeTag(once), "input %q", in)
	}
}

func TestNormalizeTag_CaseAndWhitespaceInsensitive(t *testing.T) {
	assert.Equal(t, NormalizeTag("Web Dev"), NormalizeTag("web  dev"))
	assert.Equal(t, NormalizeTag("RUST"), NormalizeTag("rust"))
}

func TestLabels(t *testing.T) {
	s, p := Labels(models.TagSource{Field: "tags"})
	assert.Equal(t, "Tag", s)
	assert.Equal(t, "Tags", p)

	s, p = Labels(models.TagSource{Field: "meta.reading_lists"})
	assert.Equal(t, "Reading List", s)
	assert.Equal(t, "Reading Lists", p)

	s, p = Labels(models.TagSource{Field: "people", Label: "Person", LabelPlural: "People"})
	assert.Equal(t, "Person", s)
	assert.Equal(t, "People", p)
}

func TestExpandTags_Dedup(t *testing.T) {
	tags := expandTags([]string{"a/b", "A", "a/b/c"})
	var got []string
	for _, tg := range tags {
		got = append(got, tg.Normalized)
	}
	assert.Equal(t, []string{"a", "a/b", "a/b/c"}, got)
}
