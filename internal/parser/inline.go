package parser

import (
	"regexp"
	"strings"
)

var (
	wikilinkRe  = regexp.MustCompile(`\[\[([^\[\]\n]+?)\]\]`)
	inlineTagRe = regexp.MustCompile(`(^|\s)#(\p{L}[\p{L}\p{N}_/-]*)`)
)

// Wikilink is a parsed [[target#anchor|alias]] reference.
type Wikilink struct {
	Target string
	Anchor string
	Alias  string
}

// ParseWikilink splits the inner text of a wikilink.
func ParseWikilink(inner string) Wikilink {
	var w Wikilink
	target := inner
	if i := strings.Index(target, "|"); i >= 0 {
		w.Alias = strings.TrimSpace(target[i+1:])
		target = target[:i]
	}
	if i := strings.Index(target, "#"); i >= 0 {
		w.Anchor = strings.TrimSpace(target[i+1:])
		target = target[:i]
	}
	w.Target = strings.TrimSpace(target)
	return w
}

// Text returns the link text shown for the wikilink.
func (w Wikilink) Text() string {
	if w.Alias != "" {
		return w.Alias
	}
	if w.Target == "" {
		return w.Anchor
	}
	return w.Target
}

// ExtractWikilinks returns wikilinks outside code, deduplicated by target.
func ExtractWikilinks(body []byte) []Wikilink {
	seen := make(map[string]struct{})
	var out []Wikilink
	eachProseLine(body, func(line string) bool {
		for _, m := range wikilinkRe.FindAllStringSubmatch(stripInlineCodeSpans(line), -1) {
			w := ParseWikilink(m[1])
			if w.Target == "" {
				continue
			}
			if _, dup := seen[w.Target]; dup {
				continue
			}
			seen[w.Target] = struct{}{}
			out = append(out, w)
		}
		return true
	})
	return out
}

// ExtractInlineTags returns #tag values found outside code, in order.
func ExtractInlineTags(body []byte) []string {
	var out []string
	eachProseLine(body, func(line string) bool {
		for _, m := range inlineTagRe.FindAllStringSubmatch(stripInlineCodeSpans(line), -1) {
			out = append(out, strings.TrimRight(m[2], "/-"))
		}
		return true
	})
	return out
}

// Rewriter supplies link targets while rewriting a body. Returning "" leaves
// the original text in place.
type Rewriter struct {
	Wikilink  func(w Wikilink) string
	InlineTag func(tag string) string
}

// Rewrite replaces wikilinks and inline tags outside code with markdown links.
func Rewrite(body []byte, rw Rewriter) []byte {
	lines := strings.Split(string(body), "\n")
	fence := codeFence{}
	for i, line := range lines {
		if fence.skip(line) {
			continue
		}
		lines[i] = mapOutsideCode(line, func(seg string) string {
			if rw.Wikilink != nil {
				seg = wikilinkRe.ReplaceAllStringFunc(seg, func(m string) string {
					w := ParseWikilink(m[2 : len(m)-2])
					target := rw.Wikilink(w)
					if target == "" {
						return m
					}
					return "[" + escapeLinkText(w.Text()) + "](" + target + ")"
				})
			}
			if rw.InlineTag != nil {
				seg = inlineTagRe.ReplaceAllStringFunc(seg, func(m string) string {
					sub := inlineTagRe.FindStringSubmatch(m)
					tag := strings.TrimRight(sub[2], "/-")
					target := rw.InlineTag(tag)
					if target == "" {
						return m
					}
					return sub[1] + "[#" + tag + "](" + target + ")" + sub[2][len(tag):]
				})
			}
			return seg
		})
	}
	return []byte(strings.Join(lines, "\n"))
}

func escapeLinkText(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}

// codeFence tracks fenced and indented code blocks line by line.
type codeFence struct {
	in     bool
	active string
}

func (c *codeFence) skip(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, f := range []string{"```", "~~~"} {
		if strings.HasPrefix(trimmed, f) {
			c.in, c.active = toggleFencedBlock(c.in, c.active, f)
			return true
		}
	}
	return c.in || strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t")
}

func eachProseLine(body []byte, fn func(line string) bool) {
	fence := codeFence{}
	for _, line := range strings.Split(string(body), "\n") {
		if fence.skip(line) {
			continue
		}
		if !fn(line) {
			return
		}
	}
}

func toggleFencedBlock(inCodeBlock bool, activeFence string, fence string) (bool, string) {
	if !inCodeBlock {
		return true, fence
	}
	if activeFence == fence {
		return false, ""
	}
	return inCodeBlock, activeFence
}

func stripInlineCodeSpans(s string) string {
	return mapOutsideCode(s, func(seg string) string { return seg }, true)
}

// mapOutsideCode applies fn to the parts of s that are not inline code spans.
// Code spans are copied verbatim unless drop is set.
func mapOutsideCode(s string, fn func(string) string, drop ...bool) string {
	dropCode := len(drop) > 0 && drop[0]
	if !strings.Contains(s, "`") {
		return fn(s)
	}

	var out, seg strings.Builder
	out.Grow(len(s))
	flush := func() {
		if seg.Len() > 0 {
			out.WriteString(fn(seg.String()))
			seg.Reset()
		}
	}

	for i := 0; i < len(s); {
		if s[i] != '`' {
			seg.WriteByte(s[i])
			i++
			continue
		}

		run := 1
		for i+run < len(s) && s[i+run] == '`' {
			run++
		}

		marker := strings.Repeat("`", run)
		closeRel := strings.Index(s[i+run:], marker)
		if closeRel == -1 {
			// Unclosed code span; keep the backticks and continue.
			seg.WriteString(marker)
			i += run
			continue
		}

		flush()
		end := i + run + closeRel + run
		if dropCode {
			out.WriteByte(' ')
		} else {
			out.WriteString(s[i:end])
		}
		i = end
	}
	flush()
	return out.String()
}
