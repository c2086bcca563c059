package mcpserver

// PageFormatContract describes the Markdown page format the site generator
// understands, for LLM clients that read or draft pages.
const PageFormatContract = `# marksite Page Format

Every file with a configured markdown extension (default ` + "`" + `.md` + "`" + `) is a page.

## Structure

` + "```" + `markdown
---
title: Human-readable title     # OPTIONAL: falls back to the first heading, then the file name
description: One line summary   # OPTIONAL: shown in listings and search results
tags:                            # OPTIONAL: list or comma separated string
  - lang/go
  - tooling
---

# Heading {#custom-id .wide}

Body text in CommonMark with GitHub tables, strikethrough and task lists.
` + "```" + `

## Rules

1. **Frontmatter** is YAML between ` + "`" + `---` + "`" + ` fences at the very top of the file.
   A file without frontmatter is still a page.
2. **URLs**: ` + "`" + `docs/guide.md` + "`" + ` is served at ` + "`" + `/docs/guide/` + "`" + `. An index file
   (` + "`" + `index.md` + "`" + `, ` + "`" + `README.md` + "`" + `) is served at its folder url.
3. **Tags** are matched case-insensitively. ` + "`" + `a/b` + "`" + ` also tags the page with ` + "`" + `a` + "`" + `.
   Every tag source gets generated pages at ` + "`" + `/<field>/` + "`" + ` and ` + "`" + `/<field>/<tag>/` + "`" + `.
4. **Inline tags**: ` + "`" + `#tag` + "`" + ` in body text counts toward the inline tag source when one is configured.
5. **Links**: relative links to ` + "`" + `.md` + "`" + ` files are rewritten to page urls.
   ` + "`" + `[[page]]` + "`" + `, ` + "`" + `[[folder/page|alias]]` + "`" + ` and ` + "`" + `[[page#Heading]]` + "`" + ` resolve by file stem.
6. **Embeds**: a paragraph holding only a bare URL is replaced by its oEmbed card when the
   provider can be reached. Otherwise it stays a plain link.
7. **Assets**: non-markdown files are copied to the output unchanged and may be linked relatively.
   Files under the static folder are served from the site root.

## Example

` + "```" + `markdown
---
title: Release checklist
tags: [process, lang/go]
---

# Release checklist

Follow [[setup#Install steps|the setup notes]] first. #release

https://www.youtube.com/watch?v=dQw4w9WgXcQ

![Pipeline](img/pipeline.png)
` + "```" + `
`
