package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/reelnote/internal/errors"
	"github.com/hpungsan/reelnote/internal/reel"
)

// Format is an export file format.
type Format string

const (
	FormatJSONL    Format = "jsonl"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat accepts a format name or common extension ("md", "htm").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "jsonl":
		return FormatJSONL, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	default:
		return "", errors.NewInvalidRequest(fmt.Sprintf("unknown export format %q (want jsonl, markdown or html)", s))
	}
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatJSONL, FormatMarkdown, FormatHTML:
		return true
	}
	return false
}

// Ext returns the file extension for f, including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatHTML:
		return ".html"
	default:
		return ".jsonl"
	}
}

func (f Format) write(w io.Writer, records []reel.Record, now time.Time) error {
	bw := bufio.NewWriter(w)
	var err error
	switch f {
	case FormatMarkdown:
		_, err = io.WriteString(bw, Markdown(records, now))
	case FormatHTML:
		err = writeHTML(bw, records, now)
	default:
		err = writeJSONL(bw, records, now)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

// Header is the first line of a JSONL export.
type Header struct {
	ReelnoteExport bool   `json:"_reelnote_export"`
	SchemaVersion  string `json:"schema_version"`
	ExportedAt     int64  `json:"exported_at"`
	Count          int    `json:"count"`
}

func writeJSONL(w io.Writer, records []reel.Record, now time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(Header{
		ReelnoteExport: true,
		SchemaVersion:  "1.0",
		ExportedAt:     now.Unix(),
		Count:          len(records),
	}); err != nil {
		return err
	}
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "[", `\[`, "]", `\]`, "*", `\*`, "_", `\_`, "`", "\\`", "<", `\<`, "#", `\#`,
)

// Markdown renders records grouped by category. Categories are sorted;
// records keep their store order within a category.
func Markdown(records []reel.Record, now time.Time) string {
	groups := make(map[string][]reel.Record)
	var names []string
	for _, r := range records {
		if _, ok := groups[r.Category]; !ok {
			names = append(names, r.Category)
		}
		groups[r.Category] = append(groups[r.Category], r)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# Saved reels\n\n")
	fmt.Fprintf(&b, "Exported %s. %d reel(s).\n", now.Format("2006-01-02 15:04"), len(records))

	for _, name := range names {
		group := groups[name]
		fmt.Fprintf(&b, "\n## %s (%d)\n\n", markdownEscaper.Replace(name), len(group))
		for _, r := range group {
			b.WriteString("- ")
			b.WriteString(markdownLink(r))
			if stamp := strings.TrimSpace(r.DateAdded + " " + r.TimeAdded); stamp != "" {
				fmt.Fprintf(&b, " (%s)", stamp)
			}
			b.WriteString("\n")
			if notes := strings.TrimSpace(r.Notes); notes != "" {
				fmt.Fprintf(&b, "  > %s\n", oneLine(markdownEscaper.Replace(notes)))
			}
		}
	}
	return b.String()
}

func markdownLink(r reel.Record) string {
	text := oneLine(r.Caption)
	if text == "" {
		text = r.URL
	}
	text = markdownEscaper.Replace(text)

	if strings.HasPrefix(r.URL, "http://") || strings.HasPrefix(r.URL, "https://") {
		if !strings.ContainsAny(r.URL, " <>") {
			return "[" + text + "](<" + r.URL + ">)"
		}
	}
	return text
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var htmlMarkdown = goldmark.New(goldmark.WithExtensions(extension.Linkify))

func writeHTML(w io.Writer, records []reel.Record, now time.Time) error {
	var body bytes.Buffer
	if err := htmlMarkdown.Convert([]byte(Markdown(records, now)), &body); err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}

	_, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
%s</body>
</html>
`, html.EscapeString("Saved reels"), body.String())
	return err
}
