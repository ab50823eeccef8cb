package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"time"

	"shopmedia/internal/catalog"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"
)

// pageWriter stops writing after the first error so page bodies can be
// emitted without checking every write.
type pageWriter struct {
	w   io.Writer
	err error
}

func (p *pageWriter) raw(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

func (p *pageWriter) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}
		p.raw(`<!DOCTYPE html><html lang="ko"><head><meta charset="utf-8">`)
		p.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		p.printf("<title>%s</title>", html.EscapeString(title))
		// Pico.css via CDN.
		p.raw(`<link rel="stylesheet" href="https://unpkg.com/@picocss/pico@2/css/pico.min.css">`)
		p.raw(`</head><body><main class="container">`)
		if p.err != nil {
			return p.err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		p.raw("</main></body></html>")
		return p.err
	})
}

// GalleryPage lists recently stored uploads with an upload form on top.
// now is used for relative timestamps.
func GalleryPage(uploads []catalog.Upload, maxFileSize int64, now time.Time) templ.Component {
	return Layout("Shop media", templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &pageWriter{w: w}
		p.raw("<section><header><h1>Shop media</h1>")
		p.printf("<p>JPEG, PNG or WebP images up to %s each.</p></header>", humanize.IBytes(uint64(maxFileSize)))

		p.raw(`<form method="post" action="/api/upload/multiple" enctype="multipart/form-data">`)
		p.raw(`<input type="file" name="images" accept="image/jpeg,image/png,image/webp" multiple required>`)
		p.raw(`<button type="submit">Upload</button></form>`)

		if len(uploads) == 0 {
			p.raw("<p>No uploads yet.</p></section>")
			return p.err
		}

		p.raw("<table><thead><tr><th></th><th>Key</th><th>Size</th><th>Type</th><th>Backend</th><th>Uploaded</th></tr></thead><tbody>")
		for _, u := range uploads {
			p.printf(`<tr><td><a href="%[1]s"><img src="%[1]s" alt="%[2]s" width="96" loading="lazy"></a></td>`,
				html.EscapeString(u.URL), html.EscapeString(u.Key))
			p.printf("<td>%s</td><td>%s</td><td>%s</td><td>%s</td>",
				html.EscapeString(u.Key),
				humanize.IBytes(uint64(u.Size)),
				html.EscapeString(u.ContentType),
				html.EscapeString(u.Backend),
			)
			p.printf(`<td><time datetime="%s">%s</time></td></tr>`,
				u.CreatedAt.UTC().Format(time.RFC3339),
				humanize.RelTime(u.CreatedAt, now, "ago", "from now"))
		}
		p.raw("</tbody></table></section>")
		return p.err
	}))
}
