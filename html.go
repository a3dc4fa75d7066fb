package pdfdocx

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const htmlHeader = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: sans-serif; max-width: 50em; margin: 2em auto; }
table { border-collapse: collapse; }
td, th { border: 1px solid #999; padding: 0.25em 0.5em; }
img { max-width: 100%; }
</style>
</head>
<body>
`

const htmlFooter = "</body>\n</html>\n"

// HTMLWriter writes a standalone HTML preview by rendering the Markdown
// output with GitHub table support.
type HTMLWriter struct {
	md goldmark.Markdown
}

// NewHTMLWriter creates an HTML preview writer.
func NewHTMLWriter() *HTMLWriter {
	return &HTMLWriter{
		md: goldmark.New(goldmark.WithExtensions(extension.Table)),
	}
}

func (w *HTMLWriter) Write(out io.Writer, blocks []Block) error {
	var src bytes.Buffer
	if err := NewMarkdownWriter().Write(&src, blocks); err != nil {
		return err
	}

	if _, err := io.WriteString(out, htmlHeader); err != nil {
		return errors.Wrap(err, "failed to write html")
	}
	if err := w.md.Convert(src.Bytes(), out); err != nil {
		return errors.Wrap(err, "failed to render html")
	}
	_, err := io.WriteString(out, htmlFooter)
	return errors.Wrap(err, "failed to write html")
}
