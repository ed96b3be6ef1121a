package render

import (
	"bytes"
	_ "embed"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/chatkeep/internal/identity"
	"github.com/hpungsan/chatkeep/internal/transcript"
)

//go:embed templates/view.html
var viewTemplate string

// md renders message text. Raw HTML in the source is omitted, never passed through.
var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

var viewTmpl = template.Must(template.New("view").Funcs(template.FuncMap{
	"formatTime": FormatTime,
	"markdown":   MarkdownHTML,
}).Parse(viewTemplate))

// MarkdownHTML converts Markdown text to sanitized HTML.
func MarkdownHTML(src string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

// htmlMessage is a message prepared for the view template.
type htmlMessage struct {
	Class       string
	Label       string
	Timestamp   string
	Bodies      []string
	Attachments int
	Files       int
}

type htmlView struct {
	Title     string
	Doc       *transcript.Document
	IsProject bool
	Messages  []htmlMessage
	Docs      []transcript.Doc
}

// newView builds the template data shared by the standalone page and the web UI.
func newView(doc *transcript.Document) htmlView {
	v := htmlView{
		Title:     title(doc),
		Doc:       doc,
		IsProject: doc.Kind == identity.KindProject,
		Docs:      doc.Docs,
	}
	for _, m := range doc.Messages {
		hm := htmlMessage{
			Class:       string(m.Role),
			Label:       senderLabel(m.Role),
			Timestamp:   FormatTime(m.Timestamp),
			Attachments: m.Attachments,
			Files:       m.Files,
		}
		if m.Text != "" {
			hm.Bodies = append(hm.Bodies, m.Text)
		}
		hm.Bodies = append(hm.Bodies, m.ExtraText()...)
		v.Messages = append(v.Messages, hm)
	}
	return v
}

// HTML renders doc as a standalone, styled HTML page.
func HTML(doc *transcript.Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := viewTmpl.Execute(&buf, newView(doc)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Body renders only the message (or project) section of doc, for embedding
// in another page.
func Body(doc *transcript.Document) (template.HTML, error) {
	var buf bytes.Buffer
	if err := viewTmpl.ExecuteTemplate(&buf, "body", newView(doc)); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
