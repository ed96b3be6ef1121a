// Package render turns parsed transcripts into Markdown and standalone HTML.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/chatkeep/internal/identity"
	"github.com/hpungsan/chatkeep/internal/transcript"
)

// TimeLayout is the display form of timestamps in rendered views.
const TimeLayout = "2006-01-02 15:04:05 UTC"

// FormatTime renders t for display; the zero time renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func title(doc *transcript.Document) string {
	if doc.Title == "" {
		return "(untitled)"
	}
	return doc.Title
}

func senderLabel(r transcript.Role) string {
	if r == transcript.RoleUser {
		return "User"
	}
	return "Assistant"
}

// Markdown renders doc as a Markdown document.
func Markdown(doc *transcript.Document) string {
	lines := []string{
		fmt.Sprintf("# %s\n", title(doc)),
		fmt.Sprintf("**UUID:** `%s`  ", doc.UUID),
		fmt.Sprintf("**Created:** %s  ", FormatTime(doc.CreatedAt)),
		fmt.Sprintf("**Updated:** %s  ", FormatTime(doc.UpdatedAt)),
	}
	if doc.Summary != "" {
		lines = append(lines, fmt.Sprintf("**Summary:** %s  ", doc.Summary))
	}
	if doc.Kind == identity.KindProject && doc.Description != "" {
		lines = append(lines, fmt.Sprintf("**Description:** %s  ", doc.Description))
	}
	lines = append(lines, "\n---\n")

	if doc.Kind == identity.KindProject {
		lines = append(lines, projectMarkdown(doc)...)
		return strings.Join(lines, "\n")
	}

	for _, m := range doc.Messages {
		lines = append(lines,
			fmt.Sprintf("\n## **%s**\n", senderLabel(m.Role)),
			fmt.Sprintf("*%s*\n", FormatTime(m.Timestamp)),
		)
		if m.Text != "" {
			lines = append(lines, "\n"+m.Text+"\n")
		}
		for _, extra := range m.ExtraText() {
			lines = append(lines, "\n"+extra+"\n")
		}
		if m.Attachments > 0 {
			lines = append(lines, fmt.Sprintf("\n*Attachments: %d file(s)*\n", m.Attachments))
		}
		if m.Files > 0 {
			lines = append(lines, fmt.Sprintf("\n*Files: %d file(s)*\n", m.Files))
		}
		lines = append(lines, "\n---\n")
	}
	return strings.Join(lines, "\n")
}

func projectMarkdown(doc *transcript.Document) []string {
	var lines []string
	if doc.PromptTemplate != "" {
		lines = append(lines, "\n## Prompt template\n", doc.PromptTemplate+"\n")
	}
	if len(doc.Docs) > 0 {
		lines = append(lines, "\n## Documents\n")
		for _, d := range doc.Docs {
			lines = append(lines, fmt.Sprintf("\n### %s\n", d.Filename), d.Content+"\n", "\n---\n")
		}
	}
	return lines
}
