// Package transcript parses stored conversation and project payloads into a
// provider-neutral document used by search and rendering.
package transcript

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hpungsan/chatkeep/internal/identity"
	"github.com/hpungsan/chatkeep/internal/layout"
)

// Role is who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Block is one content block of a message.
type Block struct {
	Type string
	Text string
}

// Message is one turn of a conversation.
type Message struct {
	Role        Role
	Timestamp   time.Time
	Text        string
	Content     []Block
	Attachments int
	Files       int
}

// ExtraText returns text blocks whose text differs from the message text.
func (m Message) ExtraText() []string {
	var out []string
	for _, b := range m.Content {
		if b.Type == "text" && b.Text != "" && b.Text != m.Text {
			out = append(out, b.Text)
		}
	}
	return out
}

// Doc is a knowledge file attached to a project.
type Doc struct {
	Filename string
	Content  string
}

// Document is a parsed stored record.
type Document struct {
	Provider  string
	Kind      identity.Kind
	UUID      string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Summary   string
	Messages  []Message

	Description    string
	PromptTemplate string
	Docs           []Doc

	// searchText holds texts that belong to the record but not to the
	// rendered branch (ChatGPT edits and regenerations).
	searchText []string
}

// Parse decodes a stored file. The identity trailer, when present, is
// authoritative for id, title and timestamps.
func Parse(provider string, kind identity.Kind, data []byte) (*Document, error) {
	doc := &Document{Provider: provider, Kind: kind}

	var err error
	switch {
	case kind == identity.KindProject:
		err = parseProject(doc, data)
	case provider == "chatgpt":
		err = parseChatGPT(doc, data)
	default:
		err = parseClaudeConversation(doc, data)
	}
	if err != nil {
		return nil, err
	}

	if tr, ok, _ := layout.DecodeTrailer(data); ok {
		doc.UUID = tr.EntityID
		doc.Title = tr.DisplayName
		if !tr.CreatedAt.IsZero() {
			doc.CreatedAt = tr.CreatedAt
		}
		if !tr.UpdatedAt.IsZero() {
			doc.UpdatedAt = tr.UpdatedAt
		}
	}
	return doc, nil
}

// Texts returns every searchable text of the record, in document order.
func (d *Document) Texts() []string {
	var texts []string
	add := func(s string) {
		if s != "" {
			texts = append(texts, s)
		}
	}

	add(d.Title)
	if d.Kind == identity.KindProject {
		add(d.Description)
		add(d.PromptTemplate)
		for _, doc := range d.Docs {
			add(doc.Filename)
			add(doc.Content)
		}
		return texts
	}

	add(d.Summary)
	for _, m := range d.Messages {
		add(m.Text)
		for _, b := range m.Content {
			add(b.Text)
		}
	}
	for _, s := range d.searchText {
		add(s)
	}
	return texts
}

type claudeConversation struct {
	UUID      string          `json:"uuid"`
	Name      string          `json:"name"`
	Summary   string          `json:"summary"`
	CreatedAt json.RawMessage `json:"created_at"`
	UpdatedAt json.RawMessage `json:"updated_at"`
	Messages  []struct {
		Sender    string          `json:"sender"`
		Text      string          `json:"text"`
		CreatedAt json.RawMessage `json:"created_at"`
		Content   []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Attachments []json.RawMessage `json:"attachments"`
		Files       []json.RawMessage `json:"files"`
	} `json:"chat_messages"`
}

func parseClaudeConversation(doc *Document, data []byte) error {
	var c claudeConversation
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("cannot parse conversation: %w", err)
	}
	doc.UUID = c.UUID
	doc.Title = c.Name
	doc.Summary = c.Summary
	doc.CreatedAt = parseTime(c.CreatedAt)
	doc.UpdatedAt = parseTime(c.UpdatedAt)

	for _, m := range c.Messages {
		msg := Message{
			Role:        RoleAssistant,
			Timestamp:   parseTime(m.CreatedAt),
			Text:        m.Text,
			Attachments: len(m.Attachments),
			Files:       len(m.Files),
		}
		if m.Sender == "human" {
			msg.Role = RoleUser
		}
		for _, b := range m.Content {
			msg.Content = append(msg.Content, Block{Type: b.Type, Text: b.Text})
		}
		doc.Messages = append(doc.Messages, msg)
	}
	return nil
}

type project struct {
	UUID           string          `json:"uuid"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	PromptTemplate string          `json:"prompt_template"`
	CreatedAt      json.RawMessage `json:"created_at"`
	UpdatedAt      json.RawMessage `json:"updated_at"`
	Docs           []struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	} `json:"docs"`
}

func parseProject(doc *Document, data []byte) error {
	var p project
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("cannot parse project: %w", err)
	}
	doc.UUID = p.UUID
	doc.Title = p.Name
	doc.Description = p.Description
	doc.PromptTemplate = p.PromptTemplate
	doc.CreatedAt = parseTime(p.CreatedAt)
	doc.UpdatedAt = parseTime(p.UpdatedAt)
	for _, d := range p.Docs {
		doc.Docs = append(doc.Docs, Doc{Filename: d.Filename, Content: d.Content})
	}
	return nil
}

func parseTime(raw json.RawMessage) time.Time {
	t, _, err := identity.ParseTime(raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// sortNodes orders mapping node ids by message create time, then id.
func sortNodes(ids []string, created map[string]float64) {
	sort.SliceStable(ids, func(i, j int) bool {
		ci, cj := created[ids[i]], created[ids[j]]
		if ci != cj {
			return ci < cj
		}
		return ids[i] < ids[j]
	})
}
