package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
)

type chatgptConversation struct {
	ID          string                 `json:"id"`
	Title       *string                `json:"title"`
	CreateTime  json.RawMessage        `json:"create_time"`
	UpdateTime  json.RawMessage        `json:"update_time"`
	CurrentNode string                 `json:"current_node"`
	Mapping     map[string]chatgptNode `json:"mapping"`

	// written by older versions alongside the native fields
	UUID string  `json:"uuid"`
	Name *string `json:"name"`
}

type chatgptNode struct {
	Parent  *string         `json:"parent"`
	Message *chatgptMessage `json:"message"`
}

type chatgptMessage struct {
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	CreateTime json.RawMessage `json:"create_time"`
	Content    struct {
		ContentType string            `json:"content_type"`
		Parts       []json.RawMessage `json:"parts"`
		Text        string            `json:"text"`
	} `json:"content"`
	Metadata struct {
		Attachments []json.RawMessage `json:"attachments"`
		Hidden      bool              `json:"is_visually_hidden_from_conversation"`
	} `json:"metadata"`
}

// texts returns the string parts of the message, plus the count of
// non-string parts (images and other assets).
func (m *chatgptMessage) texts() (parts []string, assets int) {
	for _, raw := range m.Content.Parts {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				parts = append(parts, s)
			}
			continue
		}
		assets++
	}
	if m.Content.Text != "" {
		parts = append(parts, m.Content.Text)
	}
	return parts, assets
}

func parseChatGPT(doc *Document, data []byte) error {
	var c chatgptConversation
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("cannot parse conversation: %w", err)
	}
	doc.UUID = c.ID
	if doc.UUID == "" {
		doc.UUID = c.UUID
	}
	switch {
	case c.Title != nil:
		doc.Title = *c.Title
	case c.Name != nil:
		doc.Title = *c.Name
	}
	doc.CreatedAt = parseTime(c.CreateTime)
	doc.UpdatedAt = parseTime(c.UpdateTime)

	branch := activeBranch(c)
	onBranch := make(map[string]bool, len(branch))
	for _, id := range branch {
		node := c.Mapping[id]
		m := node.Message
		if m == nil {
			continue
		}
		role := m.Author.Role
		if role == "system" || m.Metadata.Hidden {
			continue
		}
		parts, assets := m.texts()
		if len(parts) == 0 && assets == 0 && len(m.Metadata.Attachments) == 0 {
			continue
		}
		onBranch[id] = true

		msg := Message{
			Role:        RoleAssistant,
			Timestamp:   parseTime(m.CreateTime),
			Text:        strings.Join(parts, "\n\n"),
			Attachments: len(m.Metadata.Attachments),
			Files:       assets,
		}
		if role == "user" {
			msg.Role = RoleUser
		}
		doc.Messages = append(doc.Messages, msg)
	}

	// Every other message in the tree is still searchable.
	for _, id := range allNodes(c) {
		if onBranch[id] {
			continue
		}
		if m := c.Mapping[id].Message; m != nil {
			parts, _ := m.texts()
			doc.searchText = append(doc.searchText, parts...)
		}
	}
	return nil
}

// activeBranch returns node ids from the root to current_node. Without a
// usable current_node every node is returned in creation order.
func activeBranch(c chatgptConversation) []string {
	if _, ok := c.Mapping[c.CurrentNode]; !ok {
		return allNodes(c)
	}

	var path []string
	seen := make(map[string]bool)
	for id := c.CurrentNode; id != "" && !seen[id]; {
		node, ok := c.Mapping[id]
		if !ok {
			break
		}
		seen[id] = true
		path = append(path, id)
		if node.Parent == nil {
			break
		}
		id = *node.Parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func allNodes(c chatgptConversation) []string {
	ids := make([]string, 0, len(c.Mapping))
	created := make(map[string]float64, len(c.Mapping))
	for id, node := range c.Mapping {
		ids = append(ids, id)
		if node.Message != nil {
			if t := parseTime(node.Message.CreateTime); !t.IsZero() {
				created[id] = float64(t.UnixNano()) / 1e9
			}
		}
	}
	sortNodes(ids, created)
	return ids
}
