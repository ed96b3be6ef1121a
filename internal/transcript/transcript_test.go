package transcript

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/chatkeep/internal/identity"
	"github.com/hpungsan/chatkeep/internal/layout"
)

const claudeConversationJSON = `{
	"uuid": "1e5b1004-a220-4026-baa1-4d8c3328296b",
	"name": "Trip Plan",
	"summary": "Planning a trip to Lisbon",
	"created_at": "2025-01-05T10:00:00Z",
	"updated_at": "2025-01-05T11:00:00Z",
	"chat_messages": [
		{
			"sender": "human",
			"text": "Where should I stay?",
			"created_at": "2025-01-05T10:00:01Z",
			"content": [{"type": "text", "text": "Where should I stay?"}],
			"attachments": [{"file_name": "map.pdf"}],
			"files": []
		},
		{
			"sender": "assistant",
			"text": "Try Alfama.",
			"created_at": "2025-01-05T10:00:05Z",
			"content": [
				{"type": "text", "text": "Try Alfama."},
				{"type": "text", "text": "Or Baixa, closer to the river."},
				{"type": "tool_use", "text": ""}
			]
		}
	]
}`

const chatgptConversationJSON = `{
	"id": "4b8e4337-d553-4359-8dd4-70bf665b529e",
	"title": "Groceries",
	"create_time": 1736071200.5,
	"update_time": 1736074800.25,
	"current_node": "c",
	"mapping": {
		"root": {"id": "root", "parent": null, "children": ["sys"], "message": null},
		"sys": {"id": "sys", "parent": "root", "children": ["a"], "message": {
			"author": {"role": "system"}, "create_time": null,
			"content": {"content_type": "text", "parts": [""]}, "metadata": {}
		}},
		"a": {"id": "a", "parent": "sys", "children": ["b", "b2"], "message": {
			"author": {"role": "user"}, "create_time": 1736071201,
			"content": {"content_type": "text", "parts": ["What do I need for pancakes?"]}, "metadata": {}
		}},
		"b2": {"id": "b2", "parent": "a", "children": [], "message": {
			"author": {"role": "assistant"}, "create_time": 1736071202,
			"content": {"content_type": "text", "parts": ["An abandoned draft about waffles"]}, "metadata": {}
		}},
		"b": {"id": "b", "parent": "a", "children": ["c"], "message": {
			"author": {"role": "assistant"}, "create_time": 1736071203,
			"content": {"content_type": "text", "parts": ["Flour, eggs and milk."]}, "metadata": {}
		}},
		"c": {"id": "c", "parent": "b", "children": [], "message": {
			"author": {"role": "user"}, "create_time": 1736071204,
			"content": {"content_type": "multimodal_text", "parts": [{"content_type": "image_asset_pointer"}, "Like this?"]}, "metadata": {}
		}}
	}
}`

const projectJSON = `{
	"uuid": "3a7d3226-c442-4248-9cc3-6fae554a418d",
	"name": "Garden",
	"description": "Vegetable beds",
	"prompt_template": "You are a gardener.",
	"created_at": "2025-01-01T00:00:00Z",
	"docs": [{"filename": "beds.md", "content": "Tomatoes in bed 2"}]
}`

func TestParse_ClaudeConversation(t *testing.T) {
	doc, err := Parse("claude", identity.KindConversation, []byte(claudeConversationJSON))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Title != "Trip Plan" || doc.Summary != "Planning a trip to Lisbon" {
		t.Errorf("title/summary = %q/%q", doc.Title, doc.Summary)
	}
	if len(doc.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(doc.Messages))
	}
	user := doc.Messages[0]
	if user.Role != RoleUser || user.Attachments != 1 || user.Files != 0 {
		t.Errorf("user message = %+v", user)
	}
	if extra := user.ExtraText(); len(extra) != 0 {
		t.Errorf("ExtraText() = %v, want none (block equals text)", extra)
	}
	asst := doc.Messages[1]
	if asst.Role != RoleAssistant {
		t.Errorf("role = %s, want assistant", asst.Role)
	}
	if extra := asst.ExtraText(); len(extra) != 1 || extra[0] != "Or Baixa, closer to the river." {
		t.Errorf("ExtraText() = %v", extra)
	}
	if want := time.Date(2025, 1, 5, 10, 0, 5, 0, time.UTC); !asst.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", asst.Timestamp, want)
	}
}

func TestParse_TrailerIsAuthoritative(t *testing.T) {
	tr := layout.Trailer{
		EntityID:    "1e5b1004-a220-4026-baa1-4d8c3328296b",
		DisplayName: "Renamed Trip",
		CreatedAt:   time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC),
	}
	data, err := layout.Encode(json.RawMessage(claudeConversationJSON), tr)
	if err != nil {
		t.Fatal(err)
	}

	doc, err := Parse("claude", identity.KindConversation, data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Title != "Renamed Trip" || !doc.UpdatedAt.Equal(tr.UpdatedAt) {
		t.Errorf("doc = %q %v, want trailer values", doc.Title, doc.UpdatedAt)
	}
}

func TestParse_ChatGPT(t *testing.T) {
	doc, err := Parse("chatgpt", identity.KindConversation, []byte(chatgptConversationJSON))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.UUID != "4b8e4337-d553-4359-8dd4-70bf665b529e" || doc.Title != "Groceries" {
		t.Errorf("uuid/title = %s/%s", doc.UUID, doc.Title)
	}
	if got := doc.CreatedAt.Format("2006-01-02"); got != "2025-01-05" {
		t.Errorf("created = %s", got)
	}

	// root, system and the abandoned branch are not rendered
	if len(doc.Messages) != 3 {
		t.Fatalf("messages = %d, want 3: %+v", len(doc.Messages), doc.Messages)
	}
	roles := []Role{doc.Messages[0].Role, doc.Messages[1].Role, doc.Messages[2].Role}
	if roles[0] != RoleUser || roles[1] != RoleAssistant || roles[2] != RoleUser {
		t.Errorf("roles = %v", roles)
	}
	if doc.Messages[2].Text != "Like this?" || doc.Messages[2].Files != 1 {
		t.Errorf("multimodal message = %+v", doc.Messages[2])
	}

	// but every message in the tree is searchable
	all := strings.Join(doc.Texts(), "|")
	if !strings.Contains(all, "abandoned draft about waffles") {
		t.Errorf("Texts() missing off-branch message: %s", all)
	}
}

func TestParse_ChatGPTWithoutCurrentNode(t *testing.T) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(chatgptConversationJSON), &raw); err != nil {
		t.Fatal(err)
	}
	delete(raw, "current_node")
	data, _ := json.Marshal(raw)

	doc, err := Parse("chatgpt", identity.KindConversation, data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	// every non-system message in creation order
	if len(doc.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(doc.Messages))
	}
	if doc.Messages[1].Text != "An abandoned draft about waffles" {
		t.Errorf("order = %+v", doc.Messages)
	}
}

func TestParse_Project(t *testing.T) {
	doc, err := Parse("claude", identity.KindProject, []byte(projectJSON))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []string{"Garden", "Vegetable beds", "You are a gardener.", "beds.md", "Tomatoes in bed 2"}
	if got := doc.Texts(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Texts() = %v, want %v", got, want)
	}
}

func TestTexts_Conversation(t *testing.T) {
	doc, err := Parse("claude", identity.KindConversation, []byte(claudeConversationJSON))
	if err != nil {
		t.Fatal(err)
	}
	got := doc.Texts()
	want := []string{
		"Trip Plan",
		"Planning a trip to Lisbon",
		"Where should I stay?",
		"Where should I stay?",
		"Try Alfama.",
		"Try Alfama.",
		"Or Baixa, closer to the river.",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Texts() = %v, want %v", got, want)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("claude", identity.KindConversation, []byte(`[1,2]`)); err == nil {
		t.Error("Parse() of a list should fail")
	}
	if _, err := Parse("chatgpt", identity.KindConversation, []byte(`{"mapping": 3}`)); err == nil {
		t.Error("Parse() of a bad mapping should fail")
	}
}
