package provider

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/identity"
	"github.com/hpungsan/chatkeep/internal/layout"
)

// ChatGPT reads chatgpt.com exports ({64 hex}-YYYY-MM-DD-HH-MM-SS-{hex}.zip).
// Conversations carry no account block, so every record is bound to the
// archive's user. ChatGPT exports have no projects.
type ChatGPT struct{}

var chatgptArchiveName = regexp.MustCompile(`^[a-f0-9]{64}-\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2}-[a-f0-9]+\.zip$`)

func (ChatGPT) Name() string { return "chatgpt" }

func (ChatGPT) Matches(name string) bool {
	return chatgptArchiveName.MatchString(name)
}

// chatgptItem is the identity-bearing subset of a conversation. The uuid,
// name and created_at fields only appear in files written by older versions.
type chatgptItem struct {
	ID         string          `json:"id"`
	Title      *string         `json:"title"`
	CreateTime json.RawMessage `json:"create_time"`
	UpdateTime json.RawMessage `json:"update_time"`

	UUID      string          `json:"uuid"`
	Name      *string         `json:"name"`
	CreatedAt json.RawMessage `json:"created_at"`
}

func (c ChatGPT) Extract(path string) (*Export, error) {
	archive := filepath.Base(path)
	var conversations []json.RawMessage
	var userRaw json.RawMessage
	if err := readMembers(path, map[string]any{
		"conversations.json": &conversations,
		"user.json":          &userRaw,
	}); err != nil {
		return nil, err
	}

	var user map[string]json.RawMessage
	if err := json.Unmarshal(userRaw, &user); err != nil || user == nil {
		return nil, errors.NewInvalidExport(archive, "user.json should contain an object")
	}
	email := stringField(user, "email")
	accountID := stringField(user, "id")
	if email == "" {
		return nil, errors.NewInvalidExport(archive, "user.json: no email found")
	}
	if accountID == "" {
		return nil, errors.NewInvalidExport(archive, "user.json: no id found")
	}
	if err := layout.ValidateSegment(email); err != nil {
		return nil, errors.NewInvalidExport(archive, fmt.Sprintf("account email: %v", err))
	}

	if err := checkFirst(archive, "conversations.json", conversations, "id", "title", "create_time"); err != nil {
		return nil, err
	}

	records := make([]identity.Record, 0, len(conversations))
	for _, raw := range conversations {
		records = append(records, chatgptRecord(raw, false))
	}

	return &Export{
		Provider:      c.Name(),
		Archive:       archive,
		AccountEmail:  email,
		AccountID:     accountID,
		User:          userRaw,
		Conversations: records,
	}, nil
}

func chatgptRecord(raw json.RawMessage, legacy bool) identity.Record {
	rec := identity.Record{Kind: identity.KindConversation, Payload: raw}
	var item chatgptItem
	if err := json.Unmarshal(raw, &item); err != nil {
		rec.Problem = fmt.Sprintf("cannot decode conversation: %v", err)
		return rec
	}
	rec.EntityID = item.ID
	if item.Title != nil {
		rec.Name = *item.Title
	}
	rec.CreatedAt = item.CreateTime
	rec.UpdatedAt = item.UpdateTime

	if legacy {
		if rec.EntityID == "" {
			rec.EntityID = item.UUID
		}
		if item.Title == nil && item.Name != nil {
			rec.Name = *item.Name
		}
		if len(rec.CreatedAt) == 0 {
			rec.CreatedAt = item.CreatedAt
		}
	}
	return rec
}

func (ChatGPT) LegacyIdentity(kind identity.Kind) layout.LegacyFunc {
	return func(data []byte) (layout.Trailer, bool) {
		if kind != identity.KindConversation {
			return layout.Trailer{}, false
		}
		rec := chatgptRecord(data, true)
		if rec.Problem != "" {
			return layout.Trailer{}, false
		}
		return legacyTrailer("chatgpt", rec)
	}
}

func (ChatGPT) ViewerURL(kind identity.Kind, entityID string) string {
	if kind != identity.KindConversation {
		return ""
	}
	return "https://chatgpt.com/c/" + entityID
}
