package provider

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/identity"
	"github.com/hpungsan/chatkeep/internal/layout"
)

// Claude reads claude.ai exports (data-*.zip).
type Claude struct{}

func (Claude) Name() string { return "claude" }

func (Claude) Matches(name string) bool {
	ok, _ := filepath.Match("data-*.zip", name)
	return ok
}

// claudeItem is the identity-bearing subset of a conversation or project.
type claudeItem struct {
	UUID      string          `json:"uuid"`
	Name      string          `json:"name"`
	CreatedAt json.RawMessage `json:"created_at"`
	UpdatedAt json.RawMessage `json:"updated_at"`
	Account   *claudeRef      `json:"account"`
	Creator   *claudeRef      `json:"creator"`
}

type claudeRef struct {
	UUID string `json:"uuid"`
}

func (c Claude) Extract(path string) (*Export, error) {
	archive := filepath.Base(path)
	var users, conversations, projects []json.RawMessage
	if err := readMembers(path, map[string]any{
		"users.json":         &users,
		"conversations.json": &conversations,
		"projects.json":      &projects,
	}); err != nil {
		return nil, err
	}

	if len(users) == 0 {
		return nil, errors.NewInvalidExport(archive, "users.json should contain a list of users")
	}
	var user map[string]json.RawMessage
	if err := json.Unmarshal(users[0], &user); err != nil {
		return nil, errors.NewInvalidExport(archive, "users.json: user should be an object")
	}
	if missing := requireFields(user, "email_address", "uuid"); len(missing) > 0 {
		return nil, errors.NewInvalidExport(archive, fmt.Sprintf("users.json: user missing required fields: %s", strings.Join(missing, ", ")))
	}
	email := stringField(user, "email_address")
	accountID := stringField(user, "uuid")
	if email == "" || accountID == "" {
		return nil, errors.NewInvalidExport(archive, "users.json: email_address and uuid must be non-empty strings")
	}
	if err := layout.ValidateSegment(email); err != nil {
		return nil, errors.NewInvalidExport(archive, fmt.Sprintf("account email: %v", err))
	}

	if err := checkFirst(archive, "conversations.json", conversations, "uuid", "name", "created_at", "account", "chat_messages"); err != nil {
		return nil, err
	}
	if err := checkFirst(archive, "projects.json", projects, "uuid", "name", "created_at", "creator"); err != nil {
		return nil, err
	}

	return &Export{
		Provider:      c.Name(),
		Archive:       archive,
		AccountEmail:  email,
		AccountID:     accountID,
		User:          users[0],
		Conversations: claudeRecords(identity.KindConversation, conversations),
		Projects:      claudeRecords(identity.KindProject, projects),
	}, nil
}

func claudeRecords(kind identity.Kind, items []json.RawMessage) []identity.Record {
	records := make([]identity.Record, 0, len(items))
	for _, raw := range items {
		records = append(records, claudeRecord(kind, raw))
	}
	return records
}

func claudeRecord(kind identity.Kind, raw json.RawMessage) identity.Record {
	rec := identity.Record{Kind: kind, Payload: raw}
	var item claudeItem
	if err := json.Unmarshal(raw, &item); err != nil {
		rec.Problem = fmt.Sprintf("cannot decode %s: %v", kind, err)
		return rec
	}
	rec.EntityID = item.UUID
	rec.Name = item.Name
	rec.CreatedAt = item.CreatedAt
	rec.UpdatedAt = item.UpdatedAt

	ref := item.Account
	if kind == identity.KindProject {
		ref = item.Creator
	}
	if ref != nil {
		rec.Account = &identity.AccountRef{UUID: ref.UUID}
	}
	return rec
}

func (Claude) LegacyIdentity(kind identity.Kind) layout.LegacyFunc {
	return func(data []byte) (layout.Trailer, bool) {
		rec := claudeRecord(kind, data)
		if rec.Problem != "" {
			return layout.Trailer{}, false
		}
		return legacyTrailer("claude", rec)
	}
}

func (Claude) ViewerURL(kind identity.Kind, entityID string) string {
	if kind == identity.KindProject {
		return "https://claude.ai/project/" + entityID
	}
	return "https://claude.ai/chat/" + entityID
}

// legacyTrailer builds a trailer for a stored payload that predates trailers.
// A missing account is left empty so the file is treated as in scope.
func legacyTrailer(provider string, rec identity.Record) (layout.Trailer, bool) {
	entityID, err := identity.CanonicalID(rec.EntityID)
	if err != nil {
		return layout.Trailer{}, false
	}
	created, _, _ := identity.ParseTime(rec.CreatedAt)
	updated, ok, _ := identity.ParseTime(rec.UpdatedAt)
	if !ok {
		updated = created
	}
	tr := layout.Trailer{
		EntityID:    entityID,
		Provider:    provider,
		Kind:        rec.Kind,
		DisplayName: rec.Name,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
	if rec.Account != nil {
		tr.AccountID = rec.Account.UUID
	}
	return tr, true
}
