// Package identity derives the stable identity of an incoming export record.
package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/chatkeep/internal/errors"
)

// Kind is the kind of entity an export record describes.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindProject      Kind = "project"
)

// Dir returns the account subdirectory holding entities of this kind.
func (k Kind) Dir() string {
	return string(k) + "s"
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindConversation || k == KindProject
}

// AccountRef is the per-record account block some providers embed
// (account.uuid on Claude conversations, creator.uuid on Claude projects).
type AccountRef struct {
	UUID string
}

// Record is a raw incoming entity as handed over by a provider extractor.
type Record struct {
	Kind      Kind
	EntityID  string
	Account   *AccountRef // nil when the provider does not embed one
	Name      string
	CreatedAt json.RawMessage
	UpdatedAt json.RawMessage
	Payload   json.RawMessage
	// Problem is set by an extractor when the raw item could not be decoded.
	Problem string
}

// Identity is the resolved, validated identity of a record.
type Identity struct {
	Kind        Kind
	EntityID    string
	AccountID   string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Resolve validates rec and binds it to an owning account.
// archiveAccountID is used when the record carries no account block of its own.
func Resolve(rec Record, archiveAccountID string) (Identity, error) {
	if rec.Problem != "" {
		return Identity{}, errors.NewMalformedRecord(rec.Problem)
	}
	entityID, err := CanonicalID(rec.EntityID)
	if err != nil {
		return Identity{}, err
	}

	// A per-record account block must carry a UUID. The archive account is
	// provider-issued and may be opaque (ChatGPT uses "user-..." ids).
	var accountID string
	if rec.Account != nil {
		id, err := uuid.Parse(strings.TrimSpace(rec.Account.UUID))
		if err != nil {
			return Identity{}, errors.NewMissingAccountBinding(entityID)
		}
		accountID = id.String()
	} else {
		accountID = NormalizeAccountID(archiveAccountID)
	}
	if accountID == "" {
		return Identity{}, errors.NewMissingAccountBinding(entityID)
	}

	createdAt, _, err := ParseTime(rec.CreatedAt)
	if err != nil {
		return Identity{}, errors.NewMalformedRecord(fmt.Sprintf("%s: created_at: %v", entityID, err))
	}
	updatedAt, ok, err := ParseTime(rec.UpdatedAt)
	if err != nil {
		return Identity{}, errors.NewMalformedRecord(fmt.Sprintf("%s: updated_at: %v", entityID, err))
	}
	if !ok {
		updatedAt = createdAt
	}

	return Identity{
		Kind:        rec.Kind,
		EntityID:    entityID,
		AccountID:   accountID,
		DisplayName: rec.Name,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// CanonicalID validates a provider-issued entity UUID and returns it in
// lowercase hyphenated form.
func CanonicalID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.NewMalformedRecord("entity id is missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", errors.NewMalformedRecord(fmt.Sprintf("entity id %q is not a valid UUID", raw))
	}
	return id.String(), nil
}

// NormalizeAccountID returns a UUID account id in canonical lowercase form
// and any other id trimmed but otherwise unchanged.
func NormalizeAccountID(raw string) string {
	raw = strings.TrimSpace(raw)
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	return raw
}

// SameAccount reports whether two account ids name the same account.
func SameAccount(a, b string) bool {
	return NormalizeAccountID(a) == NormalizeAccountID(b)
}

// Accepted timestamp layouts; zone-less forms are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime decodes an export timestamp: an ISO 8601 string or Unix seconds.
// present is false for a missing, null or empty value.
func ParseTime(raw json.RawMessage) (t time.Time, present bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, false, nil
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true, nil
			}
		}
		return time.Time{}, false, fmt.Errorf("unrecognised timestamp %q", s)
	}

	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, false, fmt.Errorf("unrecognised timestamp %s", raw)
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, false, fmt.Errorf("unrecognised timestamp %s", raw)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true, nil
}
