package layout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hpungsan/chatkeep/internal/identity"
)

// TrailerKey is the top-level key holding the identity trailer in a stored file.
const TrailerKey = "_chatkeep"

// Trailer is the identity metadata embedded in every stored file.
type Trailer struct {
	EntityID    string        `json:"entity_id"`
	AccountID   string        `json:"account_id"`
	Provider    string        `json:"provider"`
	Kind        identity.Kind `json:"kind"`
	DisplayName string        `json:"display_name"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	SyncedAt    time.Time     `json:"synced_at"`
}

// NewTrailer builds the trailer for a resolved identity.
func NewTrailer(provider string, id identity.Identity, syncedAt time.Time) Trailer {
	return Trailer{
		EntityID:    id.EntityID,
		AccountID:   id.AccountID,
		Provider:    provider,
		Kind:        id.Kind,
		DisplayName: id.DisplayName,
		CreatedAt:   id.CreatedAt,
		UpdatedAt:   id.UpdatedAt,
		SyncedAt:    syncedAt.UTC(),
	}
}

// Encode returns the stored form of payload: the payload object with the
// trailer appended as its last key, indented for reading. The payload must be
// a JSON object.
func Encode(payload json.RawMessage, tr Trailer) ([]byte, error) {
	body := bytes.TrimSpace(payload)
	if len(body) < 2 || body[0] != '{' || body[len(body)-1] != '}' {
		return nil, fmt.Errorf("payload is not a JSON object")
	}
	trailerJSON, err := json.Marshal(tr)
	if err != nil {
		return nil, err
	}

	inner := bytes.TrimSpace(body[1 : len(body)-1])
	var raw bytes.Buffer
	raw.WriteByte('{')
	if len(inner) > 0 {
		raw.Write(inner)
		raw.WriteByte(',')
	}
	fmt.Fprintf(&raw, "%q:", TrailerKey)
	raw.Write(trailerJSON)
	raw.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, raw.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// DecodeTrailer extracts the trailer from a stored file.
// ok is false when the file is valid JSON but carries no trailer.
func DecodeTrailer(data []byte) (tr Trailer, ok bool, err error) {
	var probe struct {
		Trailer *Trailer `json:"_chatkeep"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Trailer{}, false, err
	}
	if probe.Trailer == nil || probe.Trailer.EntityID == "" {
		return Trailer{}, false, nil
	}
	return *probe.Trailer, true, nil
}
