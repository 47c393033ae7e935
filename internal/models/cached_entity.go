package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// CachedEntity is a reference record (e.g. a species) cached for offline reads.
type CachedEntity struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name,omitempty"`
	Data      json.RawMessage `db:"data" json:"data"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for CachedEntity.
func (CachedEntity) TableName() string {
	return "cached_entities"
}

// EntityFromJSON builds a CachedEntity from a raw record carrying an "id"
// field and, optionally, a "name" field.
func EntityFromJSON(raw json.RawMessage) (*CachedEntity, error) {
	var head struct {
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	id, err := idString(head.ID)
	if err != nil {
		return nil, err
	}
	return &CachedEntity{
		ID:   id,
		Name: head.Name,
		Data: append(json.RawMessage(nil), raw...),
	}, nil
}

func idString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("entity id is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("entity id is required")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("entity id must be a string or number")
}
