package models

import "encoding/json"

// Person is the payload of a contact entity.
type Person struct {
	ID      UUID   `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// PersonFromRecord unmarshals a person payload out of an entity envelope.
func PersonFromRecord(rec *EntityRecord) (*Person, error) {
	var p Person
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = rec.ID
	}
	return &p, nil
}

// ToRecord wraps the person in an entity envelope with the given sync state.
func (p *Person) ToRecord(version int64, updatedAt int64, status SyncStatus) (*EntityRecord, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &EntityRecord{
		ID:         p.ID,
		Type:       EntityTypePerson,
		Version:    version,
		UpdatedAt:  updatedAt,
		SyncStatus: status,
		Payload:    payload,
	}, nil
}
