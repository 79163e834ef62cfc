package models

import "time"

type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch sets CreatedAt on first call and UpdatedAt on every call.
func (t *Timestamps) Touch(now time.Time) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

type SoftDelete struct {
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (s SoftDelete) IsDeleted() bool {
	return s.DeletedAt != nil
}

const DefaultCurrency = "NGN"
