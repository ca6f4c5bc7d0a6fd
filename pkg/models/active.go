package models

import "time"

// ActiveMeta is the client-side record of an intent that has not reached a terminal state
type ActiveMeta struct {
	RefID       string    `json:"refId"`
	User        string    `json:"user"`
	Flow        Flow      `json:"flow,omitempty"`
	Status      Status    `json:"status,omitempty"`
	FromChainID int64     `json:"fromChainId,omitempty"`
	ToChainID   int64     `json:"toChainId,omitempty"`
	FromTxHash  string    `json:"fromTxHash,omitempty"`
	ToTxHash    string    `json:"toTxHash,omitempty"`
	MinAmount   string    `json:"minAmount,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Merge copies the non-zero fields of patch onto m
func (m *ActiveMeta) Merge(patch ActiveMeta) {
	if patch.User != "" {
		m.User = patch.User
	}
	if patch.Flow != "" {
		m.Flow = patch.Flow
	}
	if patch.Status != "" {
		m.Status = patch.Status
	}
	if patch.FromChainID != 0 {
		m.FromChainID = patch.FromChainID
	}
	if patch.ToChainID != 0 {
		m.ToChainID = patch.ToChainID
	}
	if patch.FromTxHash != "" {
		m.FromTxHash = patch.FromTxHash
	}
	if patch.ToTxHash != "" {
		m.ToTxHash = patch.ToTxHash
	}
	if patch.MinAmount != "" {
		m.MinAmount = patch.MinAmount
	}
	if !patch.CreatedAt.IsZero() {
		m.CreatedAt = patch.CreatedAt
	}
	if !patch.UpdatedAt.IsZero() {
		m.UpdatedAt = patch.UpdatedAt
	}
}
