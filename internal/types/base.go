package types

import (
	"context"
	"time"
)

// Status is the soft-delete/archival status shared by all records
type Status string

const (
	StatusPublished Status = "published"
	StatusDeleted   Status = "deleted"
	StatusArchived  Status = "archived"
)

// BaseModel carries the tenant scoping and audit columns shared by every
// persisted record
type BaseModel struct {
	TenantID      string    `json:"tenant_id"`
	EnvironmentID string    `json:"environment_id"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	CreatedBy     string    `json:"created_by"`
	UpdatedBy     string    `json:"updated_by"`
}

// GetDefaultBaseModel returns a BaseModel populated from the context for a
// freshly created record
func GetDefaultBaseModel(ctx context.Context) BaseModel {
	now := time.Now().UTC()
	userID := GetUserID(ctx)
	return BaseModel{
		TenantID:      GetTenantID(ctx),
		EnvironmentID: GetEnvironmentID(ctx),
		Status:        StatusPublished,
		CreatedAt:     now,
		UpdatedAt:     now,
		CreatedBy:     userID,
		UpdatedBy:     userID,
	}
}
