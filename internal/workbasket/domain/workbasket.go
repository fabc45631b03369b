// Package domain defines workbaskets, the named routing targets that own
// tasks, and their access-control model.
package domain

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/workdesk/internal/platform/errors"
)

// Permission is a single grant on a workbasket access item.
type Permission string

const (
	// PermissionRead allows reading tasks in the workbasket.
	PermissionRead Permission = "READ"
	// PermissionOpen allows opening the workbasket in a client.
	PermissionOpen Permission = "OPEN"
	// PermissionAppend allows creating tasks in the workbasket.
	PermissionAppend Permission = "APPEND"
	// PermissionTransfer allows transferring tasks out of the workbasket.
	PermissionTransfer Permission = "TRANSFER"
	// PermissionDistribute allows distributing tasks to other workbaskets.
	PermissionDistribute Permission = "DISTRIBUTE"
)

// Workbasket is a named routing target with a key unique within a domain.
type Workbasket struct {
	Key      string
	Domain   string
	Name     string
	Owner    string
	Created  time.Time
	Modified time.Time
}

// AccessItem grants a permission set on a workbasket to one access id
// (a user id or a group id).
type AccessItem struct {
	WorkbasketKey string
	AccessID      string
	Permissions   []Permission
}

// HasAny reports whether the item grants at least one of the given permissions.
func (a AccessItem) HasAny(permissions ...Permission) bool {
	for _, granted := range a.Permissions {
		for _, wanted := range permissions {
			if granted == wanted {
				return true
			}
		}
	}
	return false
}

// CreateWorkbasketInput describes the metadata needed to create a workbasket.
type CreateWorkbasketInput struct {
	Key    string
	Domain string
	Name   string
	Owner  string
}

// CreateWorkbasket creates a new workbasket with creation timestamps.
func CreateWorkbasket(input CreateWorkbasketInput, now func() time.Time) (Workbasket, error) {
	if now == nil {
		now = time.Now
	}

	normalized, err := NormalizeCreateWorkbasketInput(input)
	if err != nil {
		return Workbasket{}, err
	}

	createdAt := now().UTC()
	return Workbasket{
		Key:      normalized.Key,
		Domain:   normalized.Domain,
		Name:     normalized.Name,
		Owner:    normalized.Owner,
		Created:  createdAt,
		Modified: createdAt,
	}, nil
}

// NormalizeCreateWorkbasketInput trims and validates workbasket metadata.
func NormalizeCreateWorkbasketInput(input CreateWorkbasketInput) (CreateWorkbasketInput, error) {
	input.Key = strings.TrimSpace(input.Key)
	input.Domain = strings.TrimSpace(input.Domain)
	input.Name = strings.TrimSpace(input.Name)
	input.Owner = strings.TrimSpace(input.Owner)
	if input.Key == "" {
		return CreateWorkbasketInput{}, apperrors.New(apperrors.CodeWorkbasketInvalid, "workbasket key is required")
	}
	if input.Domain == "" {
		return CreateWorkbasketInput{}, apperrors.New(apperrors.CodeWorkbasketInvalid, "workbasket domain is required")
	}
	if input.Name == "" {
		input.Name = input.Key
	}
	return input, nil
}

// NormalizeAccessItem trims and validates an access item.
func NormalizeAccessItem(item AccessItem) (AccessItem, error) {
	item.WorkbasketKey = strings.TrimSpace(item.WorkbasketKey)
	item.AccessID = strings.TrimSpace(item.AccessID)
	if item.WorkbasketKey == "" {
		return AccessItem{}, apperrors.New(apperrors.CodeWorkbasketInvalid, "access item workbasket key is required")
	}
	if item.AccessID == "" {
		return AccessItem{}, apperrors.New(apperrors.CodeWorkbasketInvalid, "access item access id is required")
	}
	return item, nil
}
