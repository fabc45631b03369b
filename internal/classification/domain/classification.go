// Package domain defines classifications: domain-scoped metadata templates
// applied to new tasks. The same key may resolve differently per domain.
package domain

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/workdesk/internal/platform/errors"
)

// Classification carries the business metadata applied to new tasks.
type Classification struct {
	Key          string
	Domain       string
	Category     string
	Name         string
	Priority     int
	ServiceLevel string
	Created      time.Time
	Modified     time.Time
}

// CreateClassificationInput describes the metadata needed to create a classification.
type CreateClassificationInput struct {
	Key          string
	Domain       string
	Category     string
	Name         string
	Priority     int
	ServiceLevel string
}

// CreateClassification creates a new classification with creation timestamps.
func CreateClassification(input CreateClassificationInput, now func() time.Time) (Classification, error) {
	if now == nil {
		now = time.Now
	}

	normalized, err := NormalizeCreateClassificationInput(input)
	if err != nil {
		return Classification{}, err
	}

	createdAt := now().UTC()
	return Classification{
		Key:          normalized.Key,
		Domain:       normalized.Domain,
		Category:     normalized.Category,
		Name:         normalized.Name,
		Priority:     normalized.Priority,
		ServiceLevel: normalized.ServiceLevel,
		Created:      createdAt,
		Modified:     createdAt,
	}, nil
}

// NormalizeCreateClassificationInput trims and validates classification metadata.
func NormalizeCreateClassificationInput(input CreateClassificationInput) (CreateClassificationInput, error) {
	input.Key = strings.TrimSpace(input.Key)
	input.Domain = strings.TrimSpace(input.Domain)
	input.Name = strings.TrimSpace(input.Name)
	if input.Key == "" {
		return CreateClassificationInput{}, apperrors.New(apperrors.CodeClassificationInvalid, "classification key is required")
	}
	if input.Domain == "" {
		return CreateClassificationInput{}, apperrors.New(apperrors.CodeClassificationInvalid, "classification domain is required")
	}
	if input.Name == "" {
		input.Name = input.Key
	}
	return input, nil
}
