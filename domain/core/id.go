package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	// Use UUID v7 for time-ordered, sortable IDs
	// Falls back to v4 if v7 is not available (for compatibility)
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	EstimateID ID
	DatasetID  ID
)

// String conversions for domain IDs
func (id EstimateID) String() string { return ID(id).String() }
func (id DatasetID) String() string  { return ID(id).String() }

// NewEstimateID creates a fresh estimate identifier
func NewEstimateID() EstimateID { return EstimateID(NewID()) }

// NewDatasetID creates a fresh dataset identifier
func NewDatasetID() DatasetID { return DatasetID(NewID()) }

// ParseEstimateID parses a string into EstimateID
func ParseEstimateID(s string) (EstimateID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("estimate ID cannot be empty")
	}
	return EstimateID(s), nil
}

// ParseDatasetID parses a string into DatasetID
func ParseDatasetID(s string) (DatasetID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("dataset ID cannot be empty")
	}
	return DatasetID(s), nil
}
