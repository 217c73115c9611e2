package model

import (
	"encoding/json"
	"errors"
)

// ErrListingNotFound is returned by the listing store when no listing matches.
var ErrListingNotFound = errors.New("listing not found")

// Listing is the raw listing document assembled from the marketplace tables.
// Fields are kept as a loose JSON document so normalization can apply fallbacks.
type Listing struct {
	ID       string          `json:"id"`
	Document json.RawMessage `json:"document"`
}

// AnalysisContext is the normalized input every analyzer receives.
type AnalysisContext struct {
	ListingID        string         `json:"listingId"`
	Title            string         `json:"title"`
	Industry         string         `json:"industry"`
	Location         string         `json:"location"`
	AskingPrice      float64        `json:"askingPrice"`
	AnnualRevenue    float64        `json:"annualRevenue"`
	EBITDA           float64        `json:"ebitda"`
	Employees        int            `json:"employees"`
	YearEstablished  int            `json:"yearEstablished"`
	BusinessType     string         `json:"businessType"`
	OwnerInvolvement string         `json:"ownerInvolvement"`
	ReasonForSelling string         `json:"reasonForSelling"`
	DocumentCount    int            `json:"documentCount"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	Demo             bool           `json:"demo"`
}
