package models

import (
	"time"

	"github.com/toolhire/platform/shared/postcode"
)

// CountryGB is reported for every valid postcode, whichever constituent
// country the lookup service returned.
const CountryGB = "GB"

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ValidationResult is the outcome of validating one postcode. Region and City
// are administrative names from the lookup service, not postcode.Region.
type ValidationResult struct {
	IsValid           bool                 `json:"isValid"`
	Postcode          string               `json:"postcode"`
	FormattedPostcode string               `json:"formattedPostcode,omitempty"`
	Components        *postcode.Components `json:"components,omitempty"`
	Coordinates       *Coordinates         `json:"coordinates,omitempty"`
	Country           string               `json:"country,omitempty"`
	Region            string               `json:"region,omitempty"`
	City              string               `json:"city,omitempty"`
	Error             string               `json:"error,omitempty"`
	Message           string               `json:"message,omitempty"`
}

// Area returns the postcode area of a valid result, or "".
func (r *ValidationResult) Area() string {
	if r == nil || r.Components == nil {
		return ""
	}
	return r.Components.Area
}

// RegionCheck answers whether a postcode falls inside one of the named regions.
type RegionCheck struct {
	Postcode   string `json:"postcode"`
	Region     string `json:"region"`
	IsInRegion bool   `json:"isInRegion"`
	Area       string `json:"area,omitempty"`
	City       string `json:"city,omitempty"`
	Error      string `json:"error,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Lookup outcomes recorded in the audit log.
const (
	OutcomeValid           = "valid"
	OutcomeNotFound        = "not_found"
	OutcomeNotUK           = "not_uk"
	OutcomeInvalidResponse = "invalid_response"
)

// LookupRecord is one row of the postcode lookup audit log.
type LookupRecord struct {
	ID                string    `json:"id"`
	Postcode          string    `json:"postcode"`
	FormattedPostcode string    `json:"formattedPostcode"`
	Outcome           string    `json:"outcome"`
	Area              string    `json:"area,omitempty"`
	Region            string    `json:"region,omitempty"`
	Cached            bool      `json:"cached"`
	CreatedAt         time.Time `json:"createdTimestamp"`
}
