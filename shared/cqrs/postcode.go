package cqrs

// ---------- Postcode queries ----------

// ValidatePostcodeQuery validates a single raw postcode.
type ValidatePostcodeQuery struct {
	Postcode string
}

// CheckRegionQuery asks whether a postcode lies within a named region.
type CheckRegionQuery struct {
	Postcode string
	Region   string
}

// ValidateBatchQuery validates several postcodes; results keep input order.
type ValidateBatchQuery struct {
	Postcodes []string
}

// ListRecentLookupsQuery reads the newest rows of the lookup audit log.
type ListRecentLookupsQuery struct {
	Limit int
}

// ---------- Postcode commands ----------

// RecordLookupCommand appends one resolved lookup to the audit log.
type RecordLookupCommand struct {
	Postcode          string
	FormattedPostcode string
	Outcome           string
	Area              string
	Region            string
	Cached            bool
}
