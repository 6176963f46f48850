package events

import "time"

// Event types
const (
	PostcodeValidated = "postcode.validated"
	PostcodeRejected  = "postcode.rejected"
)

// Stream names
const (
	PostcodeEventsStream = "postcode.events"
)

// Base event structure
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// PostcodeLookupEvent is emitted once per lookup that reached the lookup
// service or the result cache. Format rejections are not published.
type PostcodeLookupEvent struct {
	Postcode          string `json:"postcode"`
	FormattedPostcode string `json:"formattedPostcode"`
	Outcome           string `json:"outcome"`
	Area              string `json:"area,omitempty"`
	Region            string `json:"region,omitempty"`
	Cached            bool   `json:"cached"`
}
