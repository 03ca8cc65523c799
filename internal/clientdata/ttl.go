package clientdata

import "time"

// TTL constants for cached remote data.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Community listing changes with every like, but a slightly stale page is fine
	TTLCommunityListing = 5 * time.Minute
)
