package models

import "time"

// AnalyticsEvent is an append-only observability record. Never updated or
// deleted by the engine.
type AnalyticsEvent struct {
	ID          string                 `json:"id"`
	CommunityID string                 `json:"communityId"`
	Source      string                 `json:"source"` // always "platform" for engine events
	Name        string                 `json:"name"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}
