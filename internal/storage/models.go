package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Post is a raw social post captured from the feed service.
type Post struct {
	ID       int64
	Platform string
	// SourceID is the platform-native identifier; (Platform, SourceID) is unique.
	SourceID  string
	Author    string
	Body      string
	URL       string
	PostedAt  time.Time
	FetchedAt time.Time
}

// Prediction is an immutable scored market call derived from a post.
type Prediction struct {
	ID         int64
	PostID     int64
	Preview    string
	Confidence decimal.Decimal
	Assets     []string
	Sentiment  string
	Thesis     string
	CreatedAt  time.Time
}

// AlertPreference filters which predictions reach a subscriber. Stored as
// JSONB; malformed stored JSON decodes to the zero value, which matches
// everything outside quiet hours.
type AlertPreference struct {
	MinConfidence     decimal.Decimal `json:"min_confidence"`
	AssetsOfInterest  []string        `json:"assets_of_interest"`
	SentimentFilter   string          `json:"sentiment_filter"`
	QuietHoursEnabled bool            `json:"quiet_hours_enabled"`
	QuietHoursStart   string          `json:"quiet_hours_start"`
	QuietHoursEnd     string          `json:"quiet_hours_end"`
}

// Subscriber 订阅者及其投递状态。Deactivation is soft; rows are never deleted.
type Subscriber struct {
	ID                int64
	ChannelID         string
	ChannelType       string
	Preferences       AlertPreference
	LastAlertAt       *time.Time
	AlertsSentCount   int
	ConsecutiveErrors int
	LastError         *string
	IsActive          bool
	CreatedAt         time.Time
}

// AlertRecord audits a delivered alert for the show command and retention.
type AlertRecord struct {
	ID           int64
	PredictionID int64
	SubscriberID int64
	Channel      string
	CreatedAt    time.Time
}
