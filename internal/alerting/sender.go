package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Alert 封装一次提醒的上下文。Immutable once constructed from a prediction.
type Alert struct {
	PredictionID int64
	Preview      string
	Confidence   decimal.Decimal
	Assets       []string
	Sentiment    string
	Thesis       string
	CreatedAt    time.Time
}

// Sender delivers one alert to one destination on a single channel type.
// Implementations own formatting and transport; callers only see the error
// contract.
type Sender interface {
	Send(ctx context.Context, target string, alert Alert) error
}

// renderText produces the plain-text body shared by the text-oriented
// channels.
func renderText(a Alert) string {
	builder := strings.Builder{}
	builder.WriteString("[PulseWatch Signal]\n")
	builder.WriteString(fmt.Sprintf("Confidence: %s\n", a.Confidence.StringFixed(2)))
	if len(a.Assets) > 0 {
		builder.WriteString(fmt.Sprintf("Assets: %s\n", strings.Join(a.Assets, ", ")))
	}
	if a.Sentiment != "" {
		builder.WriteString(fmt.Sprintf("Sentiment: %s\n", a.Sentiment))
	}
	builder.WriteString(fmt.Sprintf("Post: %s\n", a.Preview))
	if a.Thesis != "" {
		builder.WriteString(fmt.Sprintf("Thesis: %s\n", a.Thesis))
	}
	builder.WriteString(fmt.Sprintf("At: %s UTC", a.CreatedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}
