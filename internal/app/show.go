package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"pulse-alerts/internal/storage"
)

// Show prints recent predictions, or recent alert emissions with --alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Alerts {
		return showAlerts(ctx, store, opts.Limit)
	}
	return showPredictions(ctx, store, opts.Limit)
}

func showPredictions(ctx context.Context, store *storage.Store, limit int) error {
	predictions, err := store.ListRecentPredictions(ctx, limit)
	if err != nil {
		return err
	}
	if len(predictions) == 0 {
		fmt.Fprintln(os.Stdout, "no predictions found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tConfidence\tAssets\tSentiment\tPreview")

	for _, p := range predictions {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			p.CreatedAt.UTC().Format(time.RFC3339),
			p.Confidence.StringFixed(2),
			strings.Join(p.Assets, ","),
			p.Sentiment,
			truncateInline(p.Preview, 60),
		)
	}

	writer.Flush()
	return nil
}

func showAlerts(ctx context.Context, store *storage.Store, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPrediction\tSubscriber\tChannel")

	for _, rec := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%d\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.PredictionID,
			rec.SubscriberID,
			rec.Channel,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func truncateInline(v string, max int) string {
	runes := []rune(sanitizeInline(v))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max-1]) + "…"
}
