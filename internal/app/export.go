package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"pulse-alerts/internal/storage"
)

// dayStats aggregates the predictions created on one UTC day.
type dayStats struct {
	Day           time.Time
	Count         int
	AvgConfidence decimal.Decimal
}

// Export renders prediction history as CSV and/or PNG, aggregated per day.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, 0, -30)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	predictions, err := store.ListPredictionsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(predictions) == 0 {
		a.Logger.Info().Msg("no predictions found for export window")
		return nil
	}

	days := aggregateByDay(predictions)
	days = downsampleDays(days, opts.MaxPoints)
	a.Logger.Info().Int("predictions", len(predictions)).Int("days", len(days)).Msg("exporting prediction history")

	if opts.CSVPath != "" {
		if err := writeDaysCSV(opts.CSVPath, days); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeDaysPNG(opts.PNGPath, days); err != nil {
			return err
		}
	}

	return nil
}

func aggregateByDay(predictions []storage.Prediction) []dayStats {
	byDay := make(map[time.Time]*dayStats)
	sums := make(map[time.Time]decimal.Decimal)

	for _, p := range predictions {
		day := p.CreatedAt.UTC().Truncate(24 * time.Hour)
		stats, ok := byDay[day]
		if !ok {
			stats = &dayStats{Day: day}
			byDay[day] = stats
		}
		stats.Count++
		sums[day] = sums[day].Add(p.Confidence)
	}

	days := make([]dayStats, 0, len(byDay))
	for day, stats := range byDay {
		stats.AvgConfidence = sums[day].Div(decimal.NewFromInt(int64(stats.Count)))
		days = append(days, *stats)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Day.Before(days[j].Day) })
	return days
}

func downsampleDays(days []dayStats, max int) []dayStats {
	if max <= 0 || len(days) <= max {
		return days
	}

	result := make([]dayStats, 0, max)
	step := float64(len(days)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(days) {
			idx = len(days) - 1
		}
		result = append(result, days[idx])
	}
	return result
}

func writeDaysCSV(path string, days []dayStats) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"day", "prediction_count", "avg_confidence"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, day := range days {
		record := []string{
			day.Day.Format("2006-01-02"),
			strconv.Itoa(day.Count),
			day.AvgConfidence.StringFixed(4),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeDaysPNG(path string, days []dayStats) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(days))
	counts := make([]float64, len(days))
	confidence := make([]float64, len(days))

	for i, day := range days {
		x[i] = day.Day
		counts[i] = float64(day.Count)
		confidence[i] = day.AvgConfidence.InexactFloat64()
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Predictions / day",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Avg confidence",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Predictions",
				XValues: x,
				YValues: counts,
			},
			chart.TimeSeries{
				Name:    "Avg confidence",
				XValues: x,
				YValues: confidence,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
