package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertPostSQL = `INSERT INTO posts (
        platform,
        source_id,
        author,
        body,
        url,
        posted_at,
        fetched_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (platform, source_id) DO NOTHING
    RETURNING id;`

	listPostsBetweenSQL = `SELECT
        id, platform, source_id, author, body, url, posted_at, fetched_at
    FROM posts
    WHERE posted_at >= $1
      AND posted_at < $2
    ORDER BY posted_at;`

	insertPredictionSQL = `INSERT INTO predictions (
        post_id,
        preview,
        confidence,
        assets,
        sentiment,
        thesis
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at;`

	listPredictionsSinceSQL = `SELECT
        id, post_id, preview, confidence, assets, sentiment, thesis, created_at
    FROM predictions
    WHERE created_at >= $1
    ORDER BY created_at;`

	listPredictionsBetweenSQL = `SELECT
        id, post_id, preview, confidence, assets, sentiment, thesis, created_at
    FROM predictions
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	listRecentPredictionsSQL = `SELECT
        id, post_id, preview, confidence, assets, sentiment, thesis, created_at
    FROM predictions
    ORDER BY created_at DESC
    LIMIT $1;`

	listActiveSubscribersSQL = `SELECT
        id, channel_id, channel_type, preferences, last_alert_at,
        alerts_sent_count, consecutive_errors, last_error, is_active, created_at
    FROM subscribers
    WHERE is_active
    ORDER BY id;`

	recordSendSuccessSQL = `UPDATE subscribers
    SET alerts_sent_count   = alerts_sent_count + 1,
        last_alert_at       = $2,
        consecutive_errors  = 0,
        last_error          = NULL
    WHERE id = $1;`

	recordSendFailureSQL = `UPDATE subscribers
    SET consecutive_errors = consecutive_errors + 1,
        last_error         = $2,
        is_active          = is_active AND (consecutive_errors + 1 < $3)
    WHERE id = $1;`

	insertAlertSQL = `INSERT INTO alerts (
        prediction_id,
        subscriber_id,
        channel
    ) VALUES (
        $1,$2,$3
    )
    RETURNING id, prediction_id, subscriber_id, channel, created_at;`

	listRecentAlertsSQL = `SELECT
        id, prediction_id, subscriber_id, channel, created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	getLastCheckSQL = `SELECT last_check FROM dispatch_cursor WHERE id = 1;`

	setLastCheckSQL = `INSERT INTO dispatch_cursor (id, last_check)
    VALUES (1, $1)
    ON CONFLICT (id) DO UPDATE SET last_check = EXCLUDED.last_check;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PostStore defines operations for raw post persistence.
type PostStore interface {
	InsertPost(ctx context.Context, post Post) (int64, bool, error)
	ListPostsBetween(ctx context.Context, from, to time.Time) ([]Post, error)
}

// PredictionStore defines operations for prediction persistence.
type PredictionStore interface {
	InsertPrediction(ctx context.Context, prediction Prediction) (Prediction, error)
	ListPredictionsSince(ctx context.Context, since time.Time) ([]Prediction, error)
	ListPredictionsBetween(ctx context.Context, from, to time.Time) ([]Prediction, error)
	ListRecentPredictions(ctx context.Context, limit int) ([]Prediction, error)
}

// SubscriberStore exposes the subscriber list and per-send outcome recording.
type SubscriberStore interface {
	ListActiveSubscribers(ctx context.Context) ([]Subscriber, error)
	RecordSendSuccess(ctx context.Context, subscriberID int64, at time.Time) error
	RecordSendFailure(ctx context.Context, subscriberID int64, reason string) error
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// CursorStore persists the dispatch polling cursor.
type CursorStore interface {
	GetLastCheck(ctx context.Context) (*time.Time, error)
	SetLastCheck(ctx context.Context, t time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to posts, predictions, subscribers, alerts, and
// the dispatch cursor.
type Store struct {
	pool *pgxpool.Pool
	// deactivateAfter soft-deactivates a subscriber once consecutive send
	// failures reach this count.
	deactivateAfter int
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, deactivateAfter int) *Store {
	if deactivateAfter <= 0 {
		deactivateAfter = 5
	}
	return &Store{pool: pool, deactivateAfter: deactivateAfter}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. The dispatch service holds it for the length of one cycle so
// concurrent cycles never interleave.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// InsertPost persists a post. The bool result reports whether a new row was
// created; a repeat fetch of the same (platform, source_id) is a no-op.
func (s *Store) InsertPost(ctx context.Context, post Post) (int64, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, false, err
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertPostSQL,
		post.Platform,
		post.SourceID,
		post.Author,
		post.Body,
		post.URL,
		post.PostedAt,
		post.FetchedAt,
	).Scan(&id)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if scanErr != nil {
		return 0, false, fmt.Errorf("insert post: %w", scanErr)
	}
	return id, true, nil
}

// ListPostsBetween lists posts within a posted_at window.
func (s *Store) ListPostsBetween(ctx context.Context, from, to time.Time) ([]Post, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPostsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list posts between: %w", queryErr)
	}
	defer rows.Close()

	posts := make([]Post, 0)
	for rows.Next() {
		var p Post
		if err := rows.Scan(
			&p.ID,
			&p.Platform,
			&p.SourceID,
			&p.Author,
			&p.Body,
			&p.URL,
			&p.PostedAt,
			&p.FetchedAt,
		); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return posts, nil
}

// InsertPrediction persists a scored prediction.
func (s *Store) InsertPrediction(ctx context.Context, prediction Prediction) (Prediction, error) {
	pool, err := s.getPool()
	if err != nil {
		return Prediction{}, err
	}

	row := pool.QueryRow(ctx, insertPredictionSQL,
		prediction.PostID,
		prediction.Preview,
		prediction.Confidence.String(),
		prediction.Assets,
		prediction.Sentiment,
		prediction.Thesis,
	)

	rec := prediction
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return Prediction{}, fmt.Errorf("insert prediction: %w", scanErr)
	}
	return rec, nil
}

// ListPredictionsSince lists predictions with created_at >= since, oldest
// first. The inclusive bound gives at-least-once delivery across cycles.
func (s *Store) ListPredictionsSince(ctx context.Context, since time.Time) ([]Prediction, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPredictionsSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list predictions since: %w", queryErr)
	}
	defer rows.Close()

	return collectPredictions(rows)
}

// ListPredictionsBetween lists predictions within a created_at window.
func (s *Store) ListPredictionsBetween(ctx context.Context, from, to time.Time) ([]Prediction, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPredictionsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list predictions between: %w", queryErr)
	}
	defer rows.Close()

	return collectPredictions(rows)
}

// ListRecentPredictions lists the most recent predictions, newest first.
func (s *Store) ListRecentPredictions(ctx context.Context, limit int) ([]Prediction, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPredictionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent predictions: %w", queryErr)
	}
	defer rows.Close()

	return collectPredictions(rows)
}

func collectPredictions(rows pgx.Rows) ([]Prediction, error) {
	predictions := make([]Prediction, 0)
	for rows.Next() {
		rec, scanErr := scanPrediction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		predictions = append(predictions, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return predictions, nil
}

func scanPrediction(rows pgx.Rows) (Prediction, error) {
	var (
		rec           Prediction
		confidenceStr string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.PostID,
		&rec.Preview,
		&confidenceStr,
		&rec.Assets,
		&rec.Sentiment,
		&rec.Thesis,
		&rec.CreatedAt,
	); err != nil {
		return Prediction{}, err
	}

	confidence, convErr := decimal.NewFromString(confidenceStr)
	if convErr != nil {
		return Prediction{}, fmt.Errorf("parse confidence: %w", convErr)
	}
	rec.Confidence = confidence
	return rec, nil
}

// ListActiveSubscribers lists subscribers eligible for dispatch. Malformed
// stored preferences fall back to the zero AlertPreference instead of
// failing the cycle.
func (s *Store) ListActiveSubscribers(ctx context.Context) ([]Subscriber, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveSubscribersSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active subscribers: %w", queryErr)
	}
	defer rows.Close()

	subscribers := make([]Subscriber, 0)
	for rows.Next() {
		var (
			sub         Subscriber
			prefsRaw    []byte
			lastAlertAt sql.NullTime
			lastError   sql.NullString
		)
		if err := rows.Scan(
			&sub.ID,
			&sub.ChannelID,
			&sub.ChannelType,
			&prefsRaw,
			&lastAlertAt,
			&sub.AlertsSentCount,
			&sub.ConsecutiveErrors,
			&lastError,
			&sub.IsActive,
			&sub.CreatedAt,
		); err != nil {
			return nil, err
		}

		if len(prefsRaw) > 0 {
			if err := json.Unmarshal(prefsRaw, &sub.Preferences); err != nil {
				sub.Preferences = AlertPreference{}
			}
		}
		if lastAlertAt.Valid {
			t := lastAlertAt.Time
			sub.LastAlertAt = &t
		}
		if lastError.Valid {
			msg := lastError.String
			sub.LastError = &msg
		}
		subscribers = append(subscribers, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subscribers, nil
}

// RecordSendSuccess applies the post-send subscriber mutations for a
// delivered alert.
func (s *Store) RecordSendSuccess(ctx context.Context, subscriberID int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, recordSendSuccessSQL, subscriberID, at); execErr != nil {
		return fmt.Errorf("record send success: %w", execErr)
	}
	return nil
}

// RecordSendFailure increments the consecutive failure counter and soft
// deactivates the subscriber once it reaches the configured ceiling.
func (s *Store) RecordSendFailure(ctx context.Context, subscriberID int64, reason string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, recordSendFailureSQL, subscriberID, reason, s.deactivateAfter); execErr != nil {
		return fmt.Errorf("record send failure: %w", execErr)
	}
	return nil
}

// InsertAlert persists an alert emission for auditing.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.PredictionID,
		alert.SubscriberID,
		alert.Channel,
	)

	var rec AlertRecord
	if scanErr := row.Scan(
		&rec.ID,
		&rec.PredictionID,
		&rec.SubscriberID,
		&rec.Channel,
		&rec.CreatedAt,
	); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.PredictionID,
			&rec.SubscriberID,
			&rec.Channel,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// GetLastCheck reads the dispatch cursor; nil means no cycle has completed.
func (s *Store) GetLastCheck(ctx context.Context) (*time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var last time.Time
	scanErr := pool.QueryRow(ctx, getLastCheckSQL).Scan(&last)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("get last check: %w", scanErr)
	}
	return &last, nil
}

// SetLastCheck advances the dispatch cursor.
func (s *Store) SetLastCheck(ctx context.Context, t time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, setLastCheckSQL, t); execErr != nil {
		return fmt.Errorf("set last check: %w", execErr)
	}
	return nil
}
