package ledger

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"newswire/internal/storage"
	"newswire/pkg/logx"
)

// SQLLedger stores delivery records in the shared SQLite database. The
// (item_id, endpoint_id, status) primary key makes InsertIfAbsent atomic.
type SQLLedger struct {
	db  *storage.DB
	log logx.Logger
}

func NewSQLLedger(db *storage.DB, log logx.Logger) *SQLLedger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SQLLedger{db: db, log: log.With(logx.String("comp", "ledger"))}
}

func (l *SQLLedger) Delivered(ctx context.Context, itemID, endpointID string) (bool, error) {
	query, args, err := sq.
		Select("1").
		From("deliveries").
		Where(sq.Eq{"item_id": itemID, "endpoint_id": endpointID, "status": string(StatusDelivered)}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, err
	}
	rows, err := l.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	exists := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return exists, nil
}

func (l *SQLLedger) InsertIfAbsent(ctx context.Context, rec Record) (bool, error) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	query, args, err := sq.
		Insert("deliveries").
		Columns("item_id", "endpoint_id", "status", "message_ref", "recorded_at").
		Values(rec.ItemID, rec.EndpointID, string(rec.Status), rec.MessageRef,
			rec.RecordedAt.UTC().Format(time.RFC3339Nano)).
		Suffix("ON CONFLICT(item_id, endpoint_id, status) DO NOTHING").
		ToSql()
	if err != nil {
		return false, err
	}
	res, err := l.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	inserted := n > 0
	if !inserted {
		l.log.Debug("duplicate delivery record suppressed",
			logx.String("item", rec.ItemID), logx.String("endpoint", rec.EndpointID))
	}
	return inserted, nil
}

func (l *SQLLedger) ByItem(ctx context.Context, itemID string) ([]Record, error) {
	query, args, err := sq.
		Select("item_id", "endpoint_id", "status", "message_ref", "recorded_at").
		From("deliveries").
		Where(sq.Eq{"item_id": itemID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := l.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var status, recordedAt string
		if err := rows.Scan(&rec.ItemID, &rec.EndpointID, &status, &rec.MessageRef, &recordedAt); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		if t, perr := time.Parse(time.RFC3339Nano, recordedAt); perr == nil {
			rec.RecordedAt = t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (l *SQLLedger) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := sq.
		Delete("deliveries").
		Where(sq.Lt{"recorded_at": cutoff.UTC().Format(time.RFC3339Nano)}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := l.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res.RowsAffected()
}
