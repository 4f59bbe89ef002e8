package news

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"newswire/internal/storage"
	"newswire/pkg/logx"
)

var (
	ErrNotFound  = errors.New("news: item not found")
	ErrDuplicate = errors.New("news: near-duplicate of a recent item")
)

// Archive persists published items. Items are immutable after Insert; the
// archive exists for lookups and the submission-time duplicate guard, not
// for editing history.
type Archive struct {
	db  *storage.DB
	log logx.Logger

	// dupWindow bounds how far back InsertUnique scans for near-duplicates.
	dupWindow int
}

func NewArchive(db *storage.DB, log logx.Logger) *Archive {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Archive{db: db, log: log.With(logx.String("comp", "archive")), dupWindow: 50}
}

func (a *Archive) Insert(ctx context.Context, it Item) error {
	query, args, err := sq.
		Insert("news").
		Columns("id", "title", "description", "image_url", "credit", "reporter_id",
			"region", "category", "language", "published_at").
		Values(it.ID, it.Title, it.Description, it.ImageURL, it.Credit, it.ReporterID,
			string(it.Tags.Region), string(it.Tags.Category), string(it.Tags.Language),
			it.PublishedAt.UTC().Format(time.RFC3339Nano)).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := a.db.SQL().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("news: insert %s: %w", it.ID, err)
	}
	return nil
}

// InsertUnique inserts the item unless a recent item in the same language
// reads like the same story. Returns ErrDuplicate (with no write) when the
// guard trips.
func (a *Archive) InsertUnique(ctx context.Context, it Item) error {
	recent, err := a.RecentByLanguage(ctx, it.Tags.Language, a.dupWindow)
	if err != nil {
		return err
	}
	for _, old := range recent {
		if it.SimilarTo(old, DefaultSimilarityThreshold) {
			a.log.Info("duplicate item rejected",
				logx.String("item", it.ID),
				logx.String("existing", old.ID))
			return fmt.Errorf("%w (existing id %s)", ErrDuplicate, old.ID)
		}
	}
	return a.Insert(ctx, it)
}

func (a *Archive) GetByID(ctx context.Context, id string) (Item, error) {
	query, args, err := itemSelect().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return Item{}, err
	}
	row := a.db.SQL().QueryRowContext(ctx, query, args...)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return it, err
}

func (a *Archive) RecentByLanguage(ctx context.Context, lang Language, limit int) ([]Item, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	query, args, err := itemSelect().
		Where(sq.Eq{"language": string(lang)}).
		OrderBy("published_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	return a.queryItems(ctx, query, args)
}

// SearchQuery filters are ANDed; zero values are ignored.
type SearchQuery struct {
	Topic      string // substring of title
	Nation     string // substring of description
	ReporterID string
	Language   Language
	Category   Category
	Limit      int
}

func (a *Archive) Search(ctx context.Context, q SearchQuery) ([]Item, error) {
	b := itemSelect()
	if q.Topic != "" {
		b = b.Where(sq.Like{"title": "%" + q.Topic + "%"})
	}
	if q.Nation != "" {
		b = b.Where(sq.Like{"description": "%" + q.Nation + "%"})
	}
	if q.ReporterID != "" {
		b = b.Where(sq.Eq{"reporter_id": q.ReporterID})
	}
	if q.Language != "" {
		b = b.Where(sq.Eq{"language": string(q.Language)})
	}
	if q.Category != "" {
		b = b.Where(sq.Eq{"category": string(q.Category)})
	}
	limit := q.Limit
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	query, args, err := b.OrderBy("published_at DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, err
	}
	return a.queryItems(ctx, query, args)
}

// PruneOlderThan removes archived items older than the cutoff. Retention
// policy only.
func (a *Archive) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := sq.
		Delete("news").
		Where(sq.Lt{"published_at": cutoff.UTC().Format(time.RFC3339Nano)}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := a.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func itemSelect() sq.SelectBuilder {
	return sq.Select("id", "title", "description", "image_url", "credit", "reporter_id",
		"region", "category", "language", "published_at").
		From("news")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var it Item
	var region, category, language, publishedAt string
	err := row.Scan(&it.ID, &it.Title, &it.Description, &it.ImageURL, &it.Credit,
		&it.ReporterID, &region, &category, &language, &publishedAt)
	if err != nil {
		return Item{}, err
	}
	it.Tags = Tags{Region: Region(region), Category: Category(category), Language: Language(language)}
	if t, perr := time.Parse(time.RFC3339Nano, publishedAt); perr == nil {
		it.PublishedAt = t
	}
	return it, nil
}

func (a *Archive) queryItems(ctx context.Context, query string, args []any) ([]Item, error) {
	rows, err := a.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("news: query: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
