package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"newswire/internal/news"
	"newswire/internal/storage"
	"newswire/pkg/logx"
)

// SQLStore persists subscriptions in the shared SQLite database.
type SQLStore struct {
	db  *storage.DB
	log logx.Logger
}

func NewSQLStore(db *storage.DB, log logx.Logger) *SQLStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SQLStore{db: db, log: log.With(logx.String("comp", "subs"))}
}

func (s *SQLStore) List(ctx context.Context) ([]Subscription, error) {
	query, args, err := sq.
		Select("endpoint_id", "regions", "categories", "languages").
		From("subscriptions").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("subscription: list: %w", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var endpoint, regions, categories, languages string
		if err := rows.Scan(&endpoint, &regions, &categories, &languages); err != nil {
			return nil, err
		}
		out = append(out, Subscription{
			EndpointID: endpoint,
			Regions:    splitRegions(regions),
			Categories: splitCategories(categories),
			Languages:  splitLanguages(languages),
		})
	}
	return out, rows.Err()
}

func (s *SQLStore) Put(ctx context.Context, sub Subscription) error {
	if strings.TrimSpace(sub.EndpointID) == "" {
		return fmt.Errorf("subscription: endpoint id is required")
	}
	query, args, err := sq.
		Insert("subscriptions").
		Columns("endpoint_id", "regions", "categories", "languages", "updated_at").
		Values(sub.EndpointID,
			joinRegions(sub.Regions),
			joinCategories(sub.Categories),
			joinLanguages(sub.Languages),
			time.Now().UTC().Format(time.RFC3339Nano)).
		Suffix(`ON CONFLICT(endpoint_id) DO UPDATE SET
			regions=excluded.regions,
			categories=excluded.categories,
			languages=excluded.languages,
			updated_at=excluded.updated_at`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.SQL().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("subscription: put %s: %w", sub.EndpointID, err)
	}
	s.log.Debug("subscription saved", logx.String("endpoint", sub.EndpointID))
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, endpointID string) error {
	query, args, err := sq.
		Delete("subscriptions").
		Where(sq.Eq{"endpoint_id": endpointID}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.SQL().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("subscription: remove %s: %w", endpointID, err)
	}
	return nil
}

// Set columns are stored comma-joined; empty string means wildcard.

func joinRegions(set []news.Region) string {
	parts := make([]string, 0, len(set))
	for _, v := range set {
		parts = append(parts, string(v))
	}
	return strings.Join(parts, ",")
}

func joinCategories(set []news.Category) string {
	parts := make([]string, 0, len(set))
	for _, v := range set {
		parts = append(parts, string(v))
	}
	return strings.Join(parts, ",")
}

func joinLanguages(set []news.Language) string {
	parts := make([]string, 0, len(set))
	for _, v := range set {
		parts = append(parts, string(v))
	}
	return strings.Join(parts, ",")
}

func splitRegions(s string) []news.Region {
	var out []news.Region
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, news.Region(p))
		}
	}
	return out
}

func splitCategories(s string) []news.Category {
	var out []news.Category
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, news.Category(p))
		}
	}
	return out
}

func splitLanguages(s string) []news.Language {
	var out []news.Language
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, news.Language(p))
		}
	}
	return out
}
