package database

import (
	"attribution/internal/types"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Database struct {
	db *sqlx.DB
}

func ConnectPostgres(ctx context.Context, url string) (*Database, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, err
	}

	pg := &Database{db: db}

	if err := pg.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}

	return pg, nil
}

func (db *Database) RunMigrations() error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	driver, err := postgres.WithInstance(db.db.DB, &postgres.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance(
		"iofs", d,
		"postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	slog.Info("Database migrations applied successfully")
	return nil
}

func (db *Database) CreateUser(ctx context.Context, telegramID int64) error {
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO users (telegram_id) VALUES ($1) ON CONFLICT (telegram_id) DO NOTHING`, telegramID)
	return err
}

func (db *Database) GetUserIDByTelegramID(ctx context.Context, telegramID int64) (int64, error) {
	var id int64
	err := db.db.GetContext(ctx, &id, `SELECT id FROM users WHERE telegram_id = $1`, telegramID)
	return id, err
}

// CreateLink stores a campaign link and returns its id; the short code is
// derived from the id and set afterwards with SetShortCode.
func (db *Database) CreateLink(ctx context.Context, link types.CampaignLink) (int64, error) {
	var id int64
	err := db.db.QueryRowxContext(ctx,
		`INSERT INTO campaign_links (user_id, original_link, utm_source, utm_medium, utm_campaign)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		link.UserID, link.OriginalLink, link.UtmSource, link.UtmMedium, link.UtmCampaign,
	).Scan(&id)
	return id, err
}

func (db *Database) SetShortCode(ctx context.Context, linkID int64, code string) error {
	_, err := db.db.ExecContext(ctx, `UPDATE campaign_links SET short_code = $1 WHERE id = $2`, code, linkID)
	return err
}

func (db *Database) GetLink(ctx context.Context, shortCode string) (*types.LinkCache, error) {
	var link types.CampaignLink
	err := db.db.GetContext(ctx, &link,
		`SELECT id, user_id, short_code, original_link, utm_source, utm_medium, utm_campaign, created_at
		 FROM campaign_links WHERE short_code = $1`, shortCode)
	if err != nil {
		return nil, err
	}
	return &types.LinkCache{OriginalLink: link.OriginalLink, UserID: link.UserID}, nil
}

func (db *Database) SaveConversion(ctx context.Context, c types.Conversion) (int64, error) {
	params, err := json.Marshal(c.Params)
	if err != nil {
		return 0, fmt.Errorf("encode conversion params: %w", err)
	}
	var id int64
	err = db.db.QueryRowxContext(ctx,
		`INSERT INTO conversions (visitor_id, form, page, params) VALUES ($1, $2, $3, $4::jsonb) RETURNING id`,
		c.VisitorID, c.Form, c.Page, string(params),
	).Scan(&id)
	return id, err
}

// ConversionsBySource counts conversions since the given time grouped by
// their last-touch source and medium.
func (db *Database) ConversionsBySource(ctx context.Context, since time.Time) ([]types.ChannelStat, error) {
	var stats []types.ChannelStat
	err := db.db.SelectContext(ctx, &stats,
		`SELECT COALESCE(params->>'lt_source', '(unknown)') AS source,
		        COALESCE(params->>'lt_medium', '(unknown)') AS medium,
		        COUNT(*) AS count,
		        MAX(created_at) AS last_at
		 FROM conversions
		 WHERE created_at >= $1
		 GROUP BY 1, 2
		 ORDER BY count DESC`, since)
	return stats, err
}

func (db *Database) Close() error {
	return db.db.Close()
}
