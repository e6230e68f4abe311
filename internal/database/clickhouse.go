package database

import (
	"attribution/internal/types"
	"context"
	"database/sql"
	"embed"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/golang-migrate/migrate/v4"
	clickmigrations "github.com/golang-migrate/migrate/v4/database/clickhouse"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/oschwald/geoip2-golang"
)

//go:embed migrations/clickhouse/*.sql
var migrationsClickHouseFS embed.FS

const (
	touchBufferSize = 1000
	touchBatchSize  = 100
	flushInterval   = 5 * time.Second
	unknownLocation = "Unknown"
)

type Analytics struct {
	db            *sql.DB
	touchesBuffer chan types.TouchData
	geo           *geoip2.Reader
	insert        func(ctx context.Context, touches []types.TouchData) error

	stop context.CancelFunc
	done chan struct{}
}

type ClickHouseConfig struct {
	Addr     string
	User     string
	Password string
	Database string
	GeoIPDB  string
}

func ConnectClickHouse(ctx context.Context, cfg ClickHouseConfig) (*Analytics, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: time.Second * 30,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}

	a := &Analytics{
		db:            conn,
		touchesBuffer: make(chan types.TouchData, touchBufferSize),
	}
	a.insert = a.recordTouches

	if cfg.GeoIPDB != "" {
		geodatabase, err := geoip2.Open(cfg.GeoIPDB)
		if err != nil {
			conn.Close()
			return nil, err
		}
		a.geo = geodatabase
	}

	if err := a.runMigrations(); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *Analytics) runMigrations() error {
	d, err := iofs.New(migrationsClickHouseFS, "migrations/clickhouse")
	if err != nil {
		return err
	}

	driver, err := clickmigrations.WithInstance(a.db, &clickmigrations.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance(
		"iofs", d,
		"clickhouse", driver,
	)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	slog.Info("ClickHouse migrations applied successfully")
	return nil
}

// Start runs the batching worker until ctx is done or Close is called.
// Touches still buffered at that point are flushed before the worker exits.
func (a *Analytics) Start(ctx context.Context) {
	ctx, a.stop = context.WithCancel(ctx)
	a.done = make(chan struct{})
	go a.worker(ctx)
}

func (a *Analytics) worker(ctx context.Context) {
	defer close(a.done)
	var buffer []types.TouchData
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func(ctx context.Context) {
		if len(buffer) == 0 {
			return
		}
		if err := a.insert(ctx, buffer); err != nil {
			slog.Warn("RecordTouches error", "error", err, "batch", len(buffer))
		}
		buffer = nil
	}

	for {
		select {
		case data := <-a.touchesBuffer:
			buffer = append(buffer, data)
			if len(buffer) >= touchBatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			buffer = append(buffer, a.drain()...)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), flushInterval)
			flush(shutdownCtx)
			cancel()
			return
		}
	}
}

func (a *Analytics) drain() []types.TouchData {
	var pending []types.TouchData
	for {
		select {
		case data := <-a.touchesBuffer:
			pending = append(pending, data)
		default:
			return pending
		}
	}
}

// Close stops the worker, waits for its final flush and closes the
// connections.
func (a *Analytics) Close() error {
	if a.stop != nil {
		a.stop()
		<-a.done
	}
	if a.geo != nil {
		err := a.geo.Close()
		if err != nil {
			return err
		}
	}
	return a.db.Close()
}

func (a *Analytics) recordTouches(ctx context.Context, touches []types.TouchData) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO touches
		(visitor_id, short_code, source, medium, campaign, landing_page, referrer, click_id, device_type, country, city, user_agent, touched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, data := range touches {
		country, city := a.locate(data.IP)
		t := data.Touch
		_, err = stmt.ExecContext(ctx,
			data.VisitorID, data.ShortCode, t.Source, t.Medium, t.Campaign, t.LandingPage,
			t.Referrer, t.ClickID, t.DeviceType, country, city, data.UserAgent, t.Timestamp)
		if err != nil {
			slog.Error("failed to exec insert for touch", "error", err, "visitor_id", data.VisitorID)
			continue
		}
	}
	return tx.Commit()
}

// locate resolves the first address of an X-Forwarded-For style list.
func (a *Analytics) locate(raw string) (country, city string) {
	country, city = unknownLocation, unknownLocation
	if a.geo == nil {
		return
	}
	first, _, _ := strings.Cut(raw, ",")
	ip := net.ParseIP(strings.TrimSpace(first))
	if ip == nil {
		return
	}
	record, err := a.geo.City(ip)
	if err != nil {
		return
	}
	if name, ok := record.City.Names["en"]; ok {
		city = name
	}
	if name, ok := record.Country.Names["en"]; ok {
		country = name
	}
	return
}

func (a *Analytics) PushTouch(data types.TouchData) {
	if a.stopped() {
		slog.Warn("Analytics worker stopped, dropping touch data", "visitor_id", data.VisitorID)
		return
	}
	select {
	case a.touchesBuffer <- data:
	default:
		slog.Warn("Analytics buffer full, dropping touch data", "visitor_id", data.VisitorID)
	}
}

func (a *Analytics) stopped() bool {
	if a.done == nil {
		return false
	}
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// ChannelBreakdown counts recorded touches per source and medium, for one
// campaign link or, with an empty code, for all traffic.
func (a *Analytics) ChannelBreakdown(ctx context.Context, shortCode string) ([]types.ChannelStat, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT source, medium, count() AS count, max(touched_at) AS last_at
		FROM touches
		WHERE ? = '' OR short_code = ?
		GROUP BY source, medium
		ORDER BY count DESC
		LIMIT 20`, shortCode, shortCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []types.ChannelStat
	for rows.Next() {
		var s types.ChannelStat
		if err := rows.Scan(&s.Source, &s.Medium, &s.Count, &s.LastAt); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
