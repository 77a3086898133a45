package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

type dialect struct {
	driver string
	schema string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

var (
	sqliteDialect = dialect{
		driver: "sqlite",
		schema: `CREATE TABLE IF NOT EXISTS regions (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			name         TEXT    NOT NULL,
			state        TEXT    NOT NULL,
			city         TEXT    NOT NULL,
			neighborhood TEXT    NOT NULL,
			zip_code     TEXT    NOT NULL DEFAULT '',
			risk_level   TEXT    NOT NULL DEFAULT 'LOW',
			rain_level   REAL,
			temperature  REAL,
			is_risk_area BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at   BIGINT  NOT NULL DEFAULT 0
		)`,
	}
	postgresDialect = dialect{
		driver:   "pgx",
		numbered: true,
		schema: `CREATE TABLE IF NOT EXISTS regions (
			id           BIGSERIAL PRIMARY KEY,
			name         TEXT    NOT NULL,
			state        TEXT    NOT NULL,
			city         TEXT    NOT NULL,
			neighborhood TEXT    NOT NULL,
			zip_code     TEXT    NOT NULL DEFAULT '',
			risk_level   TEXT    NOT NULL DEFAULT 'LOW',
			rain_level   DOUBLE PRECISION,
			temperature  DOUBLE PRECISION,
			is_risk_area BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at   BIGINT  NOT NULL DEFAULT 0
		)`,
	}
)

func dialectFor(databaseURL string) dialect {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return postgresDialect
	}
	return sqliteDialect
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

const regionColumns = `id, name, state, city, neighborhood, zip_code, risk_level, rain_level, temperature, is_risk_area, updated_at`

// SQL is a RegionStore on database/sql.
type SQL struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to databaseURL and creates the schema if needed. URLs with a
// postgres:// or postgresql:// scheme use Postgres; anything else is handed to
// SQLite as a DSN (for example file:floodless.db or :memory:).
func Open(ctx context.Context, databaseURL string) (*SQL, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("database url is required")
	}
	d := dialectFor(databaseURL)

	db, err := sql.Open(d.driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", d.driver, err)
	}
	if d.driver == sqliteDialect.driver {
		// SQLite allows a single writer, and :memory: databases are per connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", d.driver, err)
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQL{db: db, dialect: d}, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQL) Get(ctx context.Context, id int64) (*domain.Region, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+regionColumns+` FROM regions WHERE id = ?`), id)
	r, err := scanRegion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get region %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get region %d: %w", id, err)
	}
	return r, nil
}

func (s *SQL) List(ctx context.Context) ([]*domain.Region, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+regionColumns+` FROM regions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	return out, nil
}

func (s *SQL) Save(ctx context.Context, r *domain.Region) error {
	args := []any{
		r.Name, r.State, r.City, r.Neighborhood, r.ZipCode,
		r.RiskLevel.String(),
		nullFloat(r.RainLevel),
		nullFloat(r.Temperature),
		r.IsRiskArea,
		toMillis(r.UpdatedAt),
	}

	if r.ID == 0 {
		query := s.dialect.rebind(`INSERT INTO regions
			(name, state, city, neighborhood, zip_code, risk_level, rain_level, temperature, is_risk_area, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`)
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&r.ID); err != nil {
			return fmt.Errorf("insert region: %w", err)
		}
		return nil
	}

	query := s.dialect.rebind(`INSERT INTO regions
		(id, name, state, city, neighborhood, zip_code, risk_level, rain_level, temperature, is_risk_area, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			city = excluded.city,
			neighborhood = excluded.neighborhood,
			zip_code = excluded.zip_code,
			risk_level = excluded.risk_level,
			rain_level = excluded.rain_level,
			temperature = excluded.temperature,
			is_risk_area = excluded.is_risk_area,
			updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, append([]any{r.ID}, args...)...); err != nil {
		return fmt.Errorf("save region %d: %w", r.ID, err)
	}
	return nil
}

func (s *SQL) UpdateClimate(ctx context.Context, id int64, c domain.Climate) error {
	query := s.dialect.rebind(`UPDATE regions SET
		risk_level = ?, rain_level = ?, temperature = ?, is_risk_area = ?, updated_at = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query,
		c.RiskLevel.String(),
		nullFloat(c.RainLevel),
		nullFloat(c.Temperature),
		c.IsRiskArea,
		toMillis(c.UpdatedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("update climate of region %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update climate of region %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update climate of region %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM regions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete region %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete region %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete region %d: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRegion(row scanner) (*domain.Region, error) {
	var (
		r           domain.Region
		level       string
		rain, temp  sql.NullFloat64
		updatedAtMs int64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.State, &r.City, &r.Neighborhood, &r.ZipCode,
		&level, &rain, &temp, &r.IsRiskArea, &updatedAtMs); err != nil {
		return nil, err
	}
	lvl, err := domain.ParseRiskLevel(level)
	if err != nil {
		return nil, err
	}
	r.RiskLevel = lvl
	if rain.Valid {
		r.RainLevel = &rain.Float64
	}
	if temp.Valid {
		r.Temperature = &temp.Float64
	}
	r.UpdatedAt = fromMillis(updatedAtMs)
	return &r, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
