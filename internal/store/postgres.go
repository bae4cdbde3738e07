package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/hackscraper/hackscraper/internal/db"
	"github.com/hackscraper/hackscraper/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
	pgQueries
	now     func() time.Time
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool), nil
}

func newPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{
		pool:      pool,
		pgQueries: pgQueries{q: pool},
		now:       func() time.Time { return time.Now().UTC() },
		closeFn:   pool.Close,
	}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	url              TEXT NOT NULL UNIQUE,
	kind             TEXT NOT NULL CHECK (kind IN ('direct', 'aggregator')),
	strategy_id      TEXT NOT NULL,
	last_run_at      TIMESTAMPTZ,
	next_due_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	origin_source_id TEXT REFERENCES sources(id) ON DELETE SET NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS hackathons (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	url         TEXT NOT NULL UNIQUE,
	image       TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	date        TEXT NOT NULL DEFAULT '',
	location    TEXT NOT NULL DEFAULT '',
	source_id   TEXT REFERENCES sources(id) ON DELETE SET NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS suggestions (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	hackathon_id TEXT NOT NULL REFERENCES hackathons(id) ON DELETE CASCADE,
	source_id    TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	image        TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	date         TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	fingerprint  TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (hackathon_id, source_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_sources_next_due_at ON sources(next_due_at);
CREATE INDEX IF NOT EXISTS idx_sources_origin ON sources(origin_source_id);
CREATE INDEX IF NOT EXISTS idx_hackathons_source_id ON hackathons(source_id);
CREATE INDEX IF NOT EXISTS idx_suggestions_hackathon_id ON suggestions(hackathon_id);
CREATE INDEX IF NOT EXISTS idx_suggestions_source_id ON suggestions(source_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// InTx runs fn inside a database transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgQueries{q: tx})
	})
}

func (s *PostgresStore) CreateSource(ctx context.Context, src *model.Source) error {
	prepareSource(src, s.now())
	inserted, err := s.InsertSourceIfAbsent(ctx, src)
	if err != nil {
		return err
	}
	if !inserted {
		return eris.Wrapf(ErrConflict, "postgres: source url %s", src.URL)
	}
	return nil
}

func (s *PostgresStore) ListSources(ctx context.Context, filter model.SourceFilter) ([]model.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE 1=1`
	var args []any
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += ` AND kind = ` + placeholder(len(args))
	}
	if filter.OriginSourceID != "" {
		args = append(args, filter.OriginSourceID)
		query += ` AND origin_source_id = ` + placeholder(len(args))
	}
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)
	query += ` ORDER BY created_at, id LIMIT ` + placeholder(len(args)-1) + ` OFFSET ` + placeholder(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	return collectSources(rows)
}

func (s *PostgresStore) ListDueSources(ctx context.Context, now time.Time) ([]model.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE next_due_at <= $1 ORDER BY next_due_at, id`,
		now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list due sources")
	}
	return collectSources(rows)
}

// UpdateSource rewrites url, kind and strategy. An aggregator that still
// owns discovered sources cannot become direct; that returns ErrConflict.
func (s *PostgresStore) UpdateSource(ctx context.Context, src model.Source) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET url = $1, kind = $2, strategy_id = $3 WHERE id = $4
		   AND ($2 = 'aggregator' OR NOT EXISTS (SELECT 1 FROM sources c WHERE c.origin_source_id = $4))`,
		src.URL, string(src.Kind), src.StrategyID, src.ID,
	)
	if isPgUnique(err) {
		return eris.Wrapf(ErrConflict, "postgres: source url %s", src.URL)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update source %s", src.ID)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sources WHERE id = $1)`, src.ID).Scan(&exists); err != nil {
		return eris.Wrapf(err, "postgres: update source %s", src.ID)
	}
	if exists {
		return eris.Wrapf(ErrConflict, "postgres: source %s still has discovered sources", src.ID)
	}
	return eris.Wrapf(ErrNotFound, "source %s", src.ID)
}

func (s *PostgresStore) DeleteSource(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete source %s", id)
	}
	return checkTag(tag, "source", id)
}

func (s *PostgresStore) ScheduleSource(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sources SET next_due_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: schedule source %s", id)
	}
	return checkTag(tag, "source", id)
}

func (s *PostgresStore) CreateHackathon(ctx context.Context, h *model.Hackathon) error {
	prepareHackathon(h, s.now())
	inserted, err := s.InsertHackathonIfAbsent(ctx, h)
	if err != nil {
		return err
	}
	if !inserted {
		return eris.Wrapf(ErrConflict, "postgres: hackathon url %s", h.URL)
	}
	return nil
}

func (s *PostgresStore) ListHackathons(ctx context.Context, filter model.HackathonFilter) ([]model.Hackathon, error) {
	query := `SELECT ` + hackathonColumns + ` FROM hackathons WHERE 1=1`
	var args []any
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
		query += ` AND source_id = ` + placeholder(len(args))
	}
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)
	query += ` ORDER BY created_at, id LIMIT ` + placeholder(len(args)-1) + ` OFFSET ` + placeholder(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list hackathons")
	}
	defer rows.Close()

	var out []model.Hackathon
	for rows.Next() {
		h, err := scanHackathon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate hackathons")
}

func (s *PostgresStore) DeleteHackathon(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM hackathons WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete hackathon %s", id)
	}
	return checkTag(tag, "hackathon", id)
}

func (s *PostgresStore) ListSuggestions(ctx context.Context, filter model.SuggestionFilter) ([]model.Suggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE 1=1`
	var args []any
	if filter.HackathonID != "" {
		args = append(args, filter.HackathonID)
		query += ` AND hackathon_id = ` + placeholder(len(args))
	}
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
		query += ` AND source_id = ` + placeholder(len(args))
	}
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)
	query += ` ORDER BY created_at, id LIMIT ` + placeholder(len(args)-1) + ` OFFSET ` + placeholder(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list suggestions")
	}
	defer rows.Close()

	var out []model.Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sg)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate suggestions")
}

// pgQueries implements Tx against either the pool or an open transaction.
type pgQueries struct {
	q db.Querier
}

var (
	sourceInsert = db.InsertConfig{
		Table:        "sources",
		Columns:      []string{"id", "url", "kind", "strategy_id", "last_run_at", "next_due_at", "origin_source_id", "created_at"},
		ConflictKeys: []string{"url"},
	}
	hackathonInsert = db.InsertConfig{
		Table:        "hackathons",
		Columns:      []string{"id", "url", "image", "name", "description", "date", "location", "source_id", "created_at"},
		ConflictKeys: []string{"url"},
	}
	suggestionInsert = db.InsertConfig{
		Table:        "suggestions",
		Columns:      []string{"id", "hackathon_id", "source_id", "image", "name", "description", "date", "location", "fingerprint", "created_at"},
		ConflictKeys: []string{"hackathon_id", "source_id", "fingerprint"},
	}
)

func (q *pgQueries) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := q.q.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	src, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: source %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get source %s", id)
	}
	return src, nil
}

func (q *pgQueries) InsertSourceIfAbsent(ctx context.Context, src *model.Source) (bool, error) {
	prepareSource(src, time.Now().UTC())
	return db.InsertIgnore(ctx, q.q, sourceInsert,
		src.ID, src.URL, string(src.Kind), src.StrategyID, utcPtr(src.LastRunAt),
		src.NextDueAt, src.OriginSourceID, src.CreatedAt,
	)
}

func (q *pgQueries) MarkSourceRun(ctx context.Context, id string, ranAt, nextDueAt time.Time) error {
	tag, err := q.q.Exec(ctx,
		`UPDATE sources SET last_run_at = $1, next_due_at = $2 WHERE id = $3`,
		ranAt.UTC(), nextDueAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark source run %s", id)
	}
	return checkTag(tag, "source", id)
}

func (q *pgQueries) GetHackathonByURL(ctx context.Context, url string) (*model.Hackathon, error) {
	row := q.q.QueryRow(ctx, `SELECT `+hackathonColumns+` FROM hackathons WHERE url = $1`, url)
	h, err := scanHackathon(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get hackathon by url %s", url)
	}
	return h, nil
}

func (q *pgQueries) GetHackathon(ctx context.Context, id string) (*model.Hackathon, error) {
	row := q.q.QueryRow(ctx, `SELECT `+hackathonColumns+` FROM hackathons WHERE id = $1`, id)
	h, err := scanHackathon(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: hackathon %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get hackathon %s", id)
	}
	return h, nil
}

func (q *pgQueries) InsertHackathonIfAbsent(ctx context.Context, h *model.Hackathon) (bool, error) {
	prepareHackathon(h, time.Now().UTC())
	return db.InsertIgnore(ctx, q.q, hackathonInsert,
		h.ID, h.URL, h.Image, h.Name, h.Description, h.Date, h.Location, h.SourceID, h.CreatedAt,
	)
}

func (q *pgQueries) UpdateHackathonFields(ctx context.Context, id string, f model.Fields) error {
	tag, err := q.q.Exec(ctx,
		`UPDATE hackathons SET image = $1, name = $2, description = $3, date = $4, location = $5 WHERE id = $6`,
		f.Image, f.Name, f.Description, f.Date, f.Location, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update hackathon %s", id)
	}
	return checkTag(tag, "hackathon", id)
}

func (q *pgQueries) GetSuggestion(ctx context.Context, id string) (*model.Suggestion, error) {
	row := q.q.QueryRow(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = $1`, id)
	sg, err := scanSuggestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: suggestion %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get suggestion %s", id)
	}
	return sg, nil
}

func (q *pgQueries) InsertSuggestionIfAbsent(ctx context.Context, sg *model.Suggestion) (bool, error) {
	prepareSuggestion(sg, time.Now().UTC())
	return db.InsertIgnore(ctx, q.q, suggestionInsert,
		sg.ID, sg.HackathonID, sg.SourceID, sg.Image, sg.Name, sg.Description, sg.Date, sg.Location,
		sg.Fingerprint, sg.CreatedAt,
	)
}

func (q *pgQueries) DeleteSuggestion(ctx context.Context, id string) error {
	tag, err := q.q.Exec(ctx, `DELETE FROM suggestions WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete suggestion %s", id)
	}
	return checkTag(tag, "suggestion", id)
}

// scanning

type pgScannable interface {
	Scan(dest ...any) error
}

func scanSource(row pgScannable) (*model.Source, error) {
	var src model.Source
	var kind string
	err := row.Scan(&src.ID, &src.URL, &kind, &src.StrategyID, &src.LastRunAt,
		&src.NextDueAt, &src.OriginSourceID, &src.CreatedAt)
	if err != nil {
		return nil, err
	}
	src.Kind = model.SourceKind(kind)
	return &src, nil
}

func collectSources(rows pgx.Rows) ([]model.Source, error) {
	defer rows.Close()
	var out []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		out = append(out, *src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate sources")
}

func scanHackathon(row pgScannable) (*model.Hackathon, error) {
	var h model.Hackathon
	err := row.Scan(&h.ID, &h.URL, &h.Image, &h.Name, &h.Description, &h.Date, &h.Location,
		&h.SourceID, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func scanSuggestion(row pgScannable) (*model.Suggestion, error) {
	var sg model.Suggestion
	err := row.Scan(&sg.ID, &sg.HackathonID, &sg.SourceID, &sg.Image, &sg.Name, &sg.Description,
		&sg.Date, &sg.Location, &sg.Fingerprint, &sg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sg, nil
}

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
