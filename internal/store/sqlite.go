package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hackscraper/hackscraper/internal/model"
)

// SQLiteStore implements Store using sqlx over modernc.org/sqlite. It holds
// a single connection, so writers serialize and transactions never deadlock
// on the database file.
type SQLiteStore struct {
	db *sqlx.DB
	sqliteQueries
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{
		db:            db,
		sqliteQueries: sqliteQueries{q: db},
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id               TEXT PRIMARY KEY,
	url              TEXT NOT NULL UNIQUE,
	kind             TEXT NOT NULL CHECK (kind IN ('direct', 'aggregator')),
	strategy_id      TEXT NOT NULL,
	last_run_at      TEXT,
	next_due_at      TEXT NOT NULL,
	origin_source_id TEXT REFERENCES sources(id) ON DELETE SET NULL,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS hackathons (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL UNIQUE,
	image       TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	date        TEXT NOT NULL DEFAULT '',
	location    TEXT NOT NULL DEFAULT '',
	source_id   TEXT REFERENCES sources(id) ON DELETE SET NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS suggestions (
	id           TEXT PRIMARY KEY,
	hackathon_id TEXT NOT NULL REFERENCES hackathons(id) ON DELETE CASCADE,
	source_id    TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	image        TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	date         TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	fingerprint  TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	UNIQUE (hackathon_id, source_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_sources_next_due_at ON sources(next_due_at);
CREATE INDEX IF NOT EXISTS idx_sources_origin ON sources(origin_source_id);
CREATE INDEX IF NOT EXISTS idx_hackathons_source_id ON hackathons(source_id);
CREATE INDEX IF NOT EXISTS idx_suggestions_hackathon_id ON suggestions(hackathon_id);
CREATE INDEX IF NOT EXISTS idx_suggestions_source_id ON suggestions(source_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a database transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteQueries{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) CreateSource(ctx context.Context, src *model.Source) error {
	prepareSource(src, s.now())
	inserted, err := s.InsertSourceIfAbsent(ctx, src)
	if err != nil {
		return err
	}
	if !inserted {
		return eris.Wrapf(ErrConflict, "sqlite: source url %s", src.URL)
	}
	return nil
}

func (s *SQLiteStore) ListSources(ctx context.Context, filter model.SourceFilter) ([]model.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE 1=1`
	var args []any
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.OriginSourceID != "" {
		query += ` AND origin_source_id = ?`
		args = append(args, filter.OriginSourceID)
	}
	query += ` ORDER BY created_at, id LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	var rows []sourceRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	return sourceRowsToModel(rows), nil
}

func (s *SQLiteStore) ListDueSources(ctx context.Context, now time.Time) ([]model.Source, error) {
	var rows []sourceRow
	err := sqlx.SelectContext(ctx, s.db, &rows,
		`SELECT `+sourceColumns+` FROM sources WHERE next_due_at <= ? ORDER BY next_due_at, id`,
		sqliteTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list due sources")
	}
	return sourceRowsToModel(rows), nil
}

// UpdateSource rewrites url, kind and strategy. An aggregator that still
// owns discovered sources cannot become direct; that returns ErrConflict.
func (s *SQLiteStore) UpdateSource(ctx context.Context, src model.Source) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET url = ?, kind = ?, strategy_id = ? WHERE id = ?
		   AND (? = 'aggregator' OR NOT EXISTS (SELECT 1 FROM sources c WHERE c.origin_source_id = ?))`,
		src.URL, string(src.Kind), src.StrategyID, src.ID, string(src.Kind), src.ID,
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrConflict, "sqlite: source url %s", src.URL)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update source %s", src.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM sources WHERE id = ?)`, src.ID); err != nil {
		return eris.Wrapf(err, "sqlite: update source %s", src.ID)
	}
	if exists {
		return eris.Wrapf(ErrConflict, "sqlite: source %s still has discovered sources", src.ID)
	}
	return eris.Wrapf(ErrNotFound, "source %s", src.ID)
}

func (s *SQLiteStore) DeleteSource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete source %s", id)
	}
	return checkRowsAffected(res, "source", id)
}

func (s *SQLiteStore) ScheduleSource(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sources SET next_due_at = ? WHERE id = ?`, sqliteTime(at), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: schedule source %s", id)
	}
	return checkRowsAffected(res, "source", id)
}

func (s *SQLiteStore) CreateHackathon(ctx context.Context, h *model.Hackathon) error {
	prepareHackathon(h, s.now())
	inserted, err := s.InsertHackathonIfAbsent(ctx, h)
	if err != nil {
		return err
	}
	if !inserted {
		return eris.Wrapf(ErrConflict, "sqlite: hackathon url %s", h.URL)
	}
	return nil
}

func (s *SQLiteStore) ListHackathons(ctx context.Context, filter model.HackathonFilter) ([]model.Hackathon, error) {
	query := `SELECT ` + hackathonColumns + ` FROM hackathons WHERE 1=1`
	var args []any
	if filter.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, filter.SourceID)
	}
	query += ` ORDER BY created_at, id LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	var rows []hackathonRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: list hackathons")
	}
	out := make([]model.Hackathon, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *SQLiteStore) DeleteHackathon(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hackathons WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete hackathon %s", id)
	}
	return checkRowsAffected(res, "hackathon", id)
}

func (s *SQLiteStore) ListSuggestions(ctx context.Context, filter model.SuggestionFilter) ([]model.Suggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE 1=1`
	var args []any
	if filter.HackathonID != "" {
		query += ` AND hackathon_id = ?`
		args = append(args, filter.HackathonID)
	}
	if filter.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, filter.SourceID)
	}
	query += ` ORDER BY created_at, id LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	var rows []suggestionRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: list suggestions")
	}
	out := make([]model.Suggestion, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// sqliteQueries implements Tx against either the pool or an open transaction.
type sqliteQueries struct {
	q sqlx.ExtContext
}

const (
	sourceColumns     = `id, url, kind, strategy_id, last_run_at, next_due_at, origin_source_id, created_at`
	hackathonColumns  = `id, url, image, name, description, date, location, source_id, created_at`
	suggestionColumns = `id, hackathon_id, source_id, image, name, description, date, location, fingerprint, created_at`
)

func (q *sqliteQueries) GetSource(ctx context.Context, id string) (*model.Source, error) {
	var row sourceRow
	err := sqlx.GetContext(ctx, q.q, &row, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: source %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get source %s", id)
	}
	src := row.toModel()
	return &src, nil
}

func (q *sqliteQueries) InsertSourceIfAbsent(ctx context.Context, src *model.Source) (bool, error) {
	prepareSource(src, time.Now().UTC())
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO sources (`+sourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (url) DO NOTHING`,
		src.ID, src.URL, string(src.Kind), src.StrategyID, nullSQLiteTime(src.LastRunAt),
		sqliteTime(src.NextDueAt), src.OriginSourceID, sqliteTime(src.CreatedAt),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert source %s", src.URL)
	}
	return rowsInserted(res)
}

func (q *sqliteQueries) MarkSourceRun(ctx context.Context, id string, ranAt, nextDueAt time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE sources SET last_run_at = ?, next_due_at = ? WHERE id = ?`,
		sqliteTime(ranAt), sqliteTime(nextDueAt), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark source run %s", id)
	}
	return checkRowsAffected(res, "source", id)
}

func (q *sqliteQueries) GetHackathonByURL(ctx context.Context, url string) (*model.Hackathon, error) {
	var row hackathonRow
	err := sqlx.GetContext(ctx, q.q, &row, `SELECT `+hackathonColumns+` FROM hackathons WHERE url = ?`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get hackathon by url %s", url)
	}
	h := row.toModel()
	return &h, nil
}

func (q *sqliteQueries) GetHackathon(ctx context.Context, id string) (*model.Hackathon, error) {
	var row hackathonRow
	err := sqlx.GetContext(ctx, q.q, &row, `SELECT `+hackathonColumns+` FROM hackathons WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: hackathon %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get hackathon %s", id)
	}
	h := row.toModel()
	return &h, nil
}

func (q *sqliteQueries) InsertHackathonIfAbsent(ctx context.Context, h *model.Hackathon) (bool, error) {
	prepareHackathon(h, time.Now().UTC())
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO hackathons (`+hackathonColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (url) DO NOTHING`,
		h.ID, h.URL, h.Image, h.Name, h.Description, h.Date, h.Location, h.SourceID, sqliteTime(h.CreatedAt),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert hackathon %s", h.URL)
	}
	return rowsInserted(res)
}

func (q *sqliteQueries) UpdateHackathonFields(ctx context.Context, id string, f model.Fields) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE hackathons SET image = ?, name = ?, description = ?, date = ?, location = ? WHERE id = ?`,
		f.Image, f.Name, f.Description, f.Date, f.Location, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update hackathon %s", id)
	}
	return checkRowsAffected(res, "hackathon", id)
}

func (q *sqliteQueries) GetSuggestion(ctx context.Context, id string) (*model.Suggestion, error) {
	var row suggestionRow
	err := sqlx.GetContext(ctx, q.q, &row, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: suggestion %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get suggestion %s", id)
	}
	sg := row.toModel()
	return &sg, nil
}

func (q *sqliteQueries) InsertSuggestionIfAbsent(ctx context.Context, sg *model.Suggestion) (bool, error) {
	prepareSuggestion(sg, time.Now().UTC())
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO suggestions (`+suggestionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		sg.ID, sg.HackathonID, sg.SourceID, sg.Image, sg.Name, sg.Description, sg.Date, sg.Location,
		sg.Fingerprint, sqliteTime(sg.CreatedAt),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert suggestion for hackathon %s", sg.HackathonID)
	}
	return rowsInserted(res)
}

func (q *sqliteQueries) DeleteSuggestion(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM suggestions WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete suggestion %s", id)
	}
	return checkRowsAffected(res, "suggestion", id)
}

// rows

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteTime is stored as fixed-width UTC text so that comparing columns
// as strings orders them chronologically.
type sqliteTime time.Time

func (t sqliteTime) Value() (driver.Value, error) {
	return time.Time(t).UTC().Format(sqliteTimeLayout), nil
}

func (t *sqliteTime) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case time.Time:
		*t = sqliteTime(v.UTC())
		return nil
	default:
		return eris.Errorf("sqlite: cannot scan %T into time", src)
	}
	parsed, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	*t = sqliteTime(parsed.UTC())
	return nil
}

func nullSQLiteTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return sqliteTime(*t)
}

type sourceRow struct {
	ID             string      `db:"id"`
	URL            string      `db:"url"`
	Kind           string      `db:"kind"`
	StrategyID     string      `db:"strategy_id"`
	LastRunAt      *sqliteTime `db:"last_run_at"`
	NextDueAt      sqliteTime  `db:"next_due_at"`
	OriginSourceID *string     `db:"origin_source_id"`
	CreatedAt      sqliteTime  `db:"created_at"`
}

func (r sourceRow) toModel() model.Source {
	src := model.Source{
		ID:             r.ID,
		URL:            r.URL,
		Kind:           model.SourceKind(r.Kind),
		StrategyID:     r.StrategyID,
		NextDueAt:      time.Time(r.NextDueAt),
		OriginSourceID: r.OriginSourceID,
		CreatedAt:      time.Time(r.CreatedAt),
	}
	if r.LastRunAt != nil {
		t := time.Time(*r.LastRunAt)
		src.LastRunAt = &t
	}
	return src
}

func sourceRowsToModel(rows []sourceRow) []model.Source {
	out := make([]model.Source, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out
}

type hackathonRow struct {
	ID       string  `db:"id"`
	URL      string  `db:"url"`
	SourceID *string `db:"source_id"`
	model.Fields
	CreatedAt sqliteTime `db:"created_at"`
}

func (r hackathonRow) toModel() model.Hackathon {
	return model.Hackathon{
		ID:        r.ID,
		URL:       r.URL,
		SourceID:  r.SourceID,
		Fields:    r.Fields,
		CreatedAt: time.Time(r.CreatedAt),
	}
}

type suggestionRow struct {
	ID          string `db:"id"`
	HackathonID string `db:"hackathon_id"`
	SourceID    string `db:"source_id"`
	model.Fields
	Fingerprint string     `db:"fingerprint"`
	CreatedAt   sqliteTime `db:"created_at"`
}

func (r suggestionRow) toModel() model.Suggestion {
	return model.Suggestion{
		ID:          r.ID,
		HackathonID: r.HackathonID,
		SourceID:    r.SourceID,
		Fields:      r.Fields,
		Fingerprint: r.Fingerprint,
		CreatedAt:   time.Time(r.CreatedAt),
	}
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func rowsInserted(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
