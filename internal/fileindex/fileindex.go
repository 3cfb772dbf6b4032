// Package fileindex wraps the SQLite index of an EBAS-style archive: one
// row per (file, variable) combination plus a station table. Readers
// resolve their file lists through it instead of walking the archive.
package fileindex

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

// Index is a queryable archive file index.
type Index struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open opens (or creates) the index database at path.
func Open(path string, logger zerolog.Logger) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open file index: %w", err)
	}

	// SQLite supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ix := &Index{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "fileindex").Logger(),
	}
	if err := ix.initDB(); err != nil {
		db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Index) initDB() error {
	_, err := ix.db.Exec(`
		CREATE TABLE IF NOT EXISTS station (
			station_code TEXT PRIMARY KEY,
			station_name TEXT NOT NULL,
			country TEXT,
			latitude REAL,
			longitude REAL,
			altitude REAL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create station table: %w", err)
	}

	_, err = ix.db.Exec(`
		CREATE TABLE IF NOT EXISTS variable (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL,
			station_code TEXT NOT NULL,
			comp_name TEXT NOT NULL,
			matrix TEXT,
			statistics TEXT,
			instrument TEXT,
			datalevel TEXT,
			first_start INTEGER,
			last_end INTEGER
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create variable table: %w", err)
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_variable_comp ON variable(comp_name)`,
		`CREATE INDEX IF NOT EXISTS idx_variable_station ON variable(station_code)`,
		`CREATE INDEX IF NOT EXISTS idx_variable_filename ON variable(filename)`,
	} {
		if _, err := ix.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (ix *Index) Close() error { return ix.db.Close() }

// Entry describes one (file, variable) combination for insertion.
type Entry struct {
	Filename    string
	StationCode string
	StationName string
	Country     string
	Latitude    float64
	Longitude   float64
	Altitude    float64
	CompName    string
	Matrix      string
	Statistics  string
	Instrument  string
	Datalevel   string
	FirstStart  time.Time
	LastEnd     time.Time
}

// AddEntry records one file/variable combination, upserting the station.
func (ix *Index) AddEntry(ctx context.Context, e Entry) error {
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO station (station_code, station_name, country, latitude, longitude, altitude)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_code) DO UPDATE SET
			station_name = excluded.station_name,
			country = excluded.country,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude = excluded.altitude
	`, e.StationCode, e.StationName, e.Country, e.Latitude, e.Longitude, e.Altitude)
	if err != nil {
		return fmt.Errorf("failed to upsert station %s: %w", e.StationCode, err)
	}

	_, err = ix.db.ExecContext(ctx, `
		INSERT INTO variable (filename, station_code, comp_name, matrix, statistics,
			instrument, datalevel, first_start, last_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Filename, e.StationCode, e.CompName, e.Matrix, e.Statistics,
		e.Instrument, e.Datalevel, e.FirstStart.Unix(), e.LastEnd.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert variable row for %s: %w", e.Filename, err)
	}
	return nil
}

// Criteria narrows a file query. Zero-valued fields do not constrain.
// Station names must be exact; wildcard expansion happens at the caller
// against Stations().
type Criteria struct {
	Variables    []string
	StationNames []string
	Matrices     []string
	Statistics   []string
	Datalevel    string
	Start        time.Time // keep files whose period ends at or after Start
	Stop         time.Time // keep files whose period starts at or before Stop
}

// String renders the criteria for log lines.
func (c Criteria) String() string {
	var parts []string
	if len(c.Variables) > 0 {
		parts = append(parts, "variables="+strings.Join(c.Variables, ","))
	}
	if len(c.StationNames) > 0 {
		parts = append(parts, "stations="+strings.Join(c.StationNames, ","))
	}
	if len(c.Matrices) > 0 {
		parts = append(parts, "matrices="+strings.Join(c.Matrices, ","))
	}
	if len(c.Statistics) > 0 {
		parts = append(parts, "statistics="+strings.Join(c.Statistics, ","))
	}
	if c.Datalevel != "" {
		parts = append(parts, "datalevel="+c.Datalevel)
	}
	if !c.Start.IsZero() {
		parts = append(parts, "start="+c.Start.Format("2006-01-02"))
	}
	if !c.Stop.IsZero() {
		parts = append(parts, "stop="+c.Stop.Format("2006-01-02"))
	}
	if len(parts) == 0 {
		return "all files"
	}
	return strings.Join(parts, "; ")
}

func inClause(col string, vals []string, where *[]string, args *[]any) {
	if len(vals) == 0 {
		return
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
	*where = append(*where, fmt.Sprintf("%s IN (%s)", col, marks))
	for _, v := range vals {
		*args = append(*args, v)
	}
}

// FilesMatching returns the distinct file names satisfying the criteria,
// sorted for deterministic read order.
func (ix *Index) FilesMatching(ctx context.Context, c Criteria) ([]string, error) {
	var where []string
	var args []any

	inClause("variable.comp_name", c.Variables, &where, &args)
	inClause("station.station_name", c.StationNames, &where, &args)
	inClause("variable.matrix", c.Matrices, &where, &args)
	inClause("variable.statistics", c.Statistics, &where, &args)
	if c.Datalevel != "" {
		where = append(where, "variable.datalevel = ?")
		args = append(args, c.Datalevel)
	}
	if !c.Start.IsZero() {
		where = append(where, "variable.last_end >= ?")
		args = append(args, c.Start.Unix())
	}
	if !c.Stop.IsZero() {
		where = append(where, "variable.first_start <= ?")
		args = append(args, c.Stop.Unix())
	}

	query := `SELECT DISTINCT variable.filename FROM variable
		JOIN station ON station.station_code = variable.station_code`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY variable.filename"

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("file query failed: %w", err)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("failed to scan filename: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("file query failed: %w", err)
	}

	ix.logger.Debug().
		Str("criteria", c.String()).
		Int("files", len(files)).
		Msg("resolved file list")
	return files, nil
}

// Stations returns all distinct station names in the index, sorted.
func (ix *Index) Stations(ctx context.Context) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT DISTINCT station_name FROM station ORDER BY station_name`)
	if err != nil {
		return nil, fmt.Errorf("station query failed: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan station name: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("station query failed: %w", err)
	}
	return names, nil
}

// ExpandStationPatterns resolves shell-style station name patterns
// against the station table. Names without metacharacters pass through
// unchecked, so callers can mix exact names and patterns.
func (ix *Index) ExpandStationPatterns(ctx context.Context, patterns []string) ([]string, error) {
	var exact, globs []string
	for _, p := range patterns {
		if strings.ContainsAny(p, "*?[") {
			globs = append(globs, p)
		} else {
			exact = append(exact, p)
		}
	}
	if len(globs) == 0 {
		return exact, nil
	}

	names, err := ix.Stations(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(exact))
	for _, n := range exact {
		seen[n] = true
	}
	for _, p := range globs {
		matched := false
		for _, n := range names {
			ok, err := path.Match(p, n)
			if err != nil {
				return nil, fmt.Errorf("bad station pattern %q: %w", p, err)
			}
			if ok {
				matched = true
				if !seen[n] {
					seen[n] = true
					exact = append(exact, n)
				}
			}
		}
		if !matched {
			ix.logger.Warn().Str("pattern", p).Msg("station pattern matched nothing")
		}
	}
	sort.Strings(exact)
	return exact, nil
}

// VarsForStation returns the distinct variables indexed for one station.
func (ix *Index) VarsForStation(ctx context.Context, stationName string) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT DISTINCT variable.comp_name FROM variable
		JOIN station ON station.station_code = variable.station_code
		WHERE station.station_name = ?
		ORDER BY variable.comp_name
	`, stationName)
	if err != nil {
		return nil, fmt.Errorf("variable query failed: %w", err)
	}
	defer rows.Close()

	var vars []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan variable name: %w", err)
		}
		vars = append(vars, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("variable query failed: %w", err)
	}
	return vars, nil
}
