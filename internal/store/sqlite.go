package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	sqlite "modernc.org/sqlite" // pure-Go sqlite driver, no cgo
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite is a database/sql-backed Store using the pure-Go modernc.org/sqlite
// driver. Uniqueness is enforced by UNIQUE indexes rather than in
// application code, matching spec.md §6's requirement that the store
// itself police (player_name, song_id)/(player_name, video_url)/(packet,
// user) uniqueness.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if necessary) a SQLite-backed Store at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// SQLite only tolerates one writer; serialize through a single
	// connection rather than fighting SQLITE_BUSY under concurrent tx.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS songs (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL UNIQUE,
			length_ns INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS packets (
			id TEXT PRIMARY KEY,
			player_name TEXT NOT NULL,
			kind INTEGER NOT NULL,
			song_id TEXT NOT NULL DEFAULT '',
			video_url TEXT NOT NULL DEFAULT '',
			video_title TEXT NOT NULL DEFAULT '',
			video_length_ns INTEGER NOT NULL DEFAULT 0,
			user TEXT NOT NULL,
			arrival_time REAL NOT NULL,
			finish_time REAL NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_packets_local
			ON packets(player_name, song_id) WHERE kind = 0`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_packets_remote
			ON packets(player_name, video_url) WHERE kind = 1`,
		`CREATE TABLE IF NOT EXISTS votes (
			packet_id TEXT NOT NULL,
			user TEXT NOT NULL,
			PRIMARY KEY (packet_id, user)
		)`,
		`CREATE TABLE IF NOT EXISTS play_history (
			song_id TEXT NOT NULL,
			user TEXT NOT NULL,
			player_name TEXT NOT NULL,
			played_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// sqliteTx is the Store view bound to one *sql.Tx, handed to WithTx's fn.
type sqliteTx struct {
	tx *sql.Tx
}

func (s *SQLite) WithTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStoreFailure, err)
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStoreFailure, err)
	}
	return nil
}

// Outside of an explicit WithTx, top-level Store calls run each of their
// statements in its own autocommit transaction, so a call that issues
// several statements (FindPacket, DeletePacket, DeleteAll) is not atomic;
// this lets tests and simple callers use the Store directly without
// wrapping every call in WithTx.
func (s *SQLite) FindPacket(ctx context.Context, player string, key Key) (*Packet, bool, error) {
	return (&sqliteTx{tx: nil}).findPacket(ctx, s.db, player, key)
}

func (s *SQLite) InsertPacket(ctx context.Context, p *Packet) error {
	return (&sqliteTx{}).insertPacket(ctx, s.db, p)
}

func (s *SQLite) DeletePacket(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM packets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM votes WHERE packet_id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

func (s *SQLite) DeleteAll(ctx context.Context, player string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM votes WHERE packet_id IN (SELECT id FROM packets WHERE player_name = ?)`, player)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM packets WHERE player_name = ?`, player)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

func (s *SQLite) ListPackets(ctx context.Context, player string) ([]*Packet, error) {
	return (&sqliteTx{}).listPackets(ctx, s.db, `player_name = ?`, player)
}

func (s *SQLite) ListPacketsOfUser(ctx context.Context, player, user string) ([]*Packet, error) {
	return (&sqliteTx{}).listPackets(ctx, s.db, `player_name = ? AND user = ?`, player, user)
}

func (s *SQLite) SetFinishTime(ctx context.Context, packetID string, t float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE packets SET finish_time = ? WHERE id = ?`, t, packetID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: packet %q", ErrNotFound, packetID)
	}
	return nil
}

func (s *SQLite) AppendVote(ctx context.Context, packetID, user string) (bool, error) {
	return (&sqliteTx{}).appendVote(ctx, s.db, packetID, user)
}

func (s *SQLite) CountDistinctUsers(ctx context.Context, player string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user) FROM packets WHERE player_name = ?`, player).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return n, nil
}

func (s *SQLite) MaxArrivalTime(ctx context.Context, player string) (float64, bool, error) {
	var max sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(arrival_time) FROM packets WHERE player_name = ?`, player).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return max.Float64, max.Valid, nil
}

func (s *SQLite) SongByID(ctx context.Context, id string) (*Song, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, path, length_ns FROM songs WHERE id = ?`, id)
	var song Song
	var lengthNS int64
	if err := row.Scan(&song.ID, &song.Path, &lengthNS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	song.Length = time.Duration(lengthNS)
	return &song, true, nil
}

func (s *SQLite) SongPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM songs`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) RandomSong(ctx context.Context, exclude map[string]struct{}) (*Song, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, path, length_ns FROM songs`)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	defer rows.Close()

	var candidates []*Song
	for rows.Next() {
		var song Song
		var lengthNS int64
		if err := rows.Scan(&song.ID, &song.Path, &lengthNS); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		song.Length = time.Duration(lengthNS)
		if _, excluded := exclude[song.Path]; !excluded {
			candidates = append(candidates, &song)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}
	return candidates[rand.Intn(len(candidates))], true, nil
}

func (s *SQLite) AppendHistory(ctx context.Context, entry PlayHistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO play_history (song_id, user, player_name, played_at) VALUES (?, ?, ?, ?)`,
		entry.SongID, entry.User, entry.PlayerName, entry.PlayedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

// --- transactional view ---

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (t *sqliteTx) q() querier {
	return t.tx
}

func (t *sqliteTx) WithTx(ctx context.Context, fn func(tx Store) error) error {
	// Nested WithTx within an already-open transaction just runs fn
	// against the same tx; SQLite transactions do not nest.
	return fn(t)
}

func (t *sqliteTx) FindPacket(ctx context.Context, player string, key Key) (*Packet, bool, error) {
	return t.findPacket(ctx, t.q(), player, key)
}

func (t *sqliteTx) findPacket(ctx context.Context, q querier, player string, key Key) (*Packet, bool, error) {
	var row *sql.Row
	switch {
	case key.SongID != "":
		row = q.QueryRowContext(ctx, packetSelect+` WHERE p.player_name = ? AND p.kind = 0 AND p.song_id = ?`, player, key.SongID)
	case key.VideoURL != "":
		row = q.QueryRowContext(ctx, packetSelect+` WHERE p.player_name = ? AND p.kind = 1 AND p.video_url = ?`, player, key.VideoURL)
	default:
		return nil, false, fmt.Errorf("%w: key must set SongID or VideoURL", ErrStoreFailure)
	}
	p, err := scanPacket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if err := t.loadVotes(ctx, q, p); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (t *sqliteTx) InsertPacket(ctx context.Context, p *Packet) error {
	return t.insertPacket(ctx, t.q(), p)
}

func (t *sqliteTx) insertPacket(ctx context.Context, q querier, p *Packet) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO packets (id, player_name, kind, song_id, video_url, video_title, video_length_ns, user, arrival_time, finish_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PlayerName, int8(p.Kind), p.SongID, p.VideoURL, p.VideoTitle, int64(p.VideoLength), p.User, p.ArrivalTime, p.FinishTime)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

// isUniqueConstraintErr reports whether err came from a UNIQUE/PRIMARY KEY
// violation (e.g. idx_packets_local/idx_packets_remote) rather than some
// other driver failure. Only that case should surface as ErrConflict; a
// disk-full or busy/locked error is a store failure, not a duplicate vote.
func isUniqueConstraintErr(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}

func (t *sqliteTx) DeletePacket(ctx context.Context, id string) error {
	if _, err := t.q().ExecContext(ctx, `DELETE FROM votes WHERE packet_id = ?`, id); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if _, err := t.q().ExecContext(ctx, `DELETE FROM packets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

func (t *sqliteTx) DeleteAll(ctx context.Context, player string) error {
	if _, err := t.q().ExecContext(ctx, `DELETE FROM votes WHERE packet_id IN (SELECT id FROM packets WHERE player_name = ?)`, player); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if _, err := t.q().ExecContext(ctx, `DELETE FROM packets WHERE player_name = ?`, player); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

func (t *sqliteTx) ListPackets(ctx context.Context, player string) ([]*Packet, error) {
	return t.listPackets(ctx, t.q(), `player_name = ?`, player)
}

func (t *sqliteTx) ListPacketsOfUser(ctx context.Context, player, user string) ([]*Packet, error) {
	return t.listPackets(ctx, t.q(), `player_name = ? AND user = ?`, player, user)
}

const packetSelect = `SELECT p.id, p.player_name, p.kind, p.song_id, p.video_url, p.video_title, p.video_length_ns, p.user, p.arrival_time, p.finish_time FROM packets p`

func (t *sqliteTx) listPackets(ctx context.Context, q querier, where string, args ...any) ([]*Packet, error) {
	rows, err := q.QueryContext(ctx, packetSelect+` WHERE `+where+` ORDER BY p.arrival_time ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	defer rows.Close()

	var out []*Packet
	for rows.Next() {
		p, err := scanRows(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		if err := t.loadVotes(ctx, q, p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *sqliteTx) loadVotes(ctx context.Context, q querier, p *Packet) error {
	rows, err := q.QueryContext(ctx, `SELECT user FROM votes WHERE packet_id = ?`, p.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	defer rows.Close()
	p.Votes = make(map[string]struct{})
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		p.Votes[user] = struct{}{}
	}
	return rows.Err()
}

func (t *sqliteTx) SetFinishTime(ctx context.Context, packetID string, tm float64) error {
	res, err := t.q().ExecContext(ctx, `UPDATE packets SET finish_time = ? WHERE id = ?`, tm, packetID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: packet %q", ErrNotFound, packetID)
	}
	return nil
}

func (t *sqliteTx) AppendVote(ctx context.Context, packetID, user string) (bool, error) {
	return t.appendVote(ctx, t.q(), packetID, user)
}

func (t *sqliteTx) appendVote(ctx context.Context, q querier, packetID, user string) (bool, error) {
	var owner string
	err := q.QueryRowContext(ctx, `SELECT user FROM packets WHERE id = ?`, packetID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: packet %q", ErrNotFound, packetID)
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if owner == user {
		return false, nil
	}
	_, err = q.ExecContext(ctx, `INSERT INTO votes (packet_id, user) VALUES (?, ?)`, packetID, user)
	if err != nil {
		// UNIQUE violation on (packet_id, user) means an existing vote.
		return false, nil
	}
	return true, nil
}

func (t *sqliteTx) CountDistinctUsers(ctx context.Context, player string) (int, error) {
	var n int
	err := t.q().QueryRowContext(ctx, `SELECT COUNT(DISTINCT user) FROM packets WHERE player_name = ?`, player).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return n, nil
}

func (t *sqliteTx) MaxArrivalTime(ctx context.Context, player string) (float64, bool, error) {
	var max sql.NullFloat64
	err := t.q().QueryRowContext(ctx, `SELECT MAX(arrival_time) FROM packets WHERE player_name = ?`, player).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return max.Float64, max.Valid, nil
}

func (t *sqliteTx) SongByID(ctx context.Context, id string) (*Song, bool, error) {
	row := t.q().QueryRowContext(ctx, `SELECT id, path, length_ns FROM songs WHERE id = ?`, id)
	var song Song
	var lengthNS int64
	if err := row.Scan(&song.ID, &song.Path, &lengthNS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	song.Length = time.Duration(lengthNS)
	return &song, true, nil
}

func (t *sqliteTx) SongPaths(ctx context.Context) ([]string, error) {
	rows, err := t.q().QueryContext(ctx, `SELECT path FROM songs`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *sqliteTx) RandomSong(ctx context.Context, exclude map[string]struct{}) (*Song, bool, error) {
	rows, err := t.q().QueryContext(ctx, `SELECT id, path, length_ns FROM songs`)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	defer rows.Close()
	var candidates []*Song
	for rows.Next() {
		var song Song
		var lengthNS int64
		if err := rows.Scan(&song.ID, &song.Path, &lengthNS); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		song.Length = time.Duration(lengthNS)
		if _, excluded := exclude[song.Path]; !excluded {
			candidates = append(candidates, &song)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}
	return candidates[rand.Intn(len(candidates))], true, nil
}

func (t *sqliteTx) AppendHistory(ctx context.Context, entry PlayHistoryEntry) error {
	_, err := t.q().ExecContext(ctx,
		`INSERT INTO play_history (song_id, user, player_name, played_at) VALUES (?, ?, ?, ?)`,
		entry.SongID, entry.User, entry.PlayerName, entry.PlayedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPacket(row *sql.Row) (*Packet, error) {
	return scanOne(row)
}

func scanRows(rows *sql.Rows) (*Packet, error) {
	return scanOne(rows)
}

func scanOne(s scannable) (*Packet, error) {
	var p Packet
	var kind int8
	var lengthNS int64
	if err := s.Scan(&p.ID, &p.PlayerName, &kind, &p.SongID, &p.VideoURL, &p.VideoTitle, &lengthNS, &p.User, &p.ArrivalTime, &p.FinishTime); err != nil {
		return nil, err
	}
	p.Kind = Kind(kind)
	p.VideoLength = time.Duration(lengthNS)
	return &p, nil
}
