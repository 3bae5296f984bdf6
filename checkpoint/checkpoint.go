// Package checkpoint stores serialised determinant walkers in sqlite.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableWalkers = "walkers"
)

// Record is one ensemble member of a rank.
type Record struct {
	Index   int
	Weight  float64
	Overlap complex128
	Det     []complex128
}

type Store struct {
	Path string
	db   *sql.DB
}

func NewRunID() string {
	return uuid.NewString()
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	// Ranks share the store, serialise their writes.
	db.SetMaxOpenConns(1)

	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, fmt.Sprintf("db %s", dbPath))
	}
	return &Store{Path: dbPath, db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Save replaces the snapshot of rank in run with recs.
func (s *Store) Save(ctx context.Context, run string, rank int, recs []Record) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer tx.Rollback()

	sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE run=? AND rank=?`, tableWalkers)
	if _, err := tx.ExecContext(ctx, sqlStr, run, rank); err != nil {
		return errors.Wrap(err, fmt.Sprintf("db %s", s.Path))
	}

	sqlStr = fmt.Sprintf(`INSERT INTO %s (run, rank, idx, weight, ovlp_re, ovlp_im, det) VALUES (?, ?, ?, ?, ?, ?, ?)`, tableWalkers)
	stmt, err := tx.PrepareContext(ctx, sqlStr)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer stmt.Close()
	for _, r := range recs {
		args := []any{run, rank, r.Index, r.Weight, real(r.Overlap), imag(r.Overlap), encode(r.Det)}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%s %d %d", run, rank, r.Index))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Load returns the snapshot of rank in run, in index order.
func (s *Store) Load(ctx context.Context, run string, rank int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sqlStr := fmt.Sprintf(`SELECT idx, weight, ovlp_re, ovlp_im, det FROM %s WHERE run=? AND rank=? ORDER BY idx`, tableWalkers)
	rows, err := s.db.QueryContext(ctx, sqlStr, run, rank)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	recs := make([]Record, 0)
	for rows.Next() {
		var r Record
		var re, im float64
		var blob []byte
		if err := rows.Scan(&r.Index, &r.Weight, &re, &im, &blob); err != nil {
			return nil, errors.Wrap(err, "")
		}
		r.Overlap = complex(re, im)
		if r.Det, err = decode(blob); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%s %d %d", run, rank, r.Index))
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return recs, nil
}

// Runs lists the run identifiers present in the store.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	sqlStr := fmt.Sprintf(`SELECT DISTINCT run FROM %s ORDER BY run`, tableWalkers)
	rows, err := s.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	runs := make([]string, 0)
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, errors.Wrap(err, "")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return runs, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT, rank INTEGER, idx INTEGER, weight REAL, ovlp_re REAL, ovlp_im REAL, det BLOB, PRIMARY KEY (run, rank, idx)) STRICT`, tableWalkers)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func encode(v []complex128) []byte {
	b := make([]byte, 16*len(v))
	for i, z := range v {
		binary.LittleEndian.PutUint64(b[16*i:], math.Float64bits(real(z)))
		binary.LittleEndian.PutUint64(b[16*i+8:], math.Float64bits(imag(z)))
	}
	return b
}

func decode(b []byte) ([]complex128, error) {
	if len(b)%16 != 0 {
		return nil, errors.Errorf("blob length %d", len(b))
	}
	v := make([]complex128, len(b)/16)
	for i := range v {
		re := math.Float64frombits(binary.LittleEndian.Uint64(b[16*i:]))
		im := math.Float64frombits(binary.LittleEndian.Uint64(b[16*i+8:]))
		v[i] = complex(re, im)
	}
	return v, nil
}
