package database

import (
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/logger"
	"github.com/lawnchairsociety/rpsbalance/internal/search"
)

// StoredTriple is an archived discovery.
type StoredTriple struct {
	ID          int64
	RunID       int64
	Fingerprint string
	Triple      archetype.Triple
	Score       float64
	Rounds      [3]int
	CreatedAt   time.Time
}

// Discovery converts the row back to a search result entry.
func (s StoredTriple) Discovery() search.Discovery {
	return search.Discovery{Triple: s.Triple, Score: s.Score, Rounds: s.Rounds}
}

// Fingerprint is the hex BLAKE2b-256 digest of the triple's stats in field
// order. Names are not part of the digest.
func Fingerprint(t archetype.Triple) string {
	buf := make([]byte, 0, 3*5*8)
	for _, b := range t.Builds() {
		// Adding zero folds -0 into +0.
		for _, v := range []float64{b.Atk + 0, b.Defense + 0, b.Revenge + 0, float64(b.HP), b.Spd + 0} {
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

const tripleColumns = `id, run_id, fingerprint,
	offense_atk, offense_def, offense_rev, offense_hp, offense_spd,
	balanced_atk, balanced_def, balanced_rev, balanced_hp, balanced_spd,
	tank_atk, tank_def, tank_rev, tank_hp, tank_spd,
	score, rounds_ot, rounds_tb, rounds_bo, created_at`

// SaveTriple archives a discovery under runID. It returns false without an
// error when an identical triple is already stored.
func (d *Database) SaveTriple(runID int64, t archetype.Triple, score float64, rounds [3]int) (bool, error) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return false, fmt.Errorf("refusing to store non-finite score %v", score)
	}

	fp := Fingerprint(t)
	args := []any{runID, fp}
	for _, b := range t.Builds() {
		args = append(args, b.Atk, b.Defense, b.Revenge, b.HP, b.Spd)
	}
	args = append(args, score, rounds[0], rounds[1], rounds[2], time.Now().UTC().Truncate(time.Second))

	_, err := d.db.Exec(d.qb.Build(`
		INSERT INTO triples (run_id, fingerprint,
			offense_atk, offense_def, offense_rev, offense_hp, offense_spd,
			balanced_atk, balanced_def, balanced_rev, balanced_hp, balanced_spd,
			tank_atk, tank_def, tank_rev, tank_hp, tank_spd,
			score, rounds_ot, rounds_tb, rounds_bo, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`), args...)
	if err != nil {
		if d.dialect.IsDuplicateKeyError(err) {
			logger.Debug("Triple already archived", "fingerprint", fp[:12])
			return false, nil
		}
		return false, fmt.Errorf("failed to save triple: %w", err)
	}
	return true, nil
}

// SaveDiscoveries archives every discovery of a run and reports how many
// were new.
func (d *Database) SaveDiscoveries(runID int64, discoveries []search.Discovery) (int, error) {
	saved := 0
	for _, disc := range discoveries {
		ok, err := d.SaveTriple(runID, disc.Triple, disc.Score, disc.Rounds)
		if err != nil {
			return saved, err
		}
		if ok {
			saved++
		}
	}
	logger.Info("Discoveries archived", "run", runID, "saved", saved, "duplicates", len(discoveries)-saved)
	return saved, nil
}

// ListTriples returns the triples archived by a run in insertion order.
func (d *Database) ListTriples(runID int64) ([]StoredTriple, error) {
	return d.queryTriples("SELECT "+tripleColumns+" FROM triples WHERE run_id = ? ORDER BY id", runID)
}

// BestTriples returns the lowest scoring triples across all runs.
func (d *Database) BestTriples(limit int) ([]StoredTriple, error) {
	if limit <= 0 {
		return nil, nil
	}
	return d.queryTriples("SELECT "+tripleColumns+" FROM triples ORDER BY score ASC, id ASC LIMIT ?", limit)
}

func (d *Database) queryTriples(query string, args ...any) ([]StoredTriple, error) {
	rows, err := d.db.Query(d.qb.Build(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triples: %w", err)
	}
	defer rows.Close()

	var out []StoredTriple
	for rows.Next() {
		st, err := scanTriple(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanTriple(s scanner) (StoredTriple, error) {
	var (
		st    StoredTriple
		runID sql.NullInt64
	)
	t := &st.Triple
	t.Offense.Name, t.Balanced.Name, t.Tank.Name = archetype.Offense, archetype.Balanced, archetype.Tank

	dest := []any{&st.ID, &runID, &st.Fingerprint}
	for _, b := range []*archetype.Build{&t.Offense, &t.Balanced, &t.Tank} {
		dest = append(dest, &b.Atk, &b.Defense, &b.Revenge, &b.HP, &b.Spd)
	}
	dest = append(dest, &st.Score, &st.Rounds[0], &st.Rounds[1], &st.Rounds[2], &st.CreatedAt)

	if err := s.Scan(dest...); err != nil {
		return StoredTriple{}, err
	}
	st.RunID = runID.Int64
	return st, nil
}
