// Package state persists the worker's handler state in SQLite so a restarted
// worker still knows the holes of processed images and each session's solder
// mask.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pcbdrill/pcb-drill/internal/drill"
	"github.com/pcbdrill/pcb-drill/internal/gcode"
)

const DefaultMaxHolesBytes = 1 << 20 // 1 MiB

// timeFormat has fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db           *sql.DB
	maxHolesByte int
	now          func() time.Time
}

var _ drill.State = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:           db,
		maxHolesByte: DefaultMaxHolesBytes,
		now:          time.Now,
	}
}

// SaveHoles replaces the hole list of image.
func (s *Store) SaveHoles(ctx context.Context, image string, holes []gcode.Coordinate) error {
	if image == "" {
		return fmt.Errorf("image name is empty")
	}
	if holes == nil {
		holes = []gcode.Coordinate{}
	}

	raw, err := json.Marshal(holes)
	if err != nil {
		return fmt.Errorf("marshal holes: %w", err)
	}
	if len(raw) > s.maxHolesByte {
		return fmt.Errorf("hole list for %q exceeds max size (%d bytes)", image, s.maxHolesByte)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO drill_holes(image, holes, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(image) DO UPDATE SET
  holes = excluded.holes,
  updated_at = excluded.updated_at;
`, image, string(raw), s.timestamp())
	if err != nil {
		return fmt.Errorf("upsert drill holes: %w", err)
	}
	return nil
}

// Holes returns the hole list of image. ok is false if the image was never
// processed.
func (s *Store) Holes(ctx context.Context, image string) ([]gcode.Coordinate, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT holes FROM drill_holes WHERE image = ?;", image).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read drill holes: %w", err)
	}

	var holes []gcode.Coordinate
	if err := json.Unmarshal([]byte(raw), &holes); err != nil {
		return nil, false, fmt.Errorf("stored holes are invalid JSON for image=%q: %w", image, err)
	}
	return holes, true, nil
}

// SaveSolderMask records the solder mask image used by session.
func (s *Store) SaveSolderMask(ctx context.Context, session, image string) error {
	if session == "" {
		return fmt.Errorf("session is empty")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO solder_masks(session, image, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(session) DO UPDATE SET
  image = excluded.image,
  updated_at = excluded.updated_at;
`, session, image, s.timestamp())
	if err != nil {
		return fmt.Errorf("upsert solder mask: %w", err)
	}
	return nil
}

// SolderMask returns the solder mask image of session.
func (s *Store) SolderMask(ctx context.Context, session string) (string, bool, error) {
	var image string
	err := s.db.QueryRowContext(ctx, "SELECT image FROM solder_masks WHERE session = ?;", session).Scan(&image)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read solder mask: %w", err)
	}
	return image, true, nil
}

// MaskSessions lists the sessions whose solder mask is image, sorted.
func (s *Store) MaskSessions(ctx context.Context, image string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT session FROM solder_masks WHERE image = ? ORDER BY session;", image)
	if err != nil {
		return nil, fmt.Errorf("query solder masks: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var session string
		if err := rows.Scan(&session); err != nil {
			return nil, fmt.Errorf("scan solder mask: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeFormat)
}
