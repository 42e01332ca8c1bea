// Package sqlite provides a SQLite-backed player store, quest catalog and
// audit sink.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/okian/bitgalaxy/internal/adapters/repository"
	"github.com/okian/bitgalaxy/internal/adapters/repository/sqlite/migrations"
	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/pkg/metrics"
)

const storeName = "sqlite"

// Store persists progression state in SQLite. Player records are JSON
// documents guarded by a version column; contact fields are mirrored into
// indexed columns for lookups.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ repository.PlayerStore  = (*Store)(nil)
	_ repository.QuestCatalog = (*Store)(nil)
	_ repository.AuditSink    = (*Store)(nil)
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes writers inside this process; the version
	// check still guards against other processes sharing the file.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(storeName, op, float64(time.Since(start).Microseconds())/1000)
}

// Get implements repository.PlayerStore.
func (s *Store) Get(ctx context.Context, orgID, userID string) (model.Player, error) {
	defer observe("get", time.Now())
	p, _, err := getPlayer(ctx, s.sqlDB, orgID, userID)
	return p, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getPlayer(ctx context.Context, q queryer, orgID, userID string) (model.Player, int64, error) {
	var (
		doc     string
		version int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT doc, version FROM players WHERE org_id = ? AND user_id = ?`,
		orgID, userID,
	).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Player{}, 0, repository.ErrNotFound
	}
	if err != nil {
		return model.Player{}, 0, classify(fmt.Errorf("get player: %w", err))
	}
	p, err := decodePlayer(doc)
	if err != nil {
		return model.Player{}, 0, err
	}
	return p, version, nil
}

func decodePlayer(doc string) (model.Player, error) {
	var p model.Player
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return model.Player{}, fmt.Errorf("decode player: %w", err)
	}
	p.EnsureCollections()
	return p, nil
}

// Create implements repository.PlayerStore.
func (s *Store) Create(ctx context.Context, p model.Player) (model.Player, bool, error) {
	defer observe("create", time.Now())
	if strings.TrimSpace(p.OrgID) == "" || strings.TrimSpace(p.UserID) == "" {
		return model.Player{}, false, fmt.Errorf("%w: org %q user %q", repository.ErrInvalidKey, p.OrgID, p.UserID)
	}
	p.EnsureCollections()
	doc, err := json.Marshal(p)
	if err != nil {
		return model.Player{}, false, fmt.Errorf("encode player: %w", err)
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO players (
		   org_id, user_id, doc, version,
		   email, phone, phone_normalized, phone_digits,
		   total_xp, created_at, updated_at
		 ) VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id, user_id) DO NOTHING`,
		p.OrgID, p.UserID, string(doc),
		p.Email, p.Phone, p.PhoneNormalized, p.PhoneDigits,
		p.TotalXP, toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	if err != nil {
		return model.Player{}, false, classify(fmt.Errorf("create player: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Player{}, false, fmt.Errorf("create player: %w", err)
	}

	stored, _, err := getPlayer(ctx, s.sqlDB, p.OrgID, p.UserID)
	if err != nil {
		return model.Player{}, false, err
	}
	return stored, n == 1, nil
}

// Update implements repository.PlayerStore. The read, fn and the versioned
// write share one immediate transaction.
func (s *Store) Update(ctx context.Context, orgID, userID string, fn func(*model.Player) error) (model.Player, error) {
	defer observe("update", time.Now())
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return model.Player{}, classify(fmt.Errorf("begin update: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	p, version, err := getPlayer(ctx, tx, orgID, userID)
	if err != nil {
		return model.Player{}, err
	}
	if err := fn(&p); err != nil {
		return model.Player{}, err
	}
	p.OrgID, p.UserID = orgID, userID
	p.EnsureCollections()

	doc, err := json.Marshal(p)
	if err != nil {
		return model.Player{}, fmt.Errorf("encode player: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE players
		    SET doc = ?, version = version + 1,
		        email = ?, phone = ?, phone_normalized = ?, phone_digits = ?,
		        total_xp = ?, updated_at = ?
		  WHERE org_id = ? AND user_id = ? AND version = ?`,
		string(doc),
		p.Email, p.Phone, p.PhoneNormalized, p.PhoneDigits,
		p.TotalXP, toMillis(p.UpdatedAt),
		orgID, userID, version,
	)
	if err != nil {
		return model.Player{}, classify(fmt.Errorf("update player: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Player{}, fmt.Errorf("update player: %w", err)
	}
	if n != 1 {
		metrics.RecordTxConflict(storeName)
		return model.Player{}, repository.ErrConflict
	}
	if err := tx.Commit(); err != nil {
		return model.Player{}, classify(fmt.Errorf("commit update: %w", err))
	}
	return p, nil
}

func contactColumn(field repository.ContactField) (string, error) {
	switch field {
	case repository.ContactEmail:
		return "email", nil
	case repository.ContactPhone:
		return "phone", nil
	case repository.ContactPhoneNormalized:
		return "phone_normalized", nil
	case repository.ContactPhoneDigits:
		return "phone_digits", nil
	}
	return "", fmt.Errorf("%w: %q", repository.ErrInvalidContactField, field)
}

// FindByContact implements repository.PlayerStore. Among several matches the
// oldest record wins.
func (s *Store) FindByContact(ctx context.Context, orgID string, field repository.ContactField, value string) (model.Player, error) {
	defer observe("find_by_contact", time.Now())
	column, err := contactColumn(field)
	if err != nil {
		return model.Player{}, err
	}
	if value == "" {
		return model.Player{}, repository.ErrNotFound
	}

	var doc string
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT doc FROM players
		  WHERE org_id = ? AND `+column+` = ?
		  ORDER BY created_at, user_id
		  LIMIT 1`,
		orgID, value,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Player{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Player{}, classify(fmt.Errorf("find player by %s: %w", field, err))
	}
	return decodePlayer(doc)
}

// GetQuest implements repository.QuestCatalog.
func (s *Store) GetQuest(ctx context.Context, orgID, questID string) (model.Quest, error) {
	defer observe("get_quest", time.Now())
	var doc string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT doc FROM quests WHERE org_id = ? AND quest_id = ?`,
		orgID, questID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Quest{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Quest{}, classify(fmt.Errorf("get quest: %w", err))
	}
	var q model.Quest
	if err := json.Unmarshal([]byte(doc), &q); err != nil {
		return model.Quest{}, fmt.Errorf("decode quest: %w", err)
	}
	return q, nil
}

// EnsureQuest implements repository.QuestCatalog.
func (s *Store) EnsureQuest(ctx context.Context, q model.Quest) (model.Quest, bool, error) {
	defer observe("ensure_quest", time.Now())
	if strings.TrimSpace(q.OrgID) == "" || strings.TrimSpace(q.ID) == "" {
		return model.Quest{}, false, fmt.Errorf("%w: org %q quest %q", repository.ErrInvalidKey, q.OrgID, q.ID)
	}
	doc, err := json.Marshal(q)
	if err != nil {
		return model.Quest{}, false, fmt.Errorf("encode quest: %w", err)
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO quests (org_id, quest_id, doc, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (org_id, quest_id) DO NOTHING`,
		q.OrgID, q.ID, string(doc), toMillis(q.CreatedAt),
	)
	if err != nil {
		return model.Quest{}, false, classify(fmt.Errorf("ensure quest: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Quest{}, false, fmt.Errorf("ensure quest: %w", err)
	}
	stored, err := s.GetQuest(ctx, q.OrgID, q.ID)
	if err != nil {
		return model.Quest{}, false, err
	}
	return stored, n == 1, nil
}

// Append implements repository.AuditSink.
func (s *Store) Append(ctx context.Context, rec model.AuditRecord) error {
	defer observe("append_audit", time.Now())
	meta := []byte("{}")
	if len(rec.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(rec.Meta); err != nil {
			return fmt.Errorf("encode audit meta: %w", err)
		}
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO audit_log (
		   id, org_id, user_id, event_type, quest_id, xp_change, source, meta, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OrgID, rec.UserID, rec.EventType, rec.QuestID,
		rec.XPChange, rec.Source, string(meta), toMillis(rec.CreatedAt),
	)
	if err != nil {
		return classify(fmt.Errorf("append audit: %w", err))
	}
	return nil
}

// AuditRecords returns the audit log of one player, oldest first.
func (s *Store) AuditRecords(ctx context.Context, orgID, userID string) ([]model.AuditRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, org_id, user_id, event_type, quest_id, xp_change, source, meta, created_at
		   FROM audit_log
		  WHERE org_id = ? AND user_id = ?
		  ORDER BY created_at, id`,
		orgID, userID,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("list audit: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var out []model.AuditRecord
	for rows.Next() {
		var (
			rec       model.AuditRecord
			meta      string
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.OrgID, &rec.UserID, &rec.EventType, &rec.QuestID,
			&rec.XPChange, &rec.Source, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &rec.Meta); err != nil {
				return nil, fmt.Errorf("decode audit meta: %w", err)
			}
		}
		rec.CreatedAt = fromMillis(createdAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return out, nil
}

// classify maps lock contention to repository.ErrConflict so WithRetry can
// rerun the transaction.
func classify(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			metrics.RecordTxConflict(storeName)
			return fmt.Errorf("%w: %w", repository.ErrConflict, err)
		}
	}
	return err
}
