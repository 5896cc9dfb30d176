package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PendingRow is the SQL form of a PendingEntry. Position preserves ask order.
type PendingRow struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	Position     int       `gorm:"not null;index"`
	UserID       string    `gorm:"size:64;not null"`
	DM           string    `gorm:"size:64;not null"`
	Question     string    `gorm:"type:text;not null"`
	ThreadAnchor string    `gorm:"size:64;not null;uniqueIndex"`
	Round        string    `gorm:"size:36"`
	AskedAt      time.Time `gorm:"index"`
}

// TableName pins the table name.
func (PendingRow) TableName() string { return "pending_entries" }

// DailyThreadRow is the SQL form of a DailyThreadRef.
type DailyThreadRow struct {
	Day          string `gorm:"primaryKey;size:10"`
	ThreadAnchor string `gorm:"size:64;not null"`
	CreatedAt    time.Time
}

// TableName pins the table name.
func (DailyThreadRow) TableName() string { return "daily_threads" }

// MetaRow holds the ledger revision and diagnostic fields. There is exactly
// one row, with ID 1.
type MetaRow struct {
	ID              uint   `gorm:"primaryKey"`
	Revision        int64  `gorm:"not null;default:0"`
	LastPickedUsers string `gorm:"type:text"` // JSON array of user IDs
	UpdatedAt       time.Time
}

// TableName pins the table name.
func (MetaRow) TableName() string { return "ledger_meta" }

const metaID = 1

// SQLStore persists the ledger in a SQL database through GORM. Save runs in
// one transaction guarded by a conditional revision update.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore migrates the ledger tables and returns a store.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: db is required")
	}
	if err := db.AutoMigrate(&PendingRow{}, &DailyThreadRow{}, &MetaRow{}); err != nil {
		return nil, &IOError{Op: "migrate", Path: "sql", Err: err}
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&MetaRow{ID: metaID}).Error; err != nil {
		return nil, &IOError{Op: "migrate", Path: "sql", Err: err}
	}
	return &SQLStore{db: db}, nil
}

// Load reads the whole ledger.
func (s *SQLStore) Load(ctx context.Context) (*Ledger, error) {
	db := s.db.WithContext(ctx)
	l := New()

	var meta MetaRow
	if err := db.First(&meta, metaID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &IOError{Op: "load", Path: "sql", Err: err}
	}
	l.Revision = meta.Revision
	if meta.LastPickedUsers != "" {
		if err := json.Unmarshal([]byte(meta.LastPickedUsers), &l.LastPickedUsers); err != nil {
			return nil, &IOError{Op: "load", Path: "sql", Err: fmt.Errorf("parse last picked users: %w", err)}
		}
	}

	var rows []PendingRow
	if err := db.Order("position ASC").Find(&rows).Error; err != nil {
		return nil, &IOError{Op: "load", Path: "sql", Err: err}
	}
	for _, r := range rows {
		l.Pending = append(l.Pending, PendingEntry{
			User:         r.UserID,
			DM:           r.DM,
			Question:     r.Question,
			ThreadAnchor: r.ThreadAnchor,
			AskedAt:      r.AskedAt,
			Round:        r.Round,
		})
	}

	var threads []DailyThreadRow
	if err := db.Find(&threads).Error; err != nil {
		return nil, &IOError{Op: "load", Path: "sql", Err: err}
	}
	for _, t := range threads {
		l.DailyThreads[t.Day] = DailyThreadRef{Day: t.Day, ThreadAnchor: t.ThreadAnchor, CreatedAt: t.CreatedAt}
	}
	return l, nil
}

// Save replaces the pending sequence, adds new daily threads, and bumps the
// revision, all in one transaction.
func (s *SQLStore) Save(ctx context.Context, l *Ledger) error {
	picked, err := json.Marshal(l.LastPickedUsers)
	if err != nil {
		return &IOError{Op: "save", Path: "sql", Err: err}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&MetaRow{}).
			Where("id = ? AND revision = ?", metaID, l.Revision).
			Updates(map[string]interface{}{
				"revision":          l.Revision + 1,
				"last_picked_users": string(picked),
				"updated_at":        time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("update revision: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: loaded revision %d is stale", ErrConflict, l.Revision)
		}

		if err := tx.Where("1 = 1").Delete(&PendingRow{}).Error; err != nil {
			return fmt.Errorf("clear pending: %w", err)
		}
		if len(l.Pending) > 0 {
			rows := make([]PendingRow, 0, len(l.Pending))
			for i, e := range l.Pending {
				rows = append(rows, PendingRow{
					Position:     i,
					UserID:       e.User,
					DM:           e.DM,
					Question:     e.Question,
					ThreadAnchor: e.ThreadAnchor,
					Round:        e.Round,
					AskedAt:      e.AskedAt,
				})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("insert pending: %w", err)
			}
		}

		// Daily threads are immutable and never deleted.
		for _, ref := range l.DailyThreads {
			row := DailyThreadRow{Day: ref.Day, ThreadAnchor: ref.ThreadAnchor, CreatedAt: ref.CreatedAt}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("insert daily thread %s: %w", ref.Day, err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return &IOError{Op: "save", Path: "sql", Err: err}
	}
	l.Revision++
	return nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
