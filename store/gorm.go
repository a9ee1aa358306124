package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pipeworks-ai/conductor/workflow"
)

// instanceRow is the relational projection of an instance. The full
// document is stored as JSON; status/template/created_at are lifted into
// columns for indexed listing.
type instanceRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Template  string    `gorm:"index;size:128"`
	Status    string    `gorm:"index;size:32"`
	Document  []byte    `gorm:"type:blob"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (instanceRow) TableName() string { return "workflow_instances" }

// GormInstanceStore persists instances in a SQL database through GORM.
type GormInstanceStore struct {
	db *gorm.DB
}

// NewSQLiteInstanceStore opens (or creates) a SQLite database at path and
// migrates the instance table. Use ":memory:" for tests.
func NewSQLiteInstanceStore(path string) (*GormInstanceStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return NewGormInstanceStore(db)
}

// NewGormInstanceStore wraps an existing GORM connection.
func NewGormInstanceStore(db *gorm.DB) (*GormInstanceStore, error) {
	if err := db.AutoMigrate(&instanceRow{}); err != nil {
		return nil, fmt.Errorf("migrate instance table: %w", err)
	}
	return &GormInstanceStore{db: db}, nil
}

func (s *GormInstanceStore) Save(ctx context.Context, inst *workflow.Instance) error {
	doc, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	row := instanceRow{
		ID:        inst.ID,
		Template:  inst.Template,
		Status:    string(inst.Status),
		Document:  doc,
		CreatedAt: inst.CreatedAt,
		UpdatedAt: inst.UpdatedAt,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save instance: %w", err)
	}
	return nil
}

func (s *GormInstanceStore) Load(ctx context.Context, workflowID string) (*workflow.Instance, error) {
	var row instanceRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", workflowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	var inst workflow.Instance
	if err := json.Unmarshal(row.Document, &inst); err != nil {
		return nil, fmt.Errorf("unmarshal instance: %w", err)
	}
	return &inst, nil
}

func (s *GormInstanceStore) List(ctx context.Context, filter Filter) ([]*workflow.Instance, error) {
	q := s.db.WithContext(ctx).Model(&instanceRow{}).Order("created_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Template != "" {
		q = q.Where("template = ?", filter.Template)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []instanceRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	results := make([]*workflow.Instance, 0, len(rows))
	for _, row := range rows {
		var inst workflow.Instance
		if err := json.Unmarshal(row.Document, &inst); err != nil {
			return nil, fmt.Errorf("unmarshal instance %s: %w", row.ID, err)
		}
		results = append(results, &inst)
	}
	return results, nil
}

func (s *GormInstanceStore) Delete(ctx context.Context, workflowID string) error {
	res := s.db.WithContext(ctx).Delete(&instanceRow{}, "id = ?", workflowID)
	if res.Error != nil {
		return fmt.Errorf("delete instance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
