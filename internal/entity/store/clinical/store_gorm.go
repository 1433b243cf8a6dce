package clinical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"privata/internal/entity/models"
	"privata/pkg/platform/sentinel"
	pkgstrings "privata/pkg/platform/strings"
)

type clinicalRow struct {
	EntityType string         `gorm:"column:entity_type;primaryKey;size:64"`
	Pseudonym  string         `gorm:"column:pseudonym;primaryKey;size:128"`
	Fields     datatypes.JSON `gorm:"column:fields;not null"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (clinicalRow) TableName() string { return "clinical_records" }

// GormStore persists one entity type's clinical records through GORM, so the
// clinical database can be PostgreSQL or SQLite independently of the
// identity database. The *gorm.DB should be opened with TranslateError.
type GormStore struct {
	db         *gorm.DB
	entityType string
}

func NewGorm(db *gorm.DB, entityType string) *GormStore {
	return &GormStore{db: db, entityType: entityType}
}

// AutoMigrate creates or updates the clinical_records table.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&clinicalRow{}); err != nil {
		return fmt.Errorf("migrate clinical records: %w", err)
	}
	return nil
}

func (s *GormStore) scoped(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&clinicalRow{}).Where("entity_type = ?", s.entityType)
}

func (s *GormStore) FindByID(ctx context.Context, pseudonym string) (*models.ClinicalRecord, error) {
	var row clinicalRow
	err := s.scoped(ctx).Where("pseudonym = ?", pseudonym).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find clinical record: %w", err)
	}
	return toRecord(row)
}

func (s *GormStore) FindMany(ctx context.Context, q models.Query) ([]*models.ClinicalRecord, error) {
	tx := s.scoped(ctx).Order("pseudonym")
	for _, key := range pkgstrings.SortedKeys(q.Filters) {
		tx = tx.Where(datatypes.JSONQuery("fields").Equals(q.Filters[key], key))
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var rows []clinicalRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find clinical records: %w", err)
	}
	out := make([]*models.ClinicalRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := toRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *GormStore) Exists(ctx context.Context, pseudonym string) (bool, error) {
	var n int64
	if err := s.scoped(ctx).Where("pseudonym = ?", pseudonym).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check clinical record: %w", err)
	}
	return n > 0, nil
}

func (s *GormStore) Create(ctx context.Context, rec *models.ClinicalRecord) (*models.ClinicalRecord, error) {
	if rec.Pseudonym == "" {
		return nil, sentinel.ErrInvalidState
	}
	raw, err := encodeFields(rec.Fields)
	if err != nil {
		return nil, err
	}
	row := clinicalRow{
		EntityType: s.entityType,
		Pseudonym:  rec.Pseudonym,
		Fields:     raw,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, sentinel.ErrConflict
		}
		return nil, fmt.Errorf("insert clinical record: %w", err)
	}
	return toRecord(row)
}

// Update reads, patches and writes the record in one transaction. On
// PostgreSQL the read takes a row lock (SELECT ... FOR UPDATE) so concurrent
// patches serialize instead of dropping each other's keys. SQLite has a
// single writer and needs no lock.
func (s *GormStore) Update(ctx context.Context, pseudonym string, patch models.Patch) (*models.ClinicalRecord, error) {
	var out *models.ClinicalRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&clinicalRow{})
		if s.db.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
		}
		var row clinicalRow
		err := q.Where("entity_type = ? AND pseudonym = ?", s.entityType, pseudonym).
			First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("load clinical record: %w", err)
		}
		current, err := toRecord(row)
		if err != nil {
			return err
		}
		raw, err := encodeFields(patch.Apply(current.Fields))
		if err != nil {
			return err
		}
		err = tx.Model(&clinicalRow{}).
			Where("entity_type = ? AND pseudonym = ?", s.entityType, pseudonym).
			Updates(map[string]any{"fields": raw, "updated_at": patch.UpdatedAt}).Error
		if err != nil {
			return fmt.Errorf("update clinical record: %w", err)
		}
		row.Fields = raw
		row.UpdatedAt = patch.UpdatedAt
		out, err = toRecord(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) Delete(ctx context.Context, pseudonym string) error {
	res := s.db.WithContext(ctx).
		Where("entity_type = ? AND pseudonym = ?", s.entityType, pseudonym).
		Delete(&clinicalRow{})
	if res.Error != nil {
		return fmt.Errorf("delete clinical record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func encodeFields(fields map[string]any) (datatypes.JSON, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode clinical fields: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func toRecord(row clinicalRow) (*models.ClinicalRecord, error) {
	fields := map[string]any{}
	if len(row.Fields) > 0 {
		if err := json.Unmarshal(row.Fields, &fields); err != nil {
			return nil, fmt.Errorf("decode clinical fields: %w", err)
		}
	}
	return &models.ClinicalRecord{
		Pseudonym: row.Pseudonym,
		Fields:    fields,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}
