package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/decision-forest/pkg/errors"
)

// StoredModel represents the forest_models table.
type StoredModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;type:varchar(128);index"`
	Kind      string    `gorm:"column:kind;type:varchar(16)"`
	NRow      int       `gorm:"column:n_row"`
	NPred     int       `gorm:"column:n_pred"`
	NTree     int       `gorm:"column:n_tree"`
	OOBError  float64   `gorm:"column:oob_error"`
	Artifact  []byte    `gorm:"column:artifact;type:blob"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the table name for StoredModel.
func (StoredModel) TableName() string {
	return "forest_models"
}

func (m *StoredModel) toRecord() *ModelRecord {
	return &ModelRecord{
		ID:        m.ID,
		Name:      m.Name,
		Kind:      m.Kind,
		NRow:      m.NRow,
		NPred:     m.NPred,
		NTree:     m.NTree,
		OOBError:  m.OOBError,
		Artifact:  m.Artifact,
		CreatedAt: m.CreatedAt,
	}
}

// GormModelRepository implements ModelRepository using GORM.
type GormModelRepository struct {
	db *gorm.DB
}

// NewGormModelRepository creates the repository and migrates its schema.
func NewGormModelRepository(db *gorm.DB) (*GormModelRepository, error) {
	if err := db.AutoMigrate(&StoredModel{}); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "migrate forest_models", err)
	}
	return &GormModelRepository{db: db}, nil
}

// Save stores a model record.
func (r *GormModelRepository) Save(ctx context.Context, rec *ModelRecord) error {
	row := &StoredModel{
		Name:     rec.Name,
		Kind:     rec.Kind,
		NRow:     rec.NRow,
		NPred:    rec.NPred,
		NTree:    rec.NTree,
		OOBError: rec.OOBError,
		Artifact: rec.Artifact,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "save model", err)
	}
	rec.ID = row.ID
	rec.CreatedAt = row.CreatedAt
	return nil
}

// GetByName retrieves the most recent model with the given name.
func (r *GormModelRepository) GetByName(ctx context.Context, name string) (*ModelRecord, error) {
	var row StoredModel
	err := r.db.WithContext(ctx).
		Where("name = ?", name).
		Order("id DESC").
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "model not found: %s", name)
		}
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "get model", err)
	}
	return row.toRecord(), nil
}

// List enumerates stored models, most recent first. Artifacts are omitted
// to keep listings light.
func (r *GormModelRepository) List(ctx context.Context, limit int) ([]*ModelRecord, error) {
	var rows []StoredModel
	err := r.db.WithContext(ctx).
		Select("id", "name", "kind", "n_row", "n_pred", "n_tree", "oob_error", "created_at").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "list models", err)
	}
	out := make([]*ModelRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].toRecord()
	}
	return out, nil
}

// Delete removes every model with the given name.
func (r *GormModelRepository) Delete(ctx context.Context, name string) error {
	res := r.db.WithContext(ctx).Where("name = ?", name).Delete(&StoredModel{})
	if res.Error != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "delete model", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.Newf(apperrors.CodeNotFound, "model not found: %s", name)
	}
	return nil
}
