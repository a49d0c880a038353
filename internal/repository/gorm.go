package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is the SQL row backing every collection.
type Record struct {
	Collection string    `gorm:"primaryKey;size:64"`
	ID         string    `gorm:"primaryKey;size:191"`
	Data       []byte    `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the table name used by Record.
func (Record) TableName() string { return "entities" }

// GormRepository stores a collection as rows of a shared entities table.
type GormRepository[T Entity] struct {
	db         *gorm.DB
	collection string
}

// NewGormRepository creates a repository for collection. Call
// database.AutoMigrate(db, &Record{}) once beforehand.
func NewGormRepository[T Entity](db *gorm.DB, collection string) *GormRepository[T] {
	return &GormRepository[T]{db: db, collection: collection}
}

func (r *GormRepository[T]) List(ctx context.Context) ([]T, error) {
	var rows []Record
	err := r.db.WithContext(ctx).
		Where("collection = ?", r.collection).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.collection, err)
	}

	ids := make([]string, len(rows))
	data := make(map[string][]byte, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
		data[row.ID] = row.Data
	}
	return decodeAll[T](ctx, r.collection, ids, func(id string) []byte { return data[id] }), nil
}

func (r *GormRepository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	row, err := r.find(r.db.WithContext(ctx), id)
	if err != nil {
		return zero, err
	}
	return decode[T](r.collection, id, row.Data)
}

func (r *GormRepository[T]) Save(ctx context.Context, entity T) error {
	data, err := encode(entity)
	if err != nil {
		return err
	}
	row := Record{Collection: r.collection, ID: entity.EntityID(), Data: data}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", r.collection, entity.EntityID(), err)
	}
	return nil
}

func (r *GormRepository[T]) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).
		Where("collection = ? AND id = ?", r.collection, id).
		Delete(&Record{}).Error
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", r.collection, id, err)
	}
	return nil
}

// Take reads the row and deletes it in one transaction. Only the caller whose
// DELETE affected the row wins; a concurrent loser sees ErrNotFound.
func (r *GormRepository[T]) Take(ctx context.Context, id string) (T, error) {
	var zero T
	var row *Record

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := r.find(tx, id)
		if err != nil {
			return err
		}
		res := tx.Where("collection = ? AND id = ?", r.collection, id).Delete(&Record{})
		if res.Error != nil {
			return fmt.Errorf("take %s/%s: %w", r.collection, id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		row = found
		return nil
	})
	if err != nil {
		return zero, err
	}
	return decode[T](r.collection, id, row.Data)
}

func (r *GormRepository[T]) find(db *gorm.DB, id string) (*Record, error) {
	var row Record
	err := db.Where("collection = ? AND id = ?", r.collection, id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", r.collection, id, err)
	}
	return &row, nil
}
