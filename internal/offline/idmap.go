package offline

import (
	"context"

	"github.com/smallbiznis/roadfuel/internal/clock"
	"github.com/smallbiznis/roadfuel/internal/wire"
	storedb "github.com/smallbiznis/roadfuel/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IDMapping records which server id a placeholder became once its queued
// create was accepted.
type IDMapping struct {
	Entity    string `gorm:"column:entity;primaryKey"`
	LocalID   string `gorm:"column:local_id;primaryKey"`
	ServerID  string `gorm:"column:server_id"`
	CreatedAt string `gorm:"column:created_at"`
}

func (IDMapping) TableName() string { return "id_mappings" }

type IDMap struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewIDMap(db *gorm.DB, clk clock.Clock) *IDMap {
	return &IDMap{db: db, clock: clk}
}

func (m *IDMap) Put(ctx context.Context, entity, localID, serverID string) error {
	row := IDMapping{
		Entity:    entity,
		LocalID:   localID,
		ServerID:  serverID,
		CreatedAt: wire.FormatISO(m.clock.Now()),
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity"}, {Name: "local_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"server_id"}),
	}).Create(&row).Error
}

// Resolve maps id to a server id. Non-placeholder ids resolve to themselves;
// a placeholder without a mapping yet returns ok=false.
func (m *IDMap) Resolve(ctx context.Context, entity, id string) (string, bool, error) {
	if !IsPlaceholder(id) {
		return id, true, nil
	}
	var row IDMapping
	err := m.db.WithContext(ctx).
		Where("entity = ? AND local_id = ?", entity, id).
		First(&row).Error
	if storedb.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.ServerID, true, nil
}
