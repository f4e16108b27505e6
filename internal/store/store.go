// Package store persists room snapshots to Postgres (§6). The schema and
// upsert strategy are deliberately simple: one row per (time, room) pair,
// written with ON CONFLICT DO NOTHING so a retried or duplicate snapshot
// never overwrites history.
package store

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/loxone-go/miniserverd/internal/model"
)

// RoomSnapshot is the persisted row for one room at one point in time. Null
// aggregates are stored as nil columns, preserving the "no leaf has
// reported a value yet" distinction from a real zero reading (§6).
type RoomSnapshot struct {
	Time              time.Time `gorm:"primaryKey"`
	RoomID            string    `gorm:"primaryKey;column:id"`
	RoomName          string
	Temperature       *float64
	TemperatureTarget *float64
	Humidity          *float64
	Light             *bool
	Shading           *float64
	Valve             *float64
	Ventilation       *bool
	Presence          *bool
}

func (RoomSnapshot) TableName() string { return "room" }

// Store is the persistence boundary the snapshot scheduler writes through
// (§6). Implementations must make WriteSnapshot atomic: either every room's
// row for the batch is written, or none are.
type Store interface {
	WriteSnapshot(ctx context.Context, at time.Time, rooms []*model.Room) error
	Close() error
}

// PostgresStore is the GORM/Postgres-backed Store.
type PostgresStore struct {
	db *gorm.DB
}

// Open connects to Postgres at dsn and ensures the room table exists.
func Open(dsn string, gormLogger logger.Interface) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&RoomSnapshot{}); err != nil {
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

// WriteSnapshot upserts one row per room with a non-nil measurement (§6):
// rooms with every aggregate nil are skipped rather than written as an
// all-null row. The whole batch commits in a single transaction.
func (s *PostgresStore) WriteSnapshot(ctx context.Context, at time.Time, rooms []*model.Room) error {
	rows := make([]RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		if !room.HasMeasurement() {
			continue
		}

		rows = append(rows, RoomSnapshot{
			Time:              at,
			RoomID:            room.ID,
			RoomName:          room.Name,
			Temperature:       room.Temperature.Float(),
			TemperatureTarget: room.TemperatureTarget.Float(),
			Humidity:          room.Humidity.Float(),
			Light:             room.Light.Bool(),
			Shading:           room.Shading.Float(),
			Valve:             room.Valve.Float(),
			Ventilation:       room.Ventilation.Bool(),
			Presence:          room.Presence.Bool(),
		})
	}

	if len(rows) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "time"}, {Name: "id"}},
			DoNothing: true,
		}).Create(&rows)
		return result.Error
	})
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
