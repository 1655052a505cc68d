// Package recoverydb mirrors the logs/recovery/<session>.jsonl append-only
// log into a queryable sqlite index, so an operator can inspect recovery
// history without re-parsing the jsonl stream. The jsonl file remains the
// source of truth on disk (§6); this is a supplementary index only.
package recoverydb

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RecoveryEvent mirrors one line of logs/recovery/<session>.jsonl.
type RecoveryEvent struct {
	ID        uint `gorm:"primaryKey"`
	Session   string `gorm:"index"`
	Component string `gorm:"index"`
	FromState string
	ToState   string
	Cause     string
	Severity  string
	Timestamp time.Time `gorm:"index"`
}

// DB wraps the gorm handle used to index recovery events.
type DB struct {
	gdb *gorm.DB
}

// Open creates or opens the sqlite index at path and ensures its schema.
func Open(path string) (*DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := gdb.AutoMigrate(&RecoveryEvent{}); err != nil {
		return nil, err
	}
	return &DB{gdb: gdb}, nil
}

// Record inserts one recovery event, mirroring a jsonl line written by the
// pipeline's recovery-event path (critical errors, heartbeat timeouts and
// shutdown).
func (d *DB) Record(event RecoveryEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return d.gdb.Create(&event).Error
}

// BySession returns all recorded events for a session, oldest first.
func (d *DB) BySession(session string) ([]RecoveryEvent, error) {
	var events []RecoveryEvent
	err := d.gdb.Where("session = ?", session).Order("timestamp asc").Find(&events).Error
	return events, err
}

// Close releases the underlying sqlite connection.
func (d *DB) Close() error {
	sqlDB, err := d.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
