package journal

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/contentbridge/adaptor/errkind"
)

// SnapshotRecord is the durable row persisted for each journal snapshot
// the dashboard retains history for, beyond what the in-process ring
// buffers hold across a restart.
type SnapshotRecord struct {
	ID                 uint `gorm:"primarykey"`
	CapturedAt         time.Time
	UniqueDocIdsPushed int64
	TotalDocIdsPushed  int64
	GroupPushes        int64
	IndexerRequests    int64
	NonIndexerRequests int64
}

// PostgresStore persists JournalSnapshots so dashboard history survives a
// process restart. It is optional: Application wires it only when
// journal.postgresDsn is configured.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgresStore opens dsn and migrates the snapshot_records table.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, "journal: open postgres store", err)
	}
	if err := db.AutoMigrate(&SnapshotRecord{}); err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, "journal: migrate postgres store", err)
	}
	return &PostgresStore{db: db}, nil
}

// Save persists snap, stamped with capturedAt.
func (s *PostgresStore) Save(snap Snapshot, capturedAt time.Time) error {
	rec := SnapshotRecord{
		CapturedAt:         capturedAt,
		UniqueDocIdsPushed: snap.UniqueDocIdsPushed,
		TotalDocIdsPushed:  snap.TotalDocIdsPushed,
		GroupPushes:        snap.GroupPushes,
		IndexerRequests:    snap.IndexerRequests,
		NonIndexerRequests: snap.NonIndexerRequests,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return errkind.Wrap(errkind.Unavailable, "journal: save snapshot", err)
	}
	return nil
}

// Recent returns the most recent limit snapshot records, newest first.
func (s *PostgresStore) Recent(limit int) ([]SnapshotRecord, error) {
	var recs []SnapshotRecord
	if err := s.db.Order("captured_at desc").Limit(limit).Find(&recs).Error; err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, "journal: query snapshot history", err)
	}
	return recs, nil
}

// Close releases the underlying database connection.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
