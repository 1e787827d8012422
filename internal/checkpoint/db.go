package checkpoint

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"papersim/pkg/conn"
	"papersim/pkg/exception"
)

// Record is one stored checkpoint document.
type Record struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	SimulatorID  string    `gorm:"size:128;not null;index:idx_checkpoint_sim_at,priority:1"`
	Version      int       `gorm:"not null"`
	CheckpointAt time.Time `gorm:"not null;index:idx_checkpoint_sim_at,priority:2"`
	Document     string    `gorm:"type:jsonb;not null"`
	CreatedAt    time.Time
}

func (Record) TableName() string {
	return "papersim_checkpoints"
}

// DBStore keeps checkpoints in PostgreSQL. Documents are the same JSON the
// FileStore writes.
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(client *conn.Client) *DBStore {
	return &DBStore{db: client.DB()}
}

// Migrate creates or updates the checkpoint table.
func (s *DBStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return errors.Wrap(exception.ErrCheckpointIO, err.Error())
	}
	return nil
}

// Save inserts a checkpoint row.
func (s *DBStore) Save(ctx context.Context, cp Checkpoint) error {
	data, err := Marshal(cp)
	if err != nil {
		return err
	}
	rec := Record{
		SimulatorID:  cp.SimulatorID,
		Version:      cp.Version,
		CheckpointAt: cp.Timestamp.UTC(),
		Document:     string(data),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errors.Wrap(exception.ErrCheckpointIO, err.Error()).With("simulator", cp.SimulatorID)
	}
	logs.Infof("checkpoint saved, simulator: %s, row: %d", cp.SimulatorID, rec.ID)
	return nil
}

// LoadLatest reads the most recent checkpoint of a simulator.
func (s *DBStore) LoadLatest(ctx context.Context, simulatorID string) (Checkpoint, error) {
	var recs []Record
	err := s.db.WithContext(ctx).
		Where("simulator_id = ?", simulatorID).
		Order("checkpoint_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&recs).Error
	if err != nil {
		return Checkpoint{}, errors.Wrap(exception.ErrCheckpointIO, err.Error()).With("simulator", simulatorID)
	}
	if len(recs) == 0 {
		return Checkpoint{}, errors.Wrapf(exception.ErrCheckpointNotFound, "simulator %s", simulatorID)
	}
	return Unmarshal([]byte(recs[0].Document))
}
