package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/pkg/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNoActiveConfig is returned when fia_configs has no active row.
var ErrNoActiveConfig = errors.New("no active configuration")

// Source yields the snapshot for the next decision.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Store persists configuration documents in fia_configs.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	if db == nil {
		panic("config store requires database")
	}
	return &Store{db: db, now: time.Now}
}

// Activate stores snap as a new row and makes it the only active one.
func (s *Store) Activate(ctx context.Context, snap Snapshot) (*models.FiaConfig, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	doc, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode configuration: %w", err)
	}

	row := &models.FiaConfig{
		ID:        uuid.New(),
		Active:    true,
		Config:    datatypes.JSON(doc),
		CreatedAt: s.now().UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.FiaConfig{}).
			Where("active = ?", true).
			Update("active", false).Error; err != nil {
			return err
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}

	log.Info("configuration activated", "id", row.ID)
	return row, nil
}

// Active returns the active snapshot and the row it came from.
func (s *Store) Active(ctx context.Context) (Snapshot, *models.FiaConfig, error) {
	var rows []models.FiaConfig
	if err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return Snapshot{}, nil, err
	}
	if len(rows) == 0 {
		return Snapshot{}, nil, ErrNoActiveConfig
	}

	snap, err := Parse(rows[0].Config)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("active configuration %s: %w", rows[0].ID, err)
	}
	return snap, &rows[0], nil
}

// Resolver loads the active snapshot from the database, falling back to a
// file and then to the defaults, and applies the dry-run override last.
type Resolver struct {
	Store          *Store
	Path           string
	DryRunOverride string
}

func (r *Resolver) Snapshot(ctx context.Context) (Snapshot, error) {
	snap, err := r.base(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return WithDryRunOverride(snap, r.DryRunOverride)
}

func (r *Resolver) base(ctx context.Context) (Snapshot, error) {
	if r.Store != nil {
		snap, _, err := r.Store.Active(ctx)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrNoActiveConfig) {
			return Snapshot{}, err
		}
	}

	if r.Path != "" {
		snap, err := LoadFile(r.Path)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, err
		}
		log.Warn("configuration file not found, using defaults", "path", r.Path)
	}

	return Default(), nil
}

// Static is a Source that always returns the same snapshot.
type Static Snapshot

func (s Static) Snapshot(context.Context) (Snapshot, error) {
	return Snapshot(s), nil
}
