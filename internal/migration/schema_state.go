package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	schemaStateID     = 1
	schemaStateActive = "active"
)

var (
	ErrSchemaStateNotFound    = errors.New("schema state not found")
	ErrSchemaStateInactive    = errors.New("schema state is not active")
	ErrSchemaVersionMismatch  = errors.New("schema version mismatch")
	ErrSchemaChecksumMismatch = errors.New("schema checksum mismatch")
)

// SchemaState is the singleton row the migrator writes once the schema
// matches the migrations embedded in this binary.
type SchemaState struct {
	ID            int        `gorm:"column:id;primaryKey;autoIncrement:false"`
	Status        string     `gorm:"column:status;type:text;not null"`
	SchemaVersion string     `gorm:"column:schema_version;type:text;not null"`
	Checksum      *string    `gorm:"column:checksum;type:text"`
	ActivatedAt   *time.Time `gorm:"column:activated_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
}

func (SchemaState) TableName() string { return "schema_state" }

func activateSchemaState(ctx context.Context, db *gorm.DB, schemaVersion, checksum string) error {
	version := strings.TrimSpace(schemaVersion)
	if version == "" {
		return errors.New("schema version is required for schema state activation")
	}

	now := time.Now().UTC()
	state := SchemaState{
		ID:            schemaStateID,
		Status:        schemaStateActive,
		SchemaVersion: version,
		Checksum:      nullIfEmpty(checksum),
		ActivatedAt:   &now,
		CreatedAt:     now,
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "schema_version", "checksum", "activated_at"}),
	}).Create(&state).Error
	if err != nil {
		return fmt.Errorf("activate schema state: %w", err)
	}
	return nil
}

func loadSchemaState(ctx context.Context, db *gorm.DB) (*SchemaState, error) {
	var state SchemaState
	result := db.WithContext(ctx).Where("id = ?", schemaStateID).Limit(1).Find(&state)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrSchemaStateNotFound
	}
	state.Status = strings.ToLower(strings.TrimSpace(state.Status))
	state.SchemaVersion = strings.TrimSpace(state.SchemaVersion)
	return &state, nil
}

func nullIfEmpty(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type SchemaGate interface {
	MustBeActive(ctx context.Context) error
}

type schemaGate struct {
	db               *gorm.DB
	expectedVersion  string
	expectedChecksum string
}

func NewSchemaGate(db *gorm.DB) (SchemaGate, error) {
	if db == nil {
		return nil, errors.New("schema gate requires database handle")
	}

	latestVersion, err := LatestMigrationVersion()
	if err != nil {
		return nil, err
	}
	expectedChecksum, err := MigrationsChecksum()
	if err != nil {
		return nil, err
	}

	return &schemaGate{
		db:               db,
		expectedVersion:  fmt.Sprintf("%d", latestVersion),
		expectedChecksum: expectedChecksum,
	}, nil
}

// MustBeActive fails when the database was migrated by a different build, or
// not at all.
func (g *schemaGate) MustBeActive(ctx context.Context) error {
	state, err := loadSchemaState(ctx, g.db)
	if err != nil {
		return err
	}

	if state.Status != schemaStateActive {
		return fmt.Errorf("%w: status=%s", ErrSchemaStateInactive, state.Status)
	}
	if state.SchemaVersion != g.expectedVersion {
		return fmt.Errorf("%w: state=%s expected=%s", ErrSchemaVersionMismatch, state.SchemaVersion, g.expectedVersion)
	}
	if state.Checksum != nil && *state.Checksum != g.expectedChecksum {
		return fmt.Errorf("%w: state=%s expected=%s", ErrSchemaChecksumMismatch, *state.Checksum, g.expectedChecksum)
	}
	return nil
}
