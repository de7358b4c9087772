package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carepool/internal/config"
	"carepool/internal/domain"
	"carepool/internal/repo"
)

// ResolveFacilityAndConfig picks the active facility and ensures a facility +
// config exist in DB, seeding defaults if missing. It prefers overrides, then
// single-facility DB. If the facility does not exist, it is created on the fly.
func ResolveFacilityAndConfig(ctx context.Context, facilityOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	facilityID := facilityOverride
	if facilityID == "" {
		if f, err := r.SingleFacility(ctx); err == nil {
			facilityID = f.ID
		} else {
			return "", nil, fmt.Errorf("facility not specified; use --facility")
		}
	}
	seedCfg := config.Default(facilityID)

	if _, err := r.GetFacility(ctx, facilityID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createFacility(ctx, r, facilityID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetFacilityConfig(ctx, facilityID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertFacilityConfig(ctx, facilityID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed facility config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Facility.ID = facilityID
	return facilityID, cfg, nil
}

// createFacility inserts a minimal facility footprint using the seed config.
func createFacility(ctx context.Context, r repo.Repo, facilityID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(facilityID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	f := domain.Facility{
		ID:        facilityID,
		Status:    "active",
		CreatedAt: now,
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO facilities(id,name,status,created_at) VALUES (?,?,?,?)`,
		f.ID, nil, f.Status, f.CreatedAt); err != nil {
		return fmt.Errorf("insert facility: %w", err)
	}
	if err := r.UpsertFacilityConfigTx(ctx, tx, facilityID, seedCfg); err != nil {
		return fmt.Errorf("insert facility config: %w", err)
	}
	return tx.Commit()
}
