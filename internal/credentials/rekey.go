package credentials

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository reads and rewrites stored connection ciphertexts.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to the store_databases ciphertext column.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CipherRow is one stored ciphertext and its owner.
type CipherRow struct {
	ID                        uuid.UUID
	StoreID                   uuid.UUID
	ConnectionStringEncrypted string
}

// Sample returns up to limit of the most recently updated ciphertexts.
func (r *Repository) Sample(ctx context.Context, limit int) ([]CipherRow, error) {
	var rows []CipherRow
	err := r.db.WithContext(ctx).
		Model(&models.StoreDatabase{}).
		Select("id", "store_id", "connection_string_encrypted").
		Order("updated_at DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// Page returns ciphertexts ordered by id, starting after the given id.
func (r *Repository) Page(ctx context.Context, after uuid.UUID, limit int) ([]CipherRow, error) {
	q := r.db.WithContext(ctx).
		Model(&models.StoreDatabase{}).
		Select("id", "store_id", "connection_string_encrypted").
		Order("id ASC").
		Limit(limit)
	if after != uuid.Nil {
		q = q.Where("id > ?", after)
	}
	var rows []CipherRow
	err := q.Scan(&rows).Error
	return rows, err
}

// Replace swaps a ciphertext only if it still matches the value that was read.
func (r *Repository) Replace(ctx context.Context, id uuid.UUID, old, updated string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StoreDatabase{}).
		Where("id = ? AND connection_string_encrypted = ?", id, old).
		Update("connection_string_encrypted", updated)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// VerifySample decrypts a sample of stored ciphertexts. A failure means the
// configured key cannot read existing tenants and the process must not serve.
func VerifySample(ctx context.Context, vault *Vault, repo *Repository, size int) error {
	if size <= 0 {
		return nil
	}
	rows, err := repo.Sample(ctx, size)
	if err != nil {
		return fmt.Errorf("load ciphertext sample: %w", err)
	}
	for _, row := range rows {
		if _, err := vault.Decrypt(row.ConnectionStringEncrypted); err != nil {
			return fmt.Errorf("verify ciphertext for store %s: %w", row.StoreID, err)
		}
	}
	return nil
}

// RekeyReport summarizes a rekey run.
type RekeyReport struct {
	Scanned   int
	Rewritten int
	Skipped   int
	Failed    []uuid.UUID
}

// Rekey re-encrypts every ciphertext not sealed with the vault's current key.
// The vault must be built with the old key as its previous key.
func Rekey(ctx context.Context, vault *Vault, repo *Repository, batchSize int, logg *logger.Logger) (RekeyReport, error) {
	var report RekeyReport
	if batchSize <= 0 {
		batchSize = 100
	}
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rows, err := repo.Page(ctx, after, batchSize)
		if err != nil {
			return report, fmt.Errorf("load ciphertext page: %w", err)
		}
		if len(rows) == 0 {
			return report, nil
		}
		for _, row := range rows {
			after = row.ID
			report.Scanned++
			if !vault.NeedsRekey(row.ConnectionStringEncrypted) {
				report.Skipped++
				continue
			}
			if err := rekeyRow(ctx, vault, repo, row); err != nil {
				report.Failed = append(report.Failed, row.StoreID)
				if logg != nil {
					logg.Error(logg.WithStoreID(ctx, row.StoreID.String()), "rekey failed", err)
				}
				continue
			}
			report.Rewritten++
		}
	}
}

func rekeyRow(ctx context.Context, vault *Vault, repo *Repository, row CipherRow) error {
	plain, err := vault.Decrypt(row.ConnectionStringEncrypted)
	if err != nil {
		return err
	}
	sealed, err := vault.Encrypt(plain)
	if err != nil {
		return err
	}
	ok, err := repo.Replace(ctx, row.ID, row.ConnectionStringEncrypted, sealed)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("ciphertext changed concurrently")
	}
	return nil
}
