package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
)

var _ repository.CertificateRepository = (*CertificateRepo)(nil)

// CertificateRepo perfiles en fiscal_certificate_profiles (usable con pool o tx).
// El índice único parcial sobre (tenant_id, environment) activo respalda la exclusividad.
type CertificateRepo struct {
	q Querier
}

// NewCertificateRepository construye el adaptador. Pasar pool o tx (Querier).
func NewCertificateRepository(q Querier) *CertificateRepo {
	return &CertificateRepo{q: q}
}

const certificateColumns = `id, tenant_id, environment, serial_number, valid_from, valid_until, fingerprint,
	device_id, is_active, deleted_at, encrypted_private_key, encrypted_certificate, created_at, updated_at`

func (r *CertificateRepo) Create(ctx context.Context, p *entity.CertificateProfile) error {
	query := `
		INSERT INTO fiscal_certificate_profiles (` + certificateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.q.Exec(ctx, query,
		p.ID, p.TenantID, p.Environment, p.SerialNumber, p.ValidFrom, p.ValidUntil, p.Fingerprint,
		p.DeviceID, p.IsActive, p.DeletedAt, p.EncryptedPrivateKey, p.EncryptedCertificate,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s/%s: %w", p.TenantID, p.Environment, domain.ErrActiveCertificateExists)
		}
		return fmt.Errorf("insert certificate profile: %w", err)
	}
	return nil
}

func (r *CertificateRepo) GetByID(ctx context.Context, id string) (*entity.CertificateProfile, error) {
	query := `SELECT ` + certificateColumns + ` FROM fiscal_certificate_profiles WHERE id = $1`
	return r.one(ctx, query, id)
}

func (r *CertificateRepo) GetActive(ctx context.Context, tenantID, environment string) (*entity.CertificateProfile, error) {
	query := `SELECT ` + certificateColumns + `
		FROM fiscal_certificate_profiles
		WHERE tenant_id = $1 AND environment = $2 AND is_active AND deleted_at IS NULL`
	return r.one(ctx, query, tenantID, environment)
}

func (r *CertificateRepo) Annul(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE fiscal_certificate_profiles
		SET is_active = false, deleted_at = $2, encrypted_private_key = NULL,
		    encrypted_certificate = NULL, updated_at = $2
		WHERE id = $1 AND is_active AND deleted_at IS NULL`
	tag, err := r.q.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("annul certificate profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrConflict
	}
	return nil
}

func (r *CertificateRepo) PurgeDeleted(ctx context.Context, tenantID, environment string) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM fiscal_certificate_profiles
		WHERE tenant_id = $1 AND environment = $2 AND deleted_at IS NOT NULL`, tenantID, environment)
	if err != nil {
		return 0, fmt.Errorf("purge certificate profiles: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *CertificateRepo) ListActive(ctx context.Context) ([]*entity.CertificateProfile, error) {
	rows, err := r.q.Query(ctx, `SELECT `+certificateColumns+`
		FROM fiscal_certificate_profiles
		WHERE is_active AND deleted_at IS NULL
		ORDER BY valid_until`)
	if err != nil {
		return nil, fmt.Errorf("list certificate profiles: %w", err)
	}
	defer rows.Close()
	var out []*entity.CertificateProfile
	for rows.Next() {
		p, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *CertificateRepo) one(ctx context.Context, query string, args ...any) (*entity.CertificateProfile, error) {
	p, err := scanCertificate(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get certificate profile: %w", err)
	}
	return p, nil
}

func scanCertificate(row pgx.Row) (*entity.CertificateProfile, error) {
	var p entity.CertificateProfile
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Environment, &p.SerialNumber, &p.ValidFrom, &p.ValidUntil, &p.Fingerprint,
		&p.DeviceID, &p.IsActive, &p.DeletedAt, &p.EncryptedPrivateKey, &p.EncryptedCertificate,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
