package repository

import (
	"context"
	"time"

	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
)

// CertificateRepository perfiles de certificado por (tenant, ambiente).
type CertificateRepository interface {
	// Create inserta el perfil; domain.ErrActiveCertificateExists si ya hay uno activo.
	Create(ctx context.Context, profile *entity.CertificateProfile) error
	GetByID(ctx context.Context, id string) (*entity.CertificateProfile, error)
	// GetActive perfil activo y no eliminado; domain.ErrNotFound si no hay.
	GetActive(ctx context.Context, tenantID, environment string) (*entity.CertificateProfile, error)
	// Annul marca inactivo, fija deleted_at y anula el material cifrado. Conserva la metadata.
	Annul(ctx context.Context, id string, at time.Time) error
	// PurgeDeleted borra físicamente los perfiles ya anulados del (tenant, ambiente).
	PurgeDeleted(ctx context.Context, tenantID, environment string) (int64, error)
	ListActive(ctx context.Context) ([]*entity.CertificateProfile, error)
}
