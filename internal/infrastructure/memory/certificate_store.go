package memory

import (
	"context"
	"sync"
	"time"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
)

var (
	_ repository.CertificateRepository = (*CertificateStore)(nil)
	_ appfiscal.CertificateTxRunner    = (*CertificateStore)(nil)
)

// CertificateStore perfiles de certificado. RunCertificates serializa por (tenant, ambiente).
type CertificateStore struct {
	mu       sync.Mutex
	profiles map[string]*entity.CertificateProfile

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewCertificateStore crea un store vacío.
func NewCertificateStore() *CertificateStore {
	return &CertificateStore{
		profiles: make(map[string]*entity.CertificateProfile),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *CertificateStore) lockFor(tenantID, environment string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	key := tenantID + "|" + environment
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// RunCertificates ejecuta fn con el lock del (tenant, ambiente). Si fn falla se restauran
// los perfiles de ese par.
func (s *CertificateStore) RunCertificates(ctx context.Context, tenantID, environment string, fn func(repository.CertificateRepository) error) error {
	l := s.lockFor(tenantID, environment)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	snapshot := make(map[string]*entity.CertificateProfile)
	for id, p := range s.profiles {
		if p.TenantID == tenantID && p.Environment == environment {
			snapshot[id] = cloneProfile(p)
		}
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		for id, p := range s.profiles {
			if p.TenantID == tenantID && p.Environment == environment {
				delete(s.profiles, id)
			}
		}
		for id, p := range snapshot {
			s.profiles[id] = p
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *CertificateStore) Create(_ context.Context, p *entity.CertificateProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; ok {
		return domain.ErrDuplicate
	}
	if p.IsActive && p.DeletedAt == nil && s.activeLocked(p.TenantID, p.Environment) != nil {
		return domain.ErrActiveCertificateExists
	}
	s.profiles[p.ID] = cloneProfile(p)
	return nil
}

func (s *CertificateStore) GetByID(_ context.Context, id string) (*entity.CertificateProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (s *CertificateStore) GetActive(_ context.Context, tenantID, environment string) (*entity.CertificateProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.activeLocked(tenantID, environment)
	if p == nil {
		return nil, domain.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (s *CertificateStore) activeLocked(tenantID, environment string) *entity.CertificateProfile {
	for _, p := range s.profiles {
		if p.TenantID == tenantID && p.Environment == environment && p.IsActive && p.DeletedAt == nil {
			return p
		}
	}
	return nil
}

func (s *CertificateStore) Annul(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !p.IsActive || p.DeletedAt != nil {
		return domain.ErrConflict
	}
	t := at
	p.IsActive = false
	p.DeletedAt = &t
	p.EncryptedPrivateKey = nil
	p.EncryptedCertificate = nil
	p.UpdatedAt = at
	return nil
}

func (s *CertificateStore) PurgeDeleted(_ context.Context, tenantID, environment string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.profiles {
		if p.TenantID == tenantID && p.Environment == environment && p.DeletedAt != nil {
			delete(s.profiles, id)
			n++
		}
	}
	return n, nil
}

func (s *CertificateStore) ListActive(_ context.Context) ([]*entity.CertificateProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.CertificateProfile
	for _, p := range s.profiles {
		if p.IsActive && p.DeletedAt == nil {
			out = append(out, cloneProfile(p))
		}
	}
	return out, nil
}

func cloneProfile(p *entity.CertificateProfile) *entity.CertificateProfile {
	c := *p
	c.DeletedAt = cloneTime(p.DeletedAt)
	c.EncryptedPrivateKey = append([]byte(nil), p.EncryptedPrivateKey...)
	c.EncryptedCertificate = append([]byte(nil), p.EncryptedCertificate...)
	return &c
}
