// Package memory implementa los puertos de persistencia en memoria. Se usa en desarrollo
// local sin base de datos y como fake en las pruebas; un proceso, sin durabilidad.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

var (
	_ repository.QueueRepository   = (*QueueStore)(nil)
	_ repository.ReceiptRepository = receiptStore{}
	_ appfiscal.QueueTxRunner      = (*QueueStore)(nil)
)

// QueueStore cola y comprobantes protegidos por un único mutex.
type QueueStore struct {
	mu   sync.Mutex
	data *queueData
}

// NewQueueStore crea un store vacío.
func NewQueueStore() *QueueStore {
	return &QueueStore{data: newQueueData()}
}

// Receipts repositorio de comprobantes que comparte estado con la cola.
func (s *QueueStore) Receipts() repository.ReceiptRepository { return receiptStore{s} }

// RunQueue ejecuta fn con el lock tomado; si fn falla se restaura el estado previo.
func (s *QueueStore) RunQueue(ctx context.Context, fn func(repository.QueueRepository, repository.ReceiptRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	if err := fn(txQueue{s.data}, txReceipts{s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *QueueStore) Create(_ context.Context, item *entity.TransactionQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.create(item)
}

func (s *QueueStore) FindByKey(_ context.Context, tenantID, endpoint, orderID string, action fiscal.Action) (*entity.TransactionQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.findByKey(tenantID, endpoint, orderID, action)
}

func (s *QueueStore) GetByID(_ context.Context, id string) (*entity.TransactionQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.getByID(id)
}

func (s *QueueStore) Claim(_ context.Context, endpoint, token string, now, leaseUntil time.Time) (*entity.TransactionQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.claim(endpoint, token, now, leaseUntil), nil
}

func (s *QueueStore) MarkSent(_ context.Context, id, token string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.markSent(id, token, sentAt)
}

func (s *QueueStore) MarkFailed(_ context.Context, id, token string, f repository.QueueFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.markFailed(id, token, f)
}

func (s *QueueStore) Release(_ context.Context, id, token string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.release(id, token, now)
}

func (s *QueueStore) ListExpiredClaims(_ context.Context, now time.Time) ([]*entity.TransactionQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.list(func(it *entity.TransactionQueueItem) bool {
		return it.Status == entity.QueueStatusSending && it.ClaimedUntil != nil && it.ClaimedUntil.Before(now)
	}, 0), nil
}

func (s *QueueStore) Requeue(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.requeue(id, now)
}

func (s *QueueStore) CountByStatus(_ context.Context, tenantID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.countByStatus(tenantID), nil
}

func (s *QueueStore) ListByStatus(_ context.Context, tenantID, status string, limit int) ([]*entity.TransactionQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listByStatus(tenantID, status, limit), nil
}

// ── Estado ────────────────────────────────────────────────────────────────────

type queueData struct {
	items    map[string]*entity.TransactionQueueItem
	keys     map[string]string // llave de idempotencia → id
	receipts []*entity.ReceiptRecord
}

func newQueueData() *queueData {
	return &queueData{
		items: make(map[string]*entity.TransactionQueueItem),
		keys:  make(map[string]string),
	}
}

func (d *queueData) clone() *queueData {
	c := newQueueData()
	for id, it := range d.items {
		c.items[id] = cloneItem(it)
	}
	for k, v := range d.keys {
		c.keys[k] = v
	}
	c.receipts = append(c.receipts, d.receipts...)
	return c
}

func idempotencyKey(tenantID, endpoint, orderID string, action fiscal.Action) string {
	return tenantID + "\x00" + endpoint + "\x00" + orderID + "\x00" + string(action)
}

func (d *queueData) create(item *entity.TransactionQueueItem) error {
	key := idempotencyKey(item.TenantID, item.Endpoint, item.OrderID, item.Action)
	if _, ok := d.keys[key]; ok {
		return domain.ErrDuplicate
	}
	if _, ok := d.items[item.ID]; ok {
		return domain.ErrDuplicate
	}
	d.items[item.ID] = cloneItem(item)
	d.keys[key] = item.ID
	return nil
}

func (d *queueData) findByKey(tenantID, endpoint, orderID string, action fiscal.Action) (*entity.TransactionQueueItem, error) {
	id, ok := d.keys[idempotencyKey(tenantID, endpoint, orderID, action)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d.getByID(id)
}

func (d *queueData) getByID(id string) (*entity.TransactionQueueItem, error) {
	it, ok := d.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneItem(it), nil
}

// claim elige el elegible más antiguo por created_at.
func (d *queueData) claim(endpoint, token string, now, leaseUntil time.Time) *entity.TransactionQueueItem {
	var next *entity.TransactionQueueItem
	for _, it := range d.items {
		if it.Endpoint != endpoint || !it.IsClaimable(now) {
			continue
		}
		if next == nil || it.CreatedAt.Before(next.CreatedAt) ||
			(it.CreatedAt.Equal(next.CreatedAt) && it.ID < next.ID) {
			next = it
		}
	}
	if next == nil {
		return nil
	}
	lease := leaseUntil
	next.Status = entity.QueueStatusSending
	next.ClaimToken = token
	next.ClaimedUntil = &lease
	next.UpdatedAt = now
	return cloneItem(next)
}

func (d *queueData) claimed(id, token string) (*entity.TransactionQueueItem, error) {
	it, ok := d.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if it.Status != entity.QueueStatusSending || it.ClaimToken != token {
		return nil, domain.ErrConflict
	}
	return it, nil
}

func (d *queueData) markSent(id, token string, sentAt time.Time) error {
	it, err := d.claimed(id, token)
	if err != nil {
		return err
	}
	at := sentAt
	it.Status = entity.QueueStatusSent
	it.SentAt = &at
	it.NextAttemptAt = nil
	it.ClaimToken = ""
	it.ClaimedUntil = nil
	it.UpdatedAt = sentAt
	return nil
}

func (d *queueData) markFailed(id, token string, f repository.QueueFailure) error {
	it, err := d.claimed(id, token)
	if err != nil {
		return err
	}
	it.Status = f.Status
	it.RetryCount = f.RetryCount
	it.LastError = f.LastError
	it.NextAttemptAt = cloneTime(f.NextAttemptAt)
	it.ClaimToken = ""
	it.ClaimedUntil = nil
	it.UpdatedAt = f.At
	return nil
}

func (d *queueData) release(id, token string, now time.Time) error {
	it, err := d.claimed(id, token)
	if err != nil {
		return err
	}
	it.Status = entity.QueueStatusPending
	it.NextAttemptAt = nil
	it.ClaimToken = ""
	it.ClaimedUntil = nil
	it.UpdatedAt = now
	return nil
}

func (d *queueData) countByStatus(tenantID string) map[string]int {
	out := make(map[string]int)
	for _, it := range d.items {
		if tenantID == "" || it.TenantID == tenantID {
			out[it.Status]++
		}
	}
	return out
}

func (d *queueData) listByStatus(tenantID, status string, limit int) []*entity.TransactionQueueItem {
	return d.list(func(it *entity.TransactionQueueItem) bool {
		return it.Status == status && (tenantID == "" || it.TenantID == tenantID)
	}, limit)
}

func (d *queueData) requeue(id string, now time.Time) error {
	it, ok := d.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if it.Status != entity.QueueStatusFailedPermanent {
		return domain.ErrConflict
	}
	it.Status = entity.QueueStatusPending
	it.RetryCount = 0
	it.NextAttemptAt = nil
	it.UpdatedAt = now
	return nil
}

func (d *queueData) list(match func(*entity.TransactionQueueItem) bool, limit int) []*entity.TransactionQueueItem {
	var out []*entity.TransactionQueueItem
	for _, it := range d.items {
		if match(it) {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneItem(it *entity.TransactionQueueItem) *entity.TransactionQueueItem {
	c := *it
	c.Payload = append([]byte(nil), it.Payload...)
	c.NextAttemptAt = cloneTime(it.NextAttemptAt)
	c.ClaimedUntil = cloneTime(it.ClaimedUntil)
	c.SentAt = cloneTime(it.SentAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// ── Vistas transaccionales (lock ya tomado) ───────────────────────────────────

type txQueue struct{ d *queueData }

func (t txQueue) Create(_ context.Context, item *entity.TransactionQueueItem) error {
	return t.d.create(item)
}

func (t txQueue) FindByKey(_ context.Context, tenantID, endpoint, orderID string, action fiscal.Action) (*entity.TransactionQueueItem, error) {
	return t.d.findByKey(tenantID, endpoint, orderID, action)
}

func (t txQueue) GetByID(_ context.Context, id string) (*entity.TransactionQueueItem, error) {
	return t.d.getByID(id)
}

func (t txQueue) Claim(_ context.Context, endpoint, token string, now, leaseUntil time.Time) (*entity.TransactionQueueItem, error) {
	return t.d.claim(endpoint, token, now, leaseUntil), nil
}

func (t txQueue) MarkSent(_ context.Context, id, token string, sentAt time.Time) error {
	return t.d.markSent(id, token, sentAt)
}

func (t txQueue) MarkFailed(_ context.Context, id, token string, f repository.QueueFailure) error {
	return t.d.markFailed(id, token, f)
}

func (t txQueue) Release(_ context.Context, id, token string, now time.Time) error {
	return t.d.release(id, token, now)
}

func (t txQueue) ListExpiredClaims(_ context.Context, now time.Time) ([]*entity.TransactionQueueItem, error) {
	return t.d.list(func(it *entity.TransactionQueueItem) bool {
		return it.Status == entity.QueueStatusSending && it.ClaimedUntil != nil && it.ClaimedUntil.Before(now)
	}, 0), nil
}

func (t txQueue) Requeue(_ context.Context, id string, now time.Time) error {
	return t.d.requeue(id, now)
}

func (t txQueue) CountByStatus(_ context.Context, tenantID string) (map[string]int, error) {
	return t.d.countByStatus(tenantID), nil
}

func (t txQueue) ListByStatus(_ context.Context, tenantID, status string, limit int) ([]*entity.TransactionQueueItem, error) {
	return t.d.listByStatus(tenantID, status, limit), nil
}

// ── Comprobantes ──────────────────────────────────────────────────────────────

type txReceipts struct{ d *queueData }

func (t txReceipts) Create(_ context.Context, r *entity.ReceiptRecord) error {
	return t.d.createReceipt(r)
}

func (t txReceipts) GetByOrderID(_ context.Context, tenantID, orderID string) (*entity.ReceiptRecord, error) {
	return t.d.receiptByOrder(tenantID, orderID)
}

func (t txReceipts) GetByQueueItemID(_ context.Context, queueItemID string) (*entity.ReceiptRecord, error) {
	return t.d.receiptByQueueItem(queueItemID)
}

type receiptStore struct{ s *QueueStore }

func (r receiptStore) Create(_ context.Context, rec *entity.ReceiptRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.data.createReceipt(rec)
}

func (r receiptStore) GetByOrderID(_ context.Context, tenantID, orderID string) (*entity.ReceiptRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.data.receiptByOrder(tenantID, orderID)
}

func (r receiptStore) GetByQueueItemID(_ context.Context, queueItemID string) (*entity.ReceiptRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.data.receiptByQueueItem(queueItemID)
}

func (d *queueData) createReceipt(r *entity.ReceiptRecord) error {
	for _, existing := range d.receipts {
		if existing.ID == r.ID || existing.QueueItemID == r.QueueItemID {
			return domain.ErrDuplicate
		}
	}
	c := *r
	d.receipts = append(d.receipts, &c)
	return nil
}

func (d *queueData) receiptByOrder(tenantID, orderID string) (*entity.ReceiptRecord, error) {
	var latest *entity.ReceiptRecord
	for _, r := range d.receipts {
		if r.TenantID != tenantID || r.OrderID != orderID {
			continue
		}
		if latest == nil || !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (d *queueData) receiptByQueueItem(queueItemID string) (*entity.ReceiptRecord, error) {
	for _, r := range d.receipts {
		if r.QueueItemID == queueItemID {
			c := *r
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}
