// Package syncer pushes local clients and invoices to an accounting
// provider. Rows are processed by a small worker pool; an invoice's client
// is always synced before the invoice itself. Row failures are isolated:
// one bad row never aborts the rest of the batch.
package syncer

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tradiehq/ledgersync/internal/auth/token"
	"github.com/tradiehq/ledgersync/internal/db/models"
	"github.com/tradiehq/ledgersync/internal/logging"
	"github.com/tradiehq/ledgersync/internal/metrics"
	"github.com/tradiehq/ledgersync/internal/providers"
	"github.com/tradiehq/ledgersync/internal/util"
)

// DefaultWorkers bounds concurrent provider calls within one batch.
const DefaultWorkers = 4

// ErrInvalidOptions is returned unless exactly one of EntityID or All is
// set.
var ErrInvalidOptions = errors.New("exactly one of entity_id or sync_all must be provided")

// ErrSyncDisabled is returned when the provider connection exists but sync
// has been switched off.
var ErrSyncDisabled = errors.New("sync is disabled for this provider")

// Options selects what to sync: one entity by id, or everything the caller
// owns.
type Options struct {
	EntityID string
	All      bool
}

func (o Options) validate() error {
	if (o.EntityID == "") == !o.All {
		return ErrInvalidOptions
	}
	return nil
}

// RowError describes one failed row in a batch.
type RowError struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Error string `json:"error"`
}

// Result summarizes a sync batch.
type Result struct {
	Synced int        `json:"synced"`
	Failed int        `json:"failed"`
	Total  int        `json:"total"`
	Errors []RowError `json:"errors,omitempty"`
}

// Service runs sync jobs against one provider.
type Service struct {
	db       *gorm.DB
	tokens   *token.Manager
	provider providers.Provider
	logger   *zap.Logger
	workers  int
	now      func() time.Time
}

// NewService wires a sync service for a provider.
func NewService(gdb *gorm.DB, tokens *token.Manager, p providers.Provider, logger *zap.Logger) *Service {
	return &Service{
		db:       gdb,
		tokens:   tokens,
		provider: p,
		logger:   logger.Named("sync_" + p.Name()),
		workers:  DefaultWorkers,
		now:      time.Now,
	}
}

// SyncClients pushes client rows to the provider.
func (s *Service) SyncClients(ctx context.Context, userID string, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	tok, err := s.accessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	clients, err := s.loadClients(ctx, userID, opts)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())
	started := s.now()
	defer func() {
		metrics.SyncBatchDuration.WithLabelValues(s.provider.Name(), models.EntityTypeClient).
			Observe(time.Since(started).Seconds())
	}()

	result := &Result{Total: len(clients)}
	var mu stdsync.Mutex
	s.forEach(len(clients), func(i int) {
		c := &clients[i]
		err := s.syncClientRow(ctx, tok, c)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RowError{
				ID: c.ID, Label: c.DisplayName(), Error: util.TruncateError(err.Error()),
			})
		} else {
			result.Synced++
		}
	})

	s.logger.Info("client sync finished", logging.Field(ctx),
		zap.String("user_id", userID),
		zap.Int("synced", result.Synced), zap.Int("failed", result.Failed))
	return result, nil
}

// SyncInvoices pushes invoice rows to the provider. Invoices whose client
// has no provider reference yet trigger that client's sync first, so the
// ordering constraint holds without a separate scheduler.
func (s *Service) SyncInvoices(ctx context.Context, userID string, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	tok, err := s.accessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	invoices, err := s.loadInvoices(ctx, userID, opts)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())
	started := s.now()
	defer func() {
		metrics.SyncBatchDuration.WithLabelValues(s.provider.Name(), models.EntityTypeInvoice).
			Observe(time.Since(started).Seconds())
	}()

	clientsByID, err := s.loadRelatedClients(ctx, userID, invoices)
	if err != nil {
		return nil, err
	}

	// Dependency pre-pass: sync every referenced client that has no
	// provider id yet, pooled, before any invoice is attempted.
	pending := make([]*models.Client, 0)
	seen := make(map[string]bool)
	for i := range invoices {
		c, ok := clientsByID[invoices[i].ClientID]
		if ok && c.Ref(s.provider.Name()).RefID == "" && !seen[c.ID] {
			seen[c.ID] = true
			pending = append(pending, c)
		}
	}
	clientErrs := make(map[string]error)
	var depMu stdsync.Mutex
	s.forEach(len(pending), func(i int) {
		c := pending[i]
		if err := s.syncClientRow(ctx, tok, c); err != nil {
			depMu.Lock()
			clientErrs[c.ID] = err
			depMu.Unlock()
		}
	})

	result := &Result{Total: len(invoices)}
	var mu stdsync.Mutex
	s.forEach(len(invoices), func(i int) {
		inv := &invoices[i]
		err := s.syncInvoiceRow(ctx, tok, inv, clientsByID, clientErrs)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RowError{
				ID: inv.ID, Label: inv.Number, Error: util.TruncateError(err.Error()),
			})
		} else {
			result.Synced++
		}
	})

	s.logger.Info("invoice sync finished", logging.Field(ctx),
		zap.String("user_id", userID),
		zap.Int("synced", result.Synced), zap.Int("failed", result.Failed))
	return result, nil
}

// forEach runs fn(0..n-1) on the bounded worker pool and waits.
func (s *Service) forEach(n int, fn func(i int)) {
	sem := make(chan struct{}, s.workers)
	var wg stdsync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

func (s *Service) accessToken(ctx context.Context, userID string) (providers.Token, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return providers.Token{}, fmt.Errorf("failed to load user: %w", err)
	}
	cred := user.Credential(s.provider.Name())
	if cred == nil || !cred.Connected() {
		return providers.Token{}, token.ErrNotConnected
	}
	if !cred.SyncEnabled {
		return providers.Token{}, ErrSyncDisabled
	}
	return s.tokens.AccessToken(ctx, s.provider, userID)
}

func (s *Service) loadClients(ctx context.Context, userID string, opts Options) ([]models.Client, error) {
	q := s.db.WithContext(ctx).Where("user_id = ? AND deleted = ?", userID, false)
	if opts.EntityID != "" {
		q = q.Where("id = ?", opts.EntityID)
	}
	var clients []models.Client
	if err := q.Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("failed to load clients: %w", err)
	}
	if opts.EntityID != "" && len(clients) == 0 {
		return nil, fmt.Errorf("client %s not found", opts.EntityID)
	}
	return clients, nil
}

func (s *Service) loadInvoices(ctx context.Context, userID string, opts Options) ([]models.Invoice, error) {
	q := s.db.WithContext(ctx).Preload("LineItems").
		Where("user_id = ? AND deleted = ?", userID, false)
	if opts.EntityID != "" {
		q = q.Where("id = ?", opts.EntityID)
	}
	var invoices []models.Invoice
	if err := q.Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}
	if opts.EntityID != "" && len(invoices) == 0 {
		return nil, fmt.Errorf("invoice %s not found", opts.EntityID)
	}
	return invoices, nil
}

func (s *Service) loadRelatedClients(ctx context.Context, userID string, invoices []models.Invoice) (map[string]*models.Client, error) {
	ids := make([]string, 0, len(invoices))
	for i := range invoices {
		ids = append(ids, invoices[i].ClientID)
	}
	byID := make(map[string]*models.Client, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}
	var clients []models.Client
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("failed to load related clients: %w", err)
	}
	for i := range clients {
		byID[clients[i].ID] = &clients[i]
	}
	return byID, nil
}

// syncClientRow pushes one client. The row's prior state is preserved on
// failure; only the sync-error column changes.
func (s *Service) syncClientRow(ctx context.Context, tok providers.Token, c *models.Client) error {
	ref := c.Ref(s.provider.Name())
	contact := contactFrom(c)

	var (
		refID = ref.RefID
		err   error
	)
	if refID == "" {
		refID, err = s.provider.CreateContact(ctx, tok, contact)
	} else {
		err = s.provider.UpdateContact(ctx, tok, refID, contact)
	}

	if err != nil {
		s.recordRowFailure(ctx, c.UserID, models.EntityTypeClient, c.ID, err)
		ref.SyncError = util.TruncateError(err.Error())
		if saveErr := s.saveClient(ctx, c); saveErr != nil {
			s.logger.Error("failed to persist client sync error", zap.Error(saveErr))
		}
		return err
	}

	now := s.now()
	ref.RefID = refID
	ref.LastSynced = &now
	ref.SyncError = ""
	if err := s.saveClient(ctx, c); err != nil {
		return fmt.Errorf("synced but failed to persist reference: %w", err)
	}

	s.recordRowSuccess(ctx, c.UserID, models.EntityTypeClient, c.ID)
	return nil
}

func (s *Service) syncInvoiceRow(ctx context.Context, tok providers.Token, inv *models.Invoice, clientsByID map[string]*models.Client, clientErrs map[string]error) error {
	fail := func(err error) error {
		s.recordRowFailure(ctx, inv.UserID, models.EntityTypeInvoice, inv.ID, err)
		ref := inv.Ref(s.provider.Name())
		ref.SyncError = util.TruncateError(err.Error())
		if saveErr := s.saveInvoice(ctx, inv); saveErr != nil {
			s.logger.Error("failed to persist invoice sync error", zap.Error(saveErr))
		}
		return err
	}

	client, ok := clientsByID[inv.ClientID]
	if !ok {
		return fail(fmt.Errorf("invoice client %s not found", inv.ClientID))
	}
	if depErr, failed := clientErrs[client.ID]; failed {
		return fail(fmt.Errorf("client sync failed: %s", depErr))
	}
	contactRef := client.Ref(s.provider.Name()).RefID
	if contactRef == "" {
		return fail(fmt.Errorf("client %s has no provider reference", client.ID))
	}

	ref := inv.Ref(s.provider.Name())
	draft := invoiceFrom(inv, contactRef)

	var (
		refID = ref.RefID
		err   error
	)
	if refID == "" {
		refID, err = s.provider.CreateInvoice(ctx, tok, draft)
	} else {
		err = s.provider.UpdateInvoice(ctx, tok, refID, draft)
	}
	if err != nil {
		return fail(err)
	}

	now := s.now()
	ref.RefID = refID
	ref.LastSynced = &now
	ref.SyncError = ""
	if err := s.saveInvoice(ctx, inv); err != nil {
		return fmt.Errorf("synced but failed to persist reference: %w", err)
	}

	s.recordRowSuccess(ctx, inv.UserID, models.EntityTypeInvoice, inv.ID)
	return nil
}

func (s *Service) saveClient(ctx context.Context, c *models.Client) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Save(c).Error
}

func (s *Service) saveInvoice(ctx context.Context, inv *models.Invoice) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Save(inv).Error
}

func (s *Service) recordRowSuccess(ctx context.Context, userID, entityType, entityID string) {
	metrics.SyncedRows.WithLabelValues(s.provider.Name(), entityType, models.SyncStatusSuccess).Inc()
	s.appendLog(ctx, userID, entityType, entityID, models.SyncStatusSuccess, "")
}

func (s *Service) recordRowFailure(ctx context.Context, userID, entityType, entityID string, cause error) {
	metrics.SyncedRows.WithLabelValues(s.provider.Name(), entityType, models.SyncStatusError).Inc()
	s.logger.Warn("row sync failed", logging.Field(ctx),
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
		zap.String("error", util.Truncate(cause.Error(), util.MaxLogLen)))
	s.appendLog(ctx, userID, entityType, entityID, models.SyncStatusError, util.TruncateError(cause.Error()))
}

// appendLog writes an observational sync-log row. Log failures never fail
// the sync itself.
func (s *Service) appendLog(ctx context.Context, userID, entityType, entityID, status, errMsg string) {
	entry := models.SyncLog{
		ID:            uuid.New().String(),
		UserID:        userID,
		Provider:      s.provider.Name(),
		EntityType:    entityType,
		EntityID:      entityID,
		SyncDirection: models.SyncDirectionPush,
		SyncStatus:    status,
		ErrorMessage:  errMsg,
		CreatedAt:     s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logger.Error("failed to append sync log", zap.Error(err))
	}
}

func contactFrom(c *models.Client) *providers.Contact {
	return &providers.Contact{
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		CompanyName: c.CompanyName,
		DisplayName: c.DisplayName(),
		Email:       c.Email,
		Phone:       c.Phone,
		AddressLine: c.AddressLine,
		City:        c.City,
		Region:      c.Region,
		PostalCode:  c.PostalCode,
		Country:     c.Country,
	}
}

func invoiceFrom(inv *models.Invoice, contactRef string) *providers.Invoice {
	out := &providers.Invoice{
		Number:     inv.Number,
		Status:     inv.Status,
		IssueDate:  inv.IssueDate,
		DueDate:    inv.DueDate,
		ContactRef: contactRef,
		Total:      inv.Total,
	}
	for _, l := range inv.LineItems {
		out.Lines = append(out.Lines, providers.InvoiceLine{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitAmount:  l.UnitAmount,
			Taxable:     l.Taxable,
		})
	}
	return out
}
