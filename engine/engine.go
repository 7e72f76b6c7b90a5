// Package engine implements the payment request lifecycle: creation with a
// disambiguated expected amount, settlement on reported transfer evidence,
// and expiry. All durable state lives in the store; the engine itself is
// stateless between calls and safe for request-parallel use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"chainpay/amount"
	"chainpay/models"
	"chainpay/observability"
	"chainpay/payuri"
)

// ListFilter narrows ListByBusiness results. Zero values match everything.
type ListFilter struct {
	Kind   models.RequestKind
	Status models.RequestStatus
}

// SettlementUpdate is the partial update applied when settlement evidence
// arrives. Empty fields are left untouched. When Prior is set the store must
// apply the update only if the row still holds that status, so a racing
// transition cannot overwrite a terminal state.
type SettlementUpdate struct {
	Prior           models.RequestStatus
	Status          models.RequestStatus
	SenderWallet    string
	SenderChain     string
	CustomerName    string
	TransactionHash string
	SettledAt       *time.Time
}

// Store is the persistence contract the engine consumes. Implementations may
// not report missing ids from UpdateSettlement; the engine re-reads after
// updating where it needs the stronger guarantee.
type Store interface {
	Insert(ctx context.Context, req *models.PaymentRequest) error
	GetByID(ctx context.Context, id string) (*models.PaymentRequest, error)
	ListByBusiness(ctx context.Context, businessID string, filter ListFilter) ([]models.PaymentRequest, error)
	ListRecentSettled(ctx context.Context, businessID string, kind models.RequestKind, limit int) ([]models.PaymentRequest, error)
	UpdateSettlement(ctx context.Context, id string, update SettlementUpdate) error
	ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentRequest, error)
}

// WalletResolver looks up the receiving wallet for a business. Returns an
// empty address when the business is unknown.
type WalletResolver interface {
	ResolveWallet(ctx context.Context, businessID string) (string, error)
}

// Config captures the collaborators required to construct the engine.
type Config struct {
	Store   Store
	Wallets WalletResolver
	Amounts *amount.Disambiguator
	URIs    *payuri.Builder
	Metrics *observability.Metrics
	Log     *slog.Logger

	// BaseURL prefixes the hosted checkout / pay pages on issued requests.
	BaseURL string
	// LinkTTL is the expiry applied to payment links created without an
	// explicit deadline.
	LinkTTL time.Duration
	// DefaultChainID and DefaultToken fill creation requests that do not
	// name a target network.
	DefaultChainID uint64
	DefaultToken   string
}

// Engine orchestrates the payment request lifecycle.
type Engine struct {
	store   Store
	wallets WalletResolver
	amounts *amount.Disambiguator
	uris    *payuri.Builder
	metrics *observability.Metrics
	log     *slog.Logger

	baseURL        string
	linkTTL        time.Duration
	defaultChainID uint64
	defaultToken   string

	nowFn func() time.Time
	newID func() string
}

const defaultLinkTTL = time.Hour

// New constructs the engine.
func New(cfg Config) *Engine {
	if cfg.Store == nil {
		panic("engine: store required")
	}
	if cfg.Wallets == nil {
		panic("engine: wallet resolver required")
	}
	if cfg.Amounts == nil {
		cfg.Amounts = amount.New()
	}
	if cfg.URIs == nil {
		cfg.URIs = payuri.NewBuilder(payuri.DefaultRegistry())
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = defaultLinkTTL
	}
	return &Engine{
		store:          cfg.Store,
		wallets:        cfg.Wallets,
		amounts:        cfg.Amounts,
		uris:           cfg.URIs,
		metrics:        cfg.Metrics,
		log:            cfg.Log,
		baseURL:        cfg.BaseURL,
		linkTTL:        cfg.LinkTTL,
		defaultChainID: cfg.DefaultChainID,
		defaultToken:   cfg.DefaultToken,
		nowFn:          time.Now,
		newID:          uuid.NewString,
	}
}

// ItemSpec is one requested order position.
type ItemSpec struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// CreateSpec is the input to Create. For orders the Amount field is ignored:
// the nominal total is always recomputed from the items.
type CreateSpec struct {
	BusinessID     string
	Kind           models.RequestKind
	ClientID       string
	Title          string
	Description    string
	Amount         decimal.Decimal
	ChainID        uint64
	ChainName      string
	ReceivingToken string
	SuccessURL     string
	ExpiresAt      time.Time
	Items          []ItemSpec
}

func (e *Engine) validateCreate(spec CreateSpec, now time.Time) *ValidationError {
	var fields []FieldError
	if spec.BusinessID == "" {
		fields = append(fields, fieldErr("business_id", "required"))
	}
	if !spec.Kind.Valid() {
		fields = append(fields, fieldErr("kind", "must be order or link"))
		return &ValidationError{Fields: fields}
	}
	switch spec.Kind {
	case models.KindOrder:
		if spec.ClientID == "" {
			fields = append(fields, fieldErr("client_id", "required"))
		}
		if spec.SuccessURL == "" {
			fields = append(fields, fieldErr("success_url", "required"))
		}
		if spec.ExpiresAt.IsZero() {
			fields = append(fields, fieldErr("expired_at", "required"))
		} else if !spec.ExpiresAt.After(now) {
			fields = append(fields, fieldErr("expired_at", "must be in the future"))
		}
		if len(spec.Items) == 0 {
			fields = append(fields, fieldErr("items", "at least one item is required"))
		}
		for i, item := range spec.Items {
			if item.Name == "" {
				fields = append(fields, itemErr(i, "product_name", "required"))
			}
			if item.UnitPrice.Sign() <= 0 {
				fields = append(fields, itemErr(i, "unit_price", "must be greater than 0"))
			}
			if item.Quantity <= 0 {
				fields = append(fields, itemErr(i, "quantity", "must be greater than 0"))
			}
		}
	case models.KindLink:
		if spec.Title == "" {
			fields = append(fields, fieldErr("title", "required"))
		}
		if spec.Amount.Sign() <= 0 {
			fields = append(fields, fieldErr("amount", "must be greater than 0"))
		}
		if !spec.ExpiresAt.IsZero() && !spec.ExpiresAt.After(now) {
			fields = append(fields, fieldErr("expired_at", "must be in the future"))
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Create validates the spec, derives the disambiguated expected amount,
// resolves the destination wallet and persists the request as active.
// Nothing is persisted on any failure path.
func (e *Engine) Create(ctx context.Context, spec CreateSpec) (*models.PaymentRequest, error) {
	now := e.nowFn().UTC()
	if verr := e.validateCreate(spec, now); verr != nil {
		return nil, verr
	}

	nominal := spec.Amount
	var items []models.LineItem
	if spec.Kind == models.KindOrder {
		// Never trust a client-supplied total.
		nominal = decimal.Zero
		items = make([]models.LineItem, 0, len(spec.Items))
		for i, item := range spec.Items {
			nominal = nominal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
			items = append(items, models.LineItem{
				Position:  i,
				Name:      item.Name,
				UnitPrice: item.UnitPrice,
				Quantity:  item.Quantity,
			})
		}
	}

	wallet, err := e.wallets.ResolveWallet(ctx, spec.BusinessID)
	if err != nil {
		return nil, persistErr("resolve business wallet", err)
	}
	if wallet == "" {
		return nil, ErrBusinessNotFound
	}

	chainID := spec.ChainID
	if chainID == 0 {
		chainID = e.defaultChainID
	}
	token := spec.ReceivingToken
	if token == "" {
		token = e.defaultToken
	}
	chainName := spec.ChainName
	if chainName == "" {
		chainName = e.uris.ChainName(chainID)
	}
	expiresAt := spec.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(e.linkTTL)
	}

	// The suffix must scale exactly at the token's precision or the URI
	// builder could never render the request; resolve it up front so an
	// unconfigured chain/token fails at creation, not at render time.
	precision, err := e.uris.Precision(chainID, token)
	if err != nil {
		return nil, err
	}
	expected, err := e.amounts.Expected(nominal, precision)
	if err != nil {
		return nil, fmt.Errorf("%w: token %s on chain %d resolves %d decimals", payuri.ErrUnsupportedChain, token, chainID, precision)
	}

	req := &models.PaymentRequest{
		ID:                e.newID(),
		BusinessID:        spec.BusinessID,
		Kind:              spec.Kind,
		ClientID:          spec.ClientID,
		Title:             spec.Title,
		Description:       spec.Description,
		NominalAmount:     nominal,
		ExpectedAmount:    expected,
		ChainID:           chainID,
		ChainName:         chainName,
		ReceivingToken:    token,
		DestinationWallet: wallet,
		Status:            models.StatusActive,
		SuccessURL:        spec.SuccessURL,
		ExpiresAt:         expiresAt.UTC(),
		CreatedAt:         now,
		Items:             items,
	}
	req.PaymentURL = e.hostedURL(req.Kind, req.ID)

	if err := e.store.Insert(ctx, req); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, persistErr("persist payment request", err)
	}

	e.metrics.RequestCreated(string(req.Kind))
	e.log.InfoContext(ctx, "payment request created",
		"id", req.ID,
		"kind", req.Kind,
		"business_id", req.BusinessID,
		"expected_amount", req.ExpectedAmount.String(),
		"expires_at", req.ExpiresAt,
	)
	return req, nil
}

func (e *Engine) hostedURL(kind models.RequestKind, id string) string {
	if e.baseURL == "" {
		return ""
	}
	if kind == models.KindOrder {
		return e.baseURL + "/checkout/" + id
	}
	return e.baseURL + "/pay/" + id
}

// Evidence is the transfer attribution reported by the settlement observer.
// The engine does not re-check it against the expected amount or wallet;
// attribution correctness was established upstream by amount matching.
type Evidence struct {
	Status          models.RequestStatus
	SenderWallet    string
	SenderChain     string
	CustomerName    string
	TransactionHash string
}

// Settle applies reported settlement evidence. A repeat report of the status
// the request already holds succeeds idempotently; any other report against a
// terminal request fails with ErrInvalidTransition.
func (e *Engine) Settle(ctx context.Context, id string, ev Evidence) (*models.PaymentRequest, error) {
	if !ev.Status.Terminal() {
		return nil, &ValidationError{Fields: []FieldError{
			fieldErr("status", "must be paid or expired"),
		}}
	}

	current, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, persistErr("load payment request", err)
	}
	if current == nil {
		return nil, ErrNotFound
	}
	if current.Status != models.StatusActive {
		if current.Status == ev.Status {
			return current, nil
		}
		return nil, fmtInvalidTransition(id, current.Status, ev.Status)
	}

	update := SettlementUpdate{
		Prior:           models.StatusActive,
		Status:          ev.Status,
		SenderWallet:    ev.SenderWallet,
		SenderChain:     ev.SenderChain,
		CustomerName:    ev.CustomerName,
		TransactionHash: ev.TransactionHash,
	}
	if ev.Status == models.StatusPaid {
		settled := e.nowFn().UTC()
		update.SettledAt = &settled
	}
	if err := e.store.UpdateSettlement(ctx, id, update); err != nil {
		return nil, persistErr("apply settlement update", err)
	}

	// UpdateSettlement is a silent no-op for missing rows and guarded
	// writes; re-read to turn the weak store contract into a strong
	// post-condition.
	updated, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, persistErr("reload payment request", err)
	}
	if updated == nil {
		return nil, persistErr("apply settlement update", errUpdateNotApplied)
	}
	if updated.Status != ev.Status {
		// A concurrent transition won the row between the read and the
		// guarded write.
		if updated.Status.Terminal() {
			return nil, fmtInvalidTransition(id, updated.Status, ev.Status)
		}
		return nil, persistErr("apply settlement update", errUpdateNotApplied)
	}

	e.metrics.RequestSettled(string(updated.Kind), string(updated.Status))
	e.log.InfoContext(ctx, "payment request settled",
		"id", updated.ID,
		"kind", updated.Kind,
		"status", updated.Status,
		"transaction_hash", updated.TransactionHash,
	)
	return updated, nil
}

// Expire flips an active request to expired once its deadline has passed.
// Requests still inside their window, or already terminal, are left alone.
func (e *Engine) Expire(ctx context.Context, id string) (*models.PaymentRequest, error) {
	now := e.nowFn().UTC()
	current, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, persistErr("load payment request", err)
	}
	if current == nil {
		return nil, ErrNotFound
	}
	if current.Status != models.StatusActive || !now.After(current.ExpiresAt) {
		return current, nil
	}
	update := SettlementUpdate{Prior: models.StatusActive, Status: models.StatusExpired}
	if err := e.store.UpdateSettlement(ctx, id, update); err != nil {
		return nil, persistErr("expire payment request", err)
	}
	updated, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, persistErr("reload payment request", err)
	}
	if updated == nil {
		return nil, persistErr("expire payment request", errUpdateNotApplied)
	}
	if updated.Status != models.StatusExpired {
		// A settlement landed between the read and the guarded write; the
		// terminal state it established stands.
		if updated.Status.Terminal() {
			return updated, nil
		}
		return nil, persistErr("expire payment request", errUpdateNotApplied)
	}

	e.metrics.RequestExpired(string(updated.Kind))
	e.log.InfoContext(ctx, "payment request expired", "id", id, "kind", updated.Kind)
	return updated, nil
}

// Get returns a request by id.
func (e *Engine) Get(ctx context.Context, id string) (*models.PaymentRequest, error) {
	req, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, persistErr("load payment request", err)
	}
	if req == nil {
		return nil, ErrNotFound
	}
	return req, nil
}

// ListByBusiness returns a business's requests, newest first.
func (e *Engine) ListByBusiness(ctx context.Context, businessID string, filter ListFilter) ([]models.PaymentRequest, error) {
	reqs, err := e.store.ListByBusiness(ctx, businessID, filter)
	if err != nil {
		return nil, persistErr("list payment requests", err)
	}
	return reqs, nil
}

// ListRecentSettled returns the most recently paid requests for a business,
// bounded by limit (10 when unspecified).
func (e *Engine) ListRecentSettled(ctx context.Context, businessID string, kind models.RequestKind, limit int) ([]models.PaymentRequest, error) {
	reqs, err := e.store.ListRecentSettled(ctx, businessID, kind, limit)
	if err != nil {
		return nil, persistErr("list settled payment requests", err)
	}
	return reqs, nil
}

// BuildPayableURI renders the request as an EIP-681 transfer URI for code
// rendering.
func (e *Engine) BuildPayableURI(req *models.PaymentRequest) (string, error) {
	return e.uris.Build(req.ChainID, req.ReceivingToken, req.DestinationWallet, req.ExpectedAmount)
}
