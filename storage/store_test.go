package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"chainpay/engine"
	"chainpay/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return New(db)
}

func testRequest(id, businessID string, createdAt time.Time) *models.PaymentRequest {
	return &models.PaymentRequest{
		ID:                id,
		BusinessID:        businessID,
		Kind:              models.KindLink,
		NominalAmount:     decimal.RequireFromString("10"),
		ExpectedAmount:    decimal.RequireFromString("10.004937"),
		ChainID:           1135,
		ReceivingToken:    "USDT",
		DestinationWallet: "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
		Status:            models.StatusActive,
		ExpiresAt:         createdAt.Add(time.Hour),
		CreatedAt:         createdAt,
	}
}

func TestInsertConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	req := testRequest("req-1", "biz-1", now)
	if err := store.Insert(ctx, req); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := testRequest("req-1", "biz-1", now)
	if err := store.Insert(ctx, dup); err != engine.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetByIDAbsent(t *testing.T) {
	store := setupTestStore(t)
	req, err := store.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req != nil {
		t.Fatalf("expected nil for missing id, got %+v", req)
	}
}

func TestInsertPreservesAmountAndItems(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	req := testRequest("req-items", "biz-1", now)
	req.Kind = models.KindOrder
	req.NominalAmount = decimal.RequireFromString("20")
	req.ExpectedAmount = decimal.RequireFromString("20.000042")
	req.Items = []models.LineItem{
		{Position: 0, Name: "widget", UnitPrice: decimal.RequireFromString("2.50"), Quantity: 4},
		{Position: 1, Name: "gadget", UnitPrice: decimal.RequireFromString("5"), Quantity: 2},
	}
	if err := store.Insert(ctx, req); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetByID(ctx, "req-items")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected request")
	}
	if !got.ExpectedAmount.Equal(decimal.RequireFromString("20.000042")) {
		t.Fatalf("expected amount drifted: %s", got.ExpectedAmount)
	}
	if len(got.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got.Items))
	}
	if got.Items[0].Name != "widget" || got.Items[1].Name != "gadget" {
		t.Fatalf("items out of order: %+v", got.Items)
	}
}

func TestListByBusinessOrdering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	for i := 0; i < 3; i++ {
		req := testRequest(fmt.Sprintf("req-%d", i), "biz-1", base.Add(time.Duration(i)*time.Minute))
		if err := store.Insert(ctx, req); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	other := testRequest("req-other", "biz-2", base)
	if err := store.Insert(ctx, other); err != nil {
		t.Fatalf("insert other: %v", err)
	}

	reqs, err := store.ListByBusiness(ctx, "biz-1", engine.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(reqs))
	}
	if reqs[0].ID != "req-2" || reqs[2].ID != "req-0" {
		t.Fatalf("expected newest first, got %s..%s", reqs[0].ID, reqs[2].ID)
	}
}

func TestListRecentSettled(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	for i := 0; i < 4; i++ {
		req := testRequest(fmt.Sprintf("paid-%d", i), "biz-1", base)
		req.Status = models.StatusPaid
		settled := base.Add(time.Duration(i) * time.Minute)
		req.SettledAt = &settled
		if err := store.Insert(ctx, req); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	active := testRequest("still-active", "biz-1", base)
	if err := store.Insert(ctx, active); err != nil {
		t.Fatalf("insert active: %v", err)
	}

	reqs, err := store.ListRecentSettled(ctx, "biz-1", "", 2)
	if err != nil {
		t.Fatalf("list settled: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected limit 2, got %d", len(reqs))
	}
	if reqs[0].ID != "paid-3" || reqs[1].ID != "paid-2" {
		t.Fatalf("expected most recently settled first, got %s, %s", reqs[0].ID, reqs[1].ID)
	}

	all, err := store.ListRecentSettled(ctx, "biz-1", "", 0)
	if err != nil {
		t.Fatalf("list settled default limit: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected all 4 paid requests under default limit, got %d", len(all))
	}
}

func TestUpdateSettlementMissingIDIsNoOp(t *testing.T) {
	store := setupTestStore(t)
	err := store.UpdateSettlement(context.Background(), "missing", engine.SettlementUpdate{
		Status:          models.StatusPaid,
		TransactionHash: "0xabc",
	})
	if err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
}

func TestUpdateSettlementPartial(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	req := testRequest("req-settle", "biz-1", now)
	if err := store.Insert(ctx, req); err != nil {
		t.Fatalf("insert: %v", err)
	}
	settled := now.Add(time.Minute)
	err := store.UpdateSettlement(ctx, "req-settle", engine.SettlementUpdate{
		Status:          models.StatusPaid,
		SenderWallet:    "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		TransactionHash: "0xdeadbeef",
		SettledAt:       &settled,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.GetByID(ctx, "req-settle")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusPaid {
		t.Fatalf("status not applied: %s", got.Status)
	}
	if got.TransactionHash != "0xdeadbeef" || got.SenderWallet == "" {
		t.Fatalf("settlement fields not applied: %+v", got)
	}
	if got.SettledAt == nil {
		t.Fatal("settled_at not applied")
	}
	// Untouched fields survive the partial update.
	if !got.ExpectedAmount.Equal(req.ExpectedAmount) {
		t.Fatalf("expected amount changed: %s", got.ExpectedAmount)
	}
}

func TestUpdateSettlementGuardedByPrior(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	req := testRequest("req-guard", "biz-1", now)
	if err := store.Insert(ctx, req); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Guarded against a status the row does not hold: silent no-op.
	err := store.UpdateSettlement(ctx, "req-guard", engine.SettlementUpdate{
		Prior:  models.StatusPaid,
		Status: models.StatusExpired,
	})
	if err != nil {
		t.Fatalf("guarded no-op: %v", err)
	}
	got, err := store.GetByID(ctx, "req-guard")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusActive {
		t.Fatalf("guard did not hold: %s", got.Status)
	}

	// Guarded against the matching status: applied.
	settled := now.Add(time.Minute)
	err = store.UpdateSettlement(ctx, "req-guard", engine.SettlementUpdate{
		Prior:     models.StatusActive,
		Status:    models.StatusPaid,
		SettledAt: &settled,
	})
	if err != nil {
		t.Fatalf("guarded update: %v", err)
	}
	got, err = store.GetByID(ctx, "req-guard")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusPaid {
		t.Fatalf("guarded update not applied: %s", got.Status)
	}

	// A late expiry still guarded on active cannot flip the paid row.
	err = store.UpdateSettlement(ctx, "req-guard", engine.SettlementUpdate{
		Prior:  models.StatusActive,
		Status: models.StatusExpired,
	})
	if err != nil {
		t.Fatalf("late expiry: %v", err)
	}
	got, err = store.GetByID(ctx, "req-guard")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusPaid {
		t.Fatalf("terminal state overwritten: %s", got.Status)
	}
}

func TestListOverdue(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	overdue := testRequest("overdue", "biz-1", now.Add(-2*time.Hour))
	overdue.ExpiresAt = now.Add(-time.Hour)
	current := testRequest("current", "biz-1", now)
	current.ExpiresAt = now.Add(time.Hour)
	paid := testRequest("paid", "biz-1", now.Add(-2*time.Hour))
	paid.ExpiresAt = now.Add(-time.Hour)
	paid.Status = models.StatusPaid
	for _, req := range []*models.PaymentRequest{overdue, current, paid} {
		if err := store.Insert(ctx, req); err != nil {
			t.Fatalf("insert %s: %v", req.ID, err)
		}
	}

	reqs, err := store.ListOverdue(ctx, now, 10)
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(reqs) != 1 || reqs[0].ID != "overdue" {
		t.Fatalf("expected only the overdue active request, got %+v", reqs)
	}
}

func TestResolveWallet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	business := &models.Business{ID: "biz-1", Name: "Acme", WalletAddress: "0x8ba1f109551bD432803012645Ac136ddd64DBA72"}
	if err := store.UpsertBusiness(ctx, business); err != nil {
		t.Fatalf("upsert business: %v", err)
	}

	wallet, err := store.ResolveWallet(ctx, "biz-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if wallet != business.WalletAddress {
		t.Fatalf("wallet mismatch: %s", wallet)
	}

	wallet, err = store.ResolveWallet(ctx, "nope")
	if err != nil {
		t.Fatalf("resolve missing: %v", err)
	}
	if wallet != "" {
		t.Fatalf("expected empty wallet for missing business, got %s", wallet)
	}
}
