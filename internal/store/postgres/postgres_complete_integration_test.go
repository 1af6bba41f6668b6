package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tengepos/backend/internal/domain"
	"tengepos/backend/internal/store"
)

func TestCompleteTransactionDecrementsStockAndPromoUses(t *testing.T) {
	databaseURL := os.Getenv("TENGEPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TENGEPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, decimal.NewFromFloat(0.12))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	sku := fmt.Sprintf("SKU-CPL-IT-%d", stamp)
	promoCode := fmt.Sprintf("CPLIT%d", stamp)
	cashier := fmt.Sprintf("it-cashier-%d", stamp)

	product, err := s.CreateProduct(ctx, domain.Product{
		SKU:           sku,
		Name:          "Completion IT Product",
		UnitType:      domain.UnitPiece,
		Price:         decimal.NewFromInt(100),
		CostPrice:     decimal.NewFromInt(60),
		StockQuantity: 10,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	maxUses := 1
	promo, err := s.CreatePromoCode(ctx, domain.PromoCode{
		Code:          promoCode,
		Name:          "Completion IT promo",
		DiscountType:  domain.DiscountFixedAmount,
		DiscountValue: decimal.NewFromInt(10),
		MaxUses:       &maxUses,
	})
	if err != nil {
		t.Fatalf("create promo: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payments WHERE transaction_id IN (SELECT id FROM transactions WHERE cashier_name = $1)`, cashier)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_id IN (SELECT id FROM transactions WHERE cashier_name = $1)`, cashier)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM active_transactions WHERE cashier_name = $1`, cashier)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE cashier_name = $1`, cashier)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM promo_codes WHERE id = $1`, promo.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	tx, err := s.CreateTransaction(ctx, domain.Transaction{CashierName: cashier})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	tx, _, err = s.AddItem(ctx, tx.ID, product.ID, decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	tx, _, err = s.ApplyPromo(ctx, tx.ID, promoCode, time.Now().UTC())
	if err != nil {
		t.Fatalf("apply promo: %v", err)
	}

	// (200 - 10) * 1.12
	want := decimal.NewFromFloat(212.80)
	if !tx.TotalAmount.Equal(want) {
		t.Fatalf("total = %s, want %s", tx.TotalAmount, want)
	}

	completed, err := s.CompleteTransaction(ctx, tx.ID, []domain.PaymentRequest{
		{Method: "cash", Amount: tx.TotalAmount},
	}, "", time.Now().UTC())
	if err != nil {
		t.Fatalf("complete transaction: %v", err)
	}
	if completed.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", completed.Status)
	}

	got, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.StockQuantity != 8 {
		t.Fatalf("stock = %d, want 8 after selling 2", got.StockQuantity)
	}

	storedPromo, err := s.GetPromoCode(ctx, promoCode)
	if err != nil {
		t.Fatalf("get promo: %v", err)
	}
	if storedPromo.CurrentUses != 1 {
		t.Fatalf("promo uses = %d, want 1", storedPromo.CurrentUses)
	}

	activeID, err := s.GetActiveTransactionID(ctx, cashier)
	if err != nil {
		t.Fatalf("get active transaction: %v", err)
	}
	if activeID != "" {
		t.Fatalf("active pointer = %q, want cleared after completion", activeID)
	}

	// The exhausted promo must be rejected on the next cart.
	tx2, err := s.CreateTransaction(ctx, domain.Transaction{CashierName: cashier})
	if err != nil {
		t.Fatalf("create second transaction: %v", err)
	}
	if _, _, err = s.AddItem(ctx, tx2.ID, product.ID, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("add item to second transaction: %v", err)
	}
	if _, _, err = s.ApplyPromo(ctx, tx2.ID, promoCode, time.Now().UTC()); !errors.Is(err, store.ErrPromoExhausted) {
		t.Fatalf("apply exhausted promo error = %v, want ErrPromoExhausted", err)
	}
}
