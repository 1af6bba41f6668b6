package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tengepos/backend/internal/cache"
	"tengepos/backend/internal/domain"
	"tengepos/backend/internal/store"
	"tengepos/backend/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService() *Service {
	repo := memory.New(dec("0.12"))
	return New(repo, cache.NewMemoryReportCache(20), 5*time.Minute)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx(username string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: "cashier"})
}

func mustCreateProduct(t *testing.T, svc *Service, sku string, price string, stock int) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		SKU:          sku,
		Name:         "Product " + sku,
		UnitType:     "piece",
		Price:        dec(price),
		CostPrice:    dec("1.00"),
		InitialStock: stock,
	})
	if err != nil {
		t.Fatalf("create product %s failed: %v", sku, err)
	}
	return product
}

func mustStart(t *testing.T, svc *Service, ctx context.Context, cashier string) domain.Transaction {
	t.Helper()
	tx, err := svc.StartTransaction(ctx, domain.StartTransactionRequest{CashierName: cashier})
	if err != nil {
		t.Fatalf("start transaction failed: %v", err)
	}
	return tx
}

func mustAddItem(t *testing.T, svc *Service, ctx context.Context, txID string, productID string, qty string) domain.Transaction {
	t.Helper()
	tx, _, err := svc.AddItem(ctx, txID, domain.AddItemRequest{ProductID: productID, Quantity: dec(qty)})
	if err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	return tx
}

func TestTransactionLifecycleCompletes(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-01", "320.00", 10)

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	tx = mustAddItem(t, svc, ctx, tx.ID, product.ID, "2")

	if !tx.Subtotal.Equal(dec("640.00")) {
		t.Fatalf("subtotal = %s, want 640.00", tx.Subtotal)
	}

	_, err := svc.CreatePromoCode(adminCtx(), domain.PromoCreateRequest{
		Code:          "OPEN10",
		Name:          "Opening 10%",
		DiscountType:  "percentage",
		DiscountValue: dec("10"),
	})
	if err != nil {
		t.Fatalf("create promo failed: %v", err)
	}

	tx, promo, err := svc.ApplyPromo(ctx, tx.ID, domain.ApplyPromoRequest{Code: "open10"})
	if err != nil {
		t.Fatalf("apply promo failed: %v", err)
	}
	if promo.Code != "OPEN10" {
		t.Fatalf("promo code = %s, want OPEN10 (case-insensitive match)", promo.Code)
	}
	if !tx.DiscountAmount.Equal(dec("64.00")) {
		t.Fatalf("discount = %s, want 64.00", tx.DiscountAmount)
	}
	if !tx.TaxAmount.Equal(dec("69.12")) {
		t.Fatalf("tax = %s, want 69.12", tx.TaxAmount)
	}
	if !tx.TotalAmount.Equal(dec("645.12")) {
		t.Fatalf("total = %s, want 645.12", tx.TotalAmount)
	}

	completed, err := svc.Complete(ctx, tx.ID, domain.CompleteRequest{
		Payments: []domain.PaymentRequest{{Method: "cash", Amount: dec("645.12")}},
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if completed.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", completed.Status)
	}
	if completed.CompletedAt == nil {
		t.Fatal("completed transaction missing completion timestamp")
	}

	got, err := svc.GetProduct(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if got.StockQuantity != 8 {
		t.Fatalf("stock = %d, want 8 after selling 2", got.StockQuantity)
	}

	stored, err := svc.repo.GetPromoCode(context.Background(), "OPEN10")
	if err != nil {
		t.Fatalf("get promo failed: %v", err)
	}
	if stored.CurrentUses != 1 {
		t.Fatalf("promo uses = %d, want exactly 1", stored.CurrentUses)
	}

	current, err := svc.GetCurrentTransaction(ctx, "aigerim")
	if err != nil {
		t.Fatalf("get current failed: %v", err)
	}
	if current != nil {
		t.Fatalf("active pointer should be cleared after completion, got %s", current.ID)
	}
}

func TestApplyPromoTwiceRejected(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-02", "100.00", 10)

	if _, err := svc.CreatePromoCode(adminCtx(), domain.PromoCreateRequest{
		Code:          "TWICE",
		Name:          "Twice",
		DiscountType:  "fixed_amount",
		DiscountValue: dec("10.00"),
	}); err != nil {
		t.Fatalf("create promo failed: %v", err)
	}

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx.ID, product.ID, "1")

	if _, _, err := svc.ApplyPromo(ctx, tx.ID, domain.ApplyPromoRequest{Code: "TWICE"}); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	_, _, err := svc.ApplyPromo(ctx, tx.ID, domain.ApplyPromoRequest{Code: "TWICE"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("second apply error = %v, want ErrValidation", err)
	}

	stored, err := svc.repo.GetPromoCode(context.Background(), "TWICE")
	if err != nil {
		t.Fatalf("get promo failed: %v", err)
	}
	if stored.CurrentUses != 0 {
		t.Fatalf("promo uses = %d, want 0 before completion", stored.CurrentUses)
	}
}

func TestCompletePaymentMismatchLeavesStateUntouched(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-03", "100.00", 5)

	if _, err := svc.CreatePromoCode(adminCtx(), domain.PromoCreateRequest{
		Code:          "SAVE5",
		Name:          "Save 5",
		DiscountType:  "fixed_amount",
		DiscountValue: dec("5.00"),
	}); err != nil {
		t.Fatalf("create promo failed: %v", err)
	}

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx.ID, product.ID, "1")
	if _, _, err := svc.ApplyPromo(ctx, tx.ID, domain.ApplyPromoRequest{Code: "SAVE5"}); err != nil {
		t.Fatalf("apply promo failed: %v", err)
	}

	_, err := svc.Complete(ctx, tx.ID, domain.CompleteRequest{
		Payments: []domain.PaymentRequest{{Method: "cash", Amount: dec("50.00")}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("mismatched payment error = %v, want ErrValidation", err)
	}

	got, err := svc.GetTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("get transaction failed: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, want still pending", got.Status)
	}
	stored, _ := svc.repo.GetPromoCode(context.Background(), "SAVE5")
	if stored.CurrentUses != 0 {
		t.Fatalf("promo uses = %d, want 0 after failed completion", stored.CurrentUses)
	}
	p, _ := svc.GetProduct(context.Background(), product.ID)
	if p.StockQuantity != 5 {
		t.Fatalf("stock = %d, want untouched 5", p.StockQuantity)
	}
}

func TestPromoExhaustedAtApply(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-04", "100.00", 10)

	maxUses := 1
	if _, err := svc.CreatePromoCode(adminCtx(), domain.PromoCreateRequest{
		Code:          "LAST1",
		Name:          "Last one",
		DiscountType:  "fixed_amount",
		DiscountValue: dec("10.00"),
		MaxUses:       &maxUses,
	}); err != nil {
		t.Fatalf("create promo failed: %v", err)
	}

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx.ID, product.ID, "1")
	applied, _, err := svc.ApplyPromo(ctx, tx.ID, domain.ApplyPromoRequest{Code: "LAST1"})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if _, err := svc.Complete(ctx, tx.ID, domain.CompleteRequest{
		Payments: []domain.PaymentRequest{{Method: "cash", Amount: applied.TotalAmount}},
	}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	tx2 := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx2.ID, product.ID, "1")
	_, _, err = svc.ApplyPromo(ctx, tx2.ID, domain.ApplyPromoRequest{Code: "LAST1"})
	if !errors.Is(err, store.ErrPromoExhausted) {
		t.Fatalf("apply on exhausted promo error = %v, want ErrPromoExhausted", err)
	}
}

func TestPromoMinimumAmountEnforced(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-05", "50.00", 10)

	if _, err := svc.CreatePromoCode(adminCtx(), domain.PromoCreateRequest{
		Code:          "BIG",
		Name:          "Big basket",
		DiscountType:  "percentage",
		DiscountValue: dec("20"),
		MinAmount:     dec("500.00"),
	}); err != nil {
		t.Fatalf("create promo failed: %v", err)
	}

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx.ID, product.ID, "1")

	_, _, err := svc.ApplyPromo(ctx, tx.ID, domain.ApplyPromoRequest{Code: "BIG"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("below-minimum apply error = %v, want ErrValidation", err)
	}
}

func TestPromoWindowEnforced(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-06", "100.00", 10)

	future := time.Now().UTC().Add(24 * time.Hour)
	if _, err := svc.CreatePromoCode(adminCtx(), domain.PromoCreateRequest{
		Code:          "SOON",
		Name:          "Not yet",
		DiscountType:  "percentage",
		DiscountValue: dec("10"),
		StartDate:     &future,
	}); err != nil {
		t.Fatalf("create promo failed: %v", err)
	}

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx.ID, product.ID, "1")

	_, _, err := svc.ApplyPromo(ctx, tx.ID, domain.ApplyPromoRequest{Code: "SOON"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("outside-window apply error = %v, want ErrValidation", err)
	}
}

func TestRemovePromoRestoresTotals(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-07", "100.00", 10)

	if _, err := svc.CreatePromoCode(adminCtx(), domain.PromoCreateRequest{
		Code:          "DROP",
		Name:          "Droppable",
		DiscountType:  "percentage",
		DiscountValue: dec("50"),
	}); err != nil {
		t.Fatalf("create promo failed: %v", err)
	}

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx.ID, product.ID, "1")
	if _, _, err := svc.ApplyPromo(ctx, tx.ID, domain.ApplyPromoRequest{Code: "DROP"}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	tx, err := svc.RemovePromo(ctx, tx.ID)
	if err != nil {
		t.Fatalf("remove promo failed: %v", err)
	}
	if tx.PromoCode != "" || !tx.DiscountAmount.IsZero() {
		t.Fatalf("promo not cleared: code=%q discount=%s", tx.PromoCode, tx.DiscountAmount)
	}
	if !tx.TotalAmount.Equal(dec("112.00")) {
		t.Fatalf("total = %s, want 112.00 without discount", tx.TotalAmount)
	}
}

func TestRestoreBlockedByActiveTransaction(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-08", "100.00", 10)

	ctx := cashierCtx("aigerim")
	tx1 := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx1.ID, product.ID, "1")
	if _, err := svc.Suspend(ctx, tx1.ID); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}

	tx2 := mustStart(t, svc, ctx, "aigerim")

	_, err := svc.Restore(ctx, tx1.ID)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("restore with active pending error = %v, want ErrConflict", err)
	}

	got1, _ := svc.GetTransaction(context.Background(), tx1.ID)
	got2, _ := svc.GetTransaction(context.Background(), tx2.ID)
	if got1.Status != domain.StatusSuspended {
		t.Fatalf("tx1 status = %s, want still suspended", got1.Status)
	}
	if got2.Status != domain.StatusPending {
		t.Fatalf("tx2 status = %s, want still pending", got2.Status)
	}
}

func TestRestoreSucceedsAfterActiveIsGone(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-09", "100.00", 10)

	ctx := cashierCtx("aigerim")
	tx1 := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx1.ID, product.ID, "1")
	if _, err := svc.Suspend(ctx, tx1.ID); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}

	restored, err := svc.Restore(ctx, tx1.ID)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending after restore", restored.Status)
	}

	current, err := svc.GetCurrentTransaction(ctx, "aigerim")
	if err != nil {
		t.Fatalf("get current failed: %v", err)
	}
	if current == nil || current.ID != tx1.ID {
		t.Fatal("restored transaction should be the cashier's active transaction")
	}
}

func TestRestoreRejectsOtherCashiersTransaction(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-21", "100.00", 10)

	aigerim := cashierCtx("aigerim")
	parked := mustStart(t, svc, aigerim, "aigerim")
	mustAddItem(t, svc, aigerim, parked.ID, product.ID, "1")
	if _, err := svc.Suspend(aigerim, parked.ID); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}

	daniyar := cashierCtx("daniyar")
	mustStart(t, svc, daniyar, "daniyar")

	_, err := svc.Restore(daniyar, parked.ID)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("restore of another cashier's transaction error = %v, want ErrNotFound", err)
	}

	got, _ := svc.GetTransaction(context.Background(), parked.ID)
	if got.Status != domain.StatusSuspended {
		t.Fatalf("status = %s, want still suspended", got.Status)
	}

	restored, err := svc.Restore(aigerim, parked.ID)
	if err != nil {
		t.Fatalf("owner restore failed: %v", err)
	}
	if restored.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending after owner restore", restored.Status)
	}
}

func TestRestoreRequiresActingUser(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-22", "100.00", 10)

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx.ID, product.ID, "1")
	if _, err := svc.Suspend(ctx, tx.ID); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}

	if _, err := svc.Restore(context.Background(), tx.ID); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("restore without actor error = %v, want ErrValidation", err)
	}
}

func TestSuspendRequiresPending(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-10", "100.00", 10)

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	tx = mustAddItem(t, svc, ctx, tx.ID, product.ID, "1")
	if _, err := svc.Complete(ctx, tx.ID, domain.CompleteRequest{
		Payments: []domain.PaymentRequest{{Method: "card", Amount: tx.TotalAmount, ReferenceNumber: "REF-1"}},
	}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	_, err := svc.Suspend(ctx, tx.ID)
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("suspend completed tx error = %v, want ErrInvalidState", err)
	}
}

func TestAddItemValidations(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-11", "100.00", 2)

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")

	_, _, err := svc.AddItem(ctx, tx.ID, domain.AddItemRequest{ProductID: product.ID, Quantity: dec("0")})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("zero quantity error = %v, want ErrValidation", err)
	}
	_, _, err = svc.AddItem(ctx, tx.ID, domain.AddItemRequest{ProductID: product.ID, Quantity: dec("3")})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("over stock error = %v, want ErrValidation", err)
	}
	_, _, err = svc.AddItem(ctx, tx.ID, domain.AddItemRequest{ProductID: product.ID, Quantity: dec("1.5")})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("fractional piece quantity error = %v, want ErrValidation", err)
	}
	_, _, err = svc.AddItem(ctx, tx.ID, domain.AddItemRequest{ProductID: "missing", Quantity: dec("1")})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown product error = %v, want ErrNotFound", err)
	}
}

func TestAddItemMergesSameProduct(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-12", "10.00", 10)

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx.ID, product.ID, "2")
	tx = mustAddItem(t, svc, ctx, tx.ID, product.ID, "3")

	if len(tx.Items) != 1 {
		t.Fatalf("items = %d, want merged into 1 line", len(tx.Items))
	}
	if !tx.Items[0].Quantity.Equal(dec("5")) {
		t.Fatalf("quantity = %s, want 5", tx.Items[0].Quantity)
	}
	if !tx.Subtotal.Equal(dec("50.00")) {
		t.Fatalf("subtotal = %s, want 50.00", tx.Subtotal)
	}
}

func TestRemoveItemRecomputesTotals(t *testing.T) {
	svc := newTestService()
	p1 := mustCreateProduct(t, svc, "SKU-TEST-13", "30.00", 10)
	p2 := mustCreateProduct(t, svc, "SKU-TEST-14", "70.00", 10)

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx.ID, p1.ID, "1")
	tx = mustAddItem(t, svc, ctx, tx.ID, p2.ID, "1")

	var removeID string
	for _, item := range tx.Items {
		if item.ProductID == p2.ID {
			removeID = item.ID
		}
	}
	tx, err := svc.RemoveItem(ctx, tx.ID, removeID)
	if err != nil {
		t.Fatalf("remove item failed: %v", err)
	}
	if !tx.Subtotal.Equal(dec("30.00")) {
		t.Fatalf("subtotal = %s, want 30.00", tx.Subtotal)
	}
	if !tx.TotalAmount.Equal(dec("33.60")) {
		t.Fatalf("total = %s, want 33.60", tx.TotalAmount)
	}

	_, err = svc.RemoveItem(ctx, tx.ID, "itm-not-here")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("remove missing item error = %v, want ErrNotFound", err)
	}
}

func TestCancelClearsActivePointer(t *testing.T) {
	svc := newTestService()

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")

	cancelled, err := svc.Cancel(ctx, tx.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}

	current, err := svc.GetCurrentTransaction(ctx, "aigerim")
	if err != nil {
		t.Fatalf("get current failed: %v", err)
	}
	if current != nil {
		t.Fatal("active pointer should be cleared after cancel")
	}

	_, err = svc.Cancel(ctx, tx.ID)
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("double cancel error = %v, want ErrInvalidState", err)
	}
}

func TestCompletionInvalidatesPopularCache(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-15", "100.00", 10)

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	tx = mustAddItem(t, svc, ctx, tx.ID, product.ID, "1")
	if _, err := svc.Complete(ctx, tx.ID, domain.CompleteRequest{
		Payments: []domain.PaymentRequest{{Method: "cash", Amount: tx.TotalAmount}},
	}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	report, err := svc.PopularProducts(context.Background(), 30, 10)
	if err != nil {
		t.Fatalf("popular products failed: %v", err)
	}
	if len(report.Products) != 1 || report.Products[0].TransactionCount != 1 {
		t.Fatalf("unexpected popular report: %+v", report)
	}

	tx2 := mustStart(t, svc, ctx, "aigerim")
	tx2 = mustAddItem(t, svc, ctx, tx2.ID, product.ID, "1")
	if _, err := svc.Complete(ctx, tx2.ID, domain.CompleteRequest{
		Payments: []domain.PaymentRequest{{Method: "cash", Amount: tx2.TotalAmount}},
	}); err != nil {
		t.Fatalf("second complete failed: %v", err)
	}

	report, err = svc.PopularProducts(context.Background(), 30, 10)
	if err != nil {
		t.Fatalf("popular products failed: %v", err)
	}
	if report.Products[0].TransactionCount != 2 {
		t.Fatalf("transaction count = %d, want 2 after cache invalidation", report.Products[0].TransactionCount)
	}
}

func TestDailyReportAggregates(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-16", "250.00", 10)

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	tx = mustAddItem(t, svc, ctx, tx.ID, product.ID, "2")
	if _, err := svc.Complete(ctx, tx.ID, domain.CompleteRequest{
		Payments: []domain.PaymentRequest{
			{Method: "cash", Amount: dec("200.00")},
			{Method: "card", Amount: dec("360.00"), ReferenceNumber: "REF-2"},
		},
	}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	report, err := svc.DailyReport(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("daily report failed: %v", err)
	}
	if report.Transactions != 1 {
		t.Fatalf("transactions = %d, want 1", report.Transactions)
	}
	if !report.GrossSales.Equal(dec("500.00")) {
		t.Fatalf("gross = %s, want 500.00", report.GrossSales)
	}
	if !report.NetSales.Equal(dec("560.00")) {
		t.Fatalf("net = %s, want 560.00", report.NetSales)
	}
	if len(report.ByPayment) != 2 {
		t.Fatalf("payment groups = %d, want 2", len(report.ByPayment))
	}
}

func TestApplyDiscountRule(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-18", "200.00", 10)

	rule, err := svc.CreateDiscountRule(adminCtx(), domain.DiscountRuleCreateRequest{
		Name:          "Weekend 10%",
		DiscountType:  "percentage",
		DiscountValue: dec("10"),
		MinAmount:     dec("100.00"),
	})
	if err != nil {
		t.Fatalf("create rule failed: %v", err)
	}

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx.ID, product.ID, "1")

	tx, err = svc.ApplyDiscountRule(ctx, tx.ID, rule.ID)
	if err != nil {
		t.Fatalf("apply rule failed: %v", err)
	}
	if !tx.DiscountAmount.Equal(dec("20.00")) {
		t.Fatalf("discount = %s, want 20.00", tx.DiscountAmount)
	}

	_, err = svc.ApplyDiscountRule(ctx, tx.ID, "rule-missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown rule error = %v, want ErrNotFound", err)
	}
}

func TestApplyDiscountRuleBelowMinimumRejected(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-19", "50.00", 10)

	rule, err := svc.CreateDiscountRule(adminCtx(), domain.DiscountRuleCreateRequest{
		Name:          "Big basket rule",
		DiscountType:  "fixed_amount",
		DiscountValue: dec("25.00"),
		MinAmount:     dec("500.00"),
	})
	if err != nil {
		t.Fatalf("create rule failed: %v", err)
	}

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx.ID, product.ID, "1")

	_, err = svc.ApplyDiscountRule(ctx, tx.ID, rule.ID)
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("below-minimum rule error = %v, want ErrValidation", err)
	}
}

func TestManualDiscountRejectedWhilePromoApplied(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-20", "100.00", 10)

	if _, err := svc.CreatePromoCode(adminCtx(), domain.PromoCreateRequest{
		Code:          "LOCK",
		Name:          "Lock",
		DiscountType:  "percentage",
		DiscountValue: dec("10"),
	}); err != nil {
		t.Fatalf("create promo failed: %v", err)
	}

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	mustAddItem(t, svc, ctx, tx.ID, product.ID, "1")
	if _, _, err := svc.ApplyPromo(ctx, tx.ID, domain.ApplyPromoRequest{Code: "LOCK"}); err != nil {
		t.Fatalf("apply promo failed: %v", err)
	}

	_, err := svc.ApplyDiscount(ctx, tx.ID, domain.ApplyDiscountRequest{Type: "fixed_amount", Value: dec("5.00")})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("manual discount with promo error = %v, want ErrValidation", err)
	}
}

func TestBarcodeLookupFallsBackToSKU(t *testing.T) {
	svc := newTestService()
	mustCreateProduct(t, svc, "SKU-TEST-21", "100.00", 10)

	got, err := svc.GetProductByBarcode(context.Background(), "SKU-TEST-21")
	if err != nil {
		t.Fatalf("barcode lookup by sku failed: %v", err)
	}
	if got.SKU != "SKU-TEST-21" {
		t.Fatalf("sku = %s, want SKU-TEST-21", got.SKU)
	}

	_, err = svc.GetProductByBarcode(context.Background(), "0000000000000")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing barcode error = %v, want ErrNotFound", err)
	}
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "SKU-TEST-17", "100.00", 10)

	ctx := cashierCtx("aigerim")
	tx := mustStart(t, svc, ctx, "aigerim")
	tx = mustAddItem(t, svc, ctx, tx.ID, product.ID, "1")
	if _, err := svc.Complete(ctx, tx.ID, domain.CompleteRequest{
		Payments: []domain.PaymentRequest{{Method: "cash", Amount: tx.TotalAmount}},
	}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), time.Time{}, time.Time{}, 50)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	actions := map[string]bool{}
	for _, entry := range logs {
		actions[entry.Action] = true
	}
	for _, want := range []string{"product_create", "transaction_start", "transaction_complete"} {
		if !actions[want] {
			t.Fatalf("missing audit action %s in %v", want, actions)
		}
	}

	if _, err := svc.ListAuditLogs(ctx, time.Time{}, time.Time{}, 50); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cashier audit read error = %v, want ErrForbidden", err)
	}
}
