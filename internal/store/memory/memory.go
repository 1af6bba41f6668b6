package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tengepos/backend/internal/domain"
	"tengepos/backend/internal/store"
	"tengepos/backend/internal/xid"
)

type Store struct {
	mu                sync.RWMutex
	taxRate           decimal.Decimal
	products          map[string]domain.Product
	transactionsByID  map[string]*domain.Transaction
	activeTxByCashier map[string]string
	promosByID        map[string]domain.PromoCode
	rulesByID         map[string]domain.DiscountRule
	auditLogs         []domain.AuditLog
	usersByUsername   map[string]domain.UserAccount
}

// New builds an empty in-memory store. taxRate is the fractional rate applied
// after discounts (0.12 for 12%).
func New(taxRate decimal.Decimal) *Store {
	return &Store{
		taxRate:           taxRate,
		products:          make(map[string]domain.Product),
		transactionsByID:  make(map[string]*domain.Transaction),
		activeTxByCashier: make(map[string]string),
		promosByID:        make(map[string]domain.PromoCode),
		rulesByID:         make(map[string]domain.DiscountRule),
		auditLogs:         make([]domain.AuditLog, 0, 128),
		usersByUsername:   seedUsers(),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded builds a store preloaded with a small demo catalog.
func NewSeeded(taxRate decimal.Decimal) *Store {
	s := New(taxRate)
	now := time.Now().UTC()
	seed := []domain.Product{
		{SKU: "SKU-NAN-01", Barcode: "4870001000011", Name: "Nan Bread", UnitType: domain.UnitPiece, Price: decimal.NewFromInt(180), CostPrice: decimal.NewFromInt(95), StockQuantity: 120, MinStockLevel: 10},
		{SKU: "SKU-KURT-01", Barcode: "4870001000028", Name: "Kurt 100g", UnitType: domain.UnitPack, Price: decimal.NewFromInt(450), CostPrice: decimal.NewFromInt(260), StockQuantity: 80, MinStockLevel: 10},
		{SKU: "SKU-SUT-01", Barcode: "4870001000035", Name: "Milk 1L", UnitType: domain.UnitLiter, Price: decimal.NewFromInt(520), CostPrice: decimal.NewFromInt(370), StockQuantity: 60, MinStockLevel: 12},
		{SKU: "SKU-ALMA-01", Barcode: "4870001000042", Name: "Apples Aport", UnitType: domain.UnitKilogram, Price: decimal.NewFromInt(640), CostPrice: decimal.NewFromInt(410), StockQuantity: 45, MinStockLevel: 8},
		{SKU: "SKU-SHAI-01", Barcode: "4870001000059", Name: "Black Tea 250g", UnitType: domain.UnitPack, Price: decimal.NewFromInt(980), CostPrice: decimal.NewFromInt(560), StockQuantity: 50, MinStockLevel: 6},
		{SKU: "SKU-SU-01", Barcode: "4870001000066", Name: "Mineral Water 1.5L", UnitType: domain.UnitPiece, Price: decimal.NewFromInt(210), CostPrice: decimal.NewFromInt(110), StockQuantity: 200, MinStockLevel: 24},
	}
	for _, p := range seed {
		p.ID = xid.New("prd")
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}
	return s
}

func (s *Store) ListProducts(_ context.Context, activeOnly bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if activeOnly && !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) SearchProducts(_ context.Context, query string, limit int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 50
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	result := make([]domain.Product, 0, limit)
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.SKU), needle) &&
			!strings.Contains(strings.ToLower(p.Barcode), needle) {
			continue
		}
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || !product.Price.IsPositive() {
		return nil, store.ErrValidation
	}
	for _, existing := range s.products {
		if strings.EqualFold(existing.SKU, product.SKU) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
		}
		if product.Barcode != "" && existing.Barcode == product.Barcode {
			return nil, fmt.Errorf("%w: barcode %s already exists", store.ErrConflict, product.Barcode)
		}
	}

	now := time.Now().UTC()
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if strings.EqualFold(p.SKU, sku) {
			copyProduct := p
			return &copyProduct, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if barcode == "" {
		return nil, store.ErrNotFound
	}
	for _, p := range s.products {
		if p.Barcode == barcode {
			copyProduct := p
			return &copyProduct, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || !product.Price.IsPositive() {
		return nil, store.ErrValidation
	}
	if product.Barcode != "" {
		for id, other := range s.products {
			if id != product.ID && other.Barcode == product.Barcode {
				return nil, fmt.Errorf("%w: barcode %s already exists", store.ErrConflict, product.Barcode)
			}
		}
	}

	product.SKU = current.SKU
	product.CreatedAt = current.CreatedAt
	product.StockQuantity = current.StockQuantity
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	next := product.StockQuantity + delta
	if next < 0 {
		return nil, fmt.Errorf("%w: stock for %s would go negative", store.ErrValidation, product.SKU)
	}
	product.StockQuantity = next
	product.UpdatedAt = time.Now().UTC()
	s.products[productID] = product
	updated := product
	return &updated, nil
}

func (s *Store) ListLowStockProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0)
	for _, p := range s.products {
		if p.Active && p.IsLowStock() {
			result = append(result, p)
		}
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		if a.StockQuantity != b.StockQuantity {
			return a.StockQuantity - b.StockQuantity
		}
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.CashierName == "" {
		return nil, fmt.Errorf("%w: cashier name required", store.ErrValidation)
	}
	now := time.Now().UTC()
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.Number == "" {
		tx.Number = xid.Number("TXN", now)
	}
	tx.Status = domain.StatusPending
	tx.Subtotal = decimal.Zero
	tx.DiscountAmount = decimal.Zero
	tx.TaxAmount = decimal.Zero
	tx.TotalAmount = decimal.Zero
	tx.CreatedAt = now
	tx.Items = []domain.TransactionItem{}

	s.transactionsByID[tx.ID] = cloneTransaction(&tx)
	s.activeTxByCashier[tx.CashierName] = tx.ID
	return cloneTransaction(&tx), nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) AddItem(_ context.Context, transactionID string, productID string, quantity decimal.Decimal) (*domain.Transaction, *domain.TransactionItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if tx.Status != domain.StatusPending {
		return nil, nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	product, ok := s.products[productID]
	if !ok || !product.Active {
		return nil, nil, store.ErrNotFound
	}
	if !quantity.IsPositive() {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	if (product.UnitType == domain.UnitPiece || product.UnitType == domain.UnitPack) && !quantity.IsInteger() {
		return nil, nil, fmt.Errorf("%w: %s is sold in whole units", store.ErrValidation, product.Name)
	}

	existing := -1
	required := quantity
	for i, item := range tx.Items {
		if item.ProductID == productID {
			existing = i
			required = required.Add(item.Quantity)
			break
		}
	}
	if decimal.NewFromInt(int64(product.StockQuantity)).LessThan(required) {
		return nil, nil, fmt.Errorf("%w: insufficient stock for %s", store.ErrValidation, product.Name)
	}

	var item domain.TransactionItem
	if existing >= 0 {
		tx.Items[existing].Quantity = required
		tx.Items[existing].TotalPrice = required.Mul(tx.Items[existing].UnitPrice)
		item = tx.Items[existing]
	} else {
		item = domain.TransactionItem{
			ID:            xid.New("itm"),
			TransactionID: tx.ID,
			ProductID:     product.ID,
			ProductName:   product.Name,
			SKU:           product.SKU,
			Quantity:      quantity,
			UnitPrice:     product.Price,
			TotalPrice:    quantity.Mul(product.Price),
		}
		tx.Items = append(tx.Items, item)
	}

	s.recomputeTotalsLocked(tx)
	return cloneTransaction(tx), &item, nil
}

func (s *Store) RemoveItem(_ context.Context, transactionID string, itemID string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	idx := -1
	for i, item := range tx.Items {
		if item.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: item %s not in transaction", store.ErrNotFound, itemID)
	}
	tx.Items = append(tx.Items[:idx], tx.Items[idx+1:]...)

	s.recomputeTotalsLocked(tx)
	return cloneTransaction(tx), nil
}

func (s *Store) ApplyDiscount(_ context.Context, transactionID string, discountType domain.DiscountType, value decimal.Decimal) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	if tx.PromoCode != "" {
		return nil, fmt.Errorf("%w: promo code already applied", store.ErrValidation)
	}
	if value.IsNegative() {
		return nil, fmt.Errorf("%w: discount value must not be negative", store.ErrValidation)
	}

	subtotal := itemsSubtotal(tx.Items)
	discount := domain.PromoDiscount(domain.PromoCode{DiscountType: discountType, DiscountValue: value}, subtotal)
	tx.DiscountAmount = discount
	s.recomputeTotalsLocked(tx)
	return cloneTransaction(tx), nil
}

func (s *Store) ApplyPromo(_ context.Context, transactionID string, code string, at time.Time) (*domain.Transaction, *domain.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if tx.Status != domain.StatusPending {
		return nil, nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	if tx.PromoCode != "" {
		return nil, nil, fmt.Errorf("%w: promo code already applied", store.ErrValidation)
	}

	promo := s.findPromoLocked(code)
	if promo == nil || !promo.Active {
		return nil, nil, fmt.Errorf("%w: promo code %s", store.ErrNotFound, code)
	}
	if !promo.WithinWindow(at) {
		return nil, nil, fmt.Errorf("%w: promo code %s is not valid now", store.ErrValidation, promo.Code)
	}
	if promo.Exhausted() {
		return nil, nil, fmt.Errorf("%w: %s", store.ErrPromoExhausted, promo.Code)
	}
	subtotal := itemsSubtotal(tx.Items)
	if subtotal.LessThan(promo.MinAmount) {
		return nil, nil, fmt.Errorf("%w: minimum purchase of %s not met", store.ErrValidation, promo.MinAmount.StringFixed(2))
	}

	tx.PromoCode = promo.Code
	tx.DiscountAmount = domain.PromoDiscount(*promo, subtotal)
	s.recomputeTotalsLocked(tx)
	promoCopy := *promo
	return cloneTransaction(tx), &promoCopy, nil
}

func (s *Store) RemovePromo(_ context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	if tx.PromoCode == "" {
		return nil, fmt.Errorf("%w: no promo code applied", store.ErrValidation)
	}

	tx.PromoCode = ""
	tx.DiscountAmount = decimal.Zero
	s.recomputeTotalsLocked(tx)
	return cloneTransaction(tx), nil
}

// CompleteTransaction performs the whole completion atomically under the
// store lock: payment sum check, promo usage re-check and increment, stock
// decrement per item, status transition. Any failure leaves every record
// untouched.
func (s *Store) CompleteTransaction(_ context.Context, transactionID string, payments []domain.PaymentRequest, userID string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	if len(tx.Items) == 0 {
		return nil, fmt.Errorf("%w: transaction has no items", store.ErrValidation)
	}
	if len(payments) == 0 {
		return nil, fmt.Errorf("%w: at least one payment required", store.ErrValidation)
	}
	for _, p := range payments {
		if _, err := domain.ParsePaymentMethod(p.Method); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
		}
		if !p.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
		}
	}
	covered, paid := domain.PaymentsCover(payments, tx.TotalAmount)
	if !covered {
		return nil, fmt.Errorf("%w: payments total %s does not match %s", store.ErrValidation, paid.StringFixed(2), tx.TotalAmount.StringFixed(2))
	}

	var promo *domain.PromoCode
	if tx.PromoCode != "" {
		promo = s.findPromoLocked(tx.PromoCode)
		if promo == nil {
			return nil, fmt.Errorf("%w: promo code %s", store.ErrNotFound, tx.PromoCode)
		}
		if promo.Exhausted() {
			return nil, fmt.Errorf("%w: %s", store.ErrPromoExhausted, promo.Code)
		}
	}

	// Validate all stock before mutating anything.
	for _, item := range tx.Items {
		product, ok := s.products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if decimal.NewFromInt(int64(product.StockQuantity)).LessThan(item.Quantity) {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, product.Name)
		}
	}

	for _, item := range tx.Items {
		product := s.products[item.ProductID]
		product.StockQuantity -= int(item.Quantity.IntPart())
		product.UpdatedAt = at
		s.products[item.ProductID] = product
	}
	if promo != nil {
		promo.CurrentUses++
		s.promosByID[promo.ID] = *promo
	}

	tx.Payments = make([]domain.Payment, 0, len(payments))
	for _, p := range payments {
		method, _ := domain.ParsePaymentMethod(p.Method)
		tx.Payments = append(tx.Payments, domain.Payment{
			ID:              xid.New("pay"),
			TransactionID:   tx.ID,
			Method:          method,
			Amount:          p.Amount,
			ReferenceNumber: p.ReferenceNumber,
			CreatedAt:       at,
		})
	}
	tx.Status = domain.StatusCompleted
	completedAt := at
	tx.CompletedAt = &completedAt
	tx.UserID = userID

	if s.activeTxByCashier[tx.CashierName] == tx.ID {
		delete(s.activeTxByCashier, tx.CashierName)
	}
	return cloneTransaction(tx), nil
}

func (s *Store) SuspendTransaction(_ context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	tx.Status = domain.StatusSuspended
	if s.activeTxByCashier[tx.CashierName] == tx.ID {
		delete(s.activeTxByCashier, tx.CashierName)
	}
	return cloneTransaction(tx), nil
}

func (s *Store) RestoreTransaction(_ context.Context, transactionID string, cashier string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.StatusSuspended {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	if activeID, busy := s.activeTxByCashier[cashier]; busy && activeID != "" {
		if active, ok := s.transactionsByID[activeID]; ok && active.Status == domain.StatusPending {
			return nil, fmt.Errorf("%w: another transaction is already active", store.ErrConflict)
		}
		delete(s.activeTxByCashier, cashier)
	}
	tx.Status = domain.StatusPending
	s.activeTxByCashier[cashier] = tx.ID
	return cloneTransaction(tx), nil
}

func (s *Store) CancelTransaction(_ context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.StatusPending && tx.Status != domain.StatusSuspended {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	tx.Status = domain.StatusCancelled
	if s.activeTxByCashier[tx.CashierName] == tx.ID {
		delete(s.activeTxByCashier, tx.CashierName)
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListSuspended(_ context.Context, cashier string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0)
	for _, tx := range s.transactionsByID {
		if tx.Status != domain.StatusSuspended {
			continue
		}
		if cashier != "" && tx.CashierName != cashier {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) GetActiveTransactionID(_ context.Context, cashier string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTxByCashier[cashier], nil
}

func (s *Store) SetActiveTransactionID(_ context.Context, cashier string, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTxByCashier[cashier] = transactionID
	return nil
}

func (s *Store) ClearActiveTransactionID(_ context.Context, cashier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeTxByCashier, cashier)
	return nil
}

func (s *Store) CreatePromoCode(_ context.Context, promo domain.PromoCode) (*domain.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if promo.Code == "" || promo.Name == "" {
		return nil, store.ErrValidation
	}
	if promo.DiscountValue.IsNegative() || promo.MinAmount.IsNegative() {
		return nil, store.ErrValidation
	}
	if promo.MaxUses != nil && *promo.MaxUses < 0 {
		return nil, store.ErrValidation
	}
	for _, existing := range s.promosByID {
		if strings.EqualFold(existing.Code, promo.Code) {
			return nil, fmt.Errorf("%w: promo code %s already exists", store.ErrConflict, promo.Code)
		}
	}

	if promo.ID == "" {
		promo.ID = xid.New("promo")
	}
	promo.Code = strings.ToUpper(promo.Code)
	promo.CurrentUses = 0
	promo.Active = true
	promo.CreatedAt = time.Now().UTC()
	s.promosByID[promo.ID] = promo
	created := promo
	return &created, nil
}

func (s *Store) GetPromoCode(_ context.Context, code string) (*domain.PromoCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	promo := s.findPromoLocked(code)
	if promo == nil {
		return nil, store.ErrNotFound
	}
	copyPromo := *promo
	return &copyPromo, nil
}

func (s *Store) ListPromoCodes(_ context.Context, activeOnly bool) ([]domain.PromoCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PromoCode, 0, len(s.promosByID))
	for _, p := range s.promosByID {
		if activeOnly && !p.Active {
			continue
		}
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.PromoCode) int {
		return cmpString(a.Code, b.Code)
	})
	return result, nil
}

func (s *Store) UpdatePromoActive(_ context.Context, promoID string, active bool) (*domain.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promo, ok := s.promosByID[promoID]
	if !ok {
		return nil, store.ErrNotFound
	}
	promo.Active = active
	s.promosByID[promoID] = promo
	updated := promo
	return &updated, nil
}

func (s *Store) CreateDiscountRule(_ context.Context, rule domain.DiscountRule) (*domain.DiscountRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.Name == "" || rule.DiscountValue.IsNegative() || rule.MinAmount.IsNegative() {
		return nil, store.ErrValidation
	}
	if rule.ID == "" {
		rule.ID = xid.New("rule")
	}
	rule.Active = true
	rule.CreatedAt = time.Now().UTC()
	s.rulesByID[rule.ID] = rule
	created := rule
	return &created, nil
}

func (s *Store) ListDiscountRules(_ context.Context, activeOnly bool) ([]domain.DiscountRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DiscountRule, 0, len(s.rulesByID))
	for _, r := range s.rulesByID {
		if activeOnly && !r.Active {
			continue
		}
		result = append(result, r)
	}
	slices.SortFunc(result, func(a, b domain.DiscountRule) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) UpdateDiscountRuleActive(_ context.Context, ruleID string, active bool) (*domain.DiscountRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rulesByID[ruleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	rule.Active = active
	s.rulesByID[ruleID] = rule
	updated := rule
	return &updated, nil
}

func (s *Store) GetDailyReport(_ context.Context, day time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	report := domain.DailyReport{
		Date:          dayStart.Format("2006-01-02"),
		GrossSales:    decimal.Zero,
		DiscountTotal: decimal.Zero,
		TaxTotal:      decimal.Zero,
		NetSales:      decimal.Zero,
	}
	byPayment := map[domain.PaymentMethod]*domain.DailyReportPayment{}

	for _, tx := range s.transactionsByID {
		if tx.Status != domain.StatusCompleted || tx.CompletedAt == nil {
			continue
		}
		at := tx.CompletedAt.UTC()
		if at.Before(dayStart) || !at.Before(dayEnd) {
			continue
		}
		report.Transactions++
		report.GrossSales = report.GrossSales.Add(tx.Subtotal)
		report.DiscountTotal = report.DiscountTotal.Add(tx.DiscountAmount)
		report.TaxTotal = report.TaxTotal.Add(tx.TaxAmount)
		report.NetSales = report.NetSales.Add(tx.TotalAmount)
		seen := map[domain.PaymentMethod]bool{}
		for _, p := range tx.Payments {
			entry, ok := byPayment[p.Method]
			if !ok {
				entry = &domain.DailyReportPayment{Method: p.Method, Total: decimal.Zero}
				byPayment[p.Method] = entry
			}
			entry.Total = entry.Total.Add(p.Amount)
			if !seen[p.Method] {
				entry.Transactions++
				seen[p.Method] = true
			}
		}
	}

	report.ByPayment = make([]domain.DailyReportPayment, 0, len(byPayment))
	for _, entry := range byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.DailyReportPayment) int {
		return cmpString(string(a.Method), string(b.Method))
	})
	return report, nil
}

func (s *Store) GetPopularProducts(_ context.Context, since time.Time, limit int) ([]domain.PopularProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 10
	}
	type agg struct {
		count int64
		sold  decimal.Decimal
	}
	byProduct := map[string]*agg{}
	for _, tx := range s.transactionsByID {
		if tx.Status != domain.StatusCompleted || tx.CompletedAt == nil || tx.CompletedAt.Before(since) {
			continue
		}
		for _, item := range tx.Items {
			entry, ok := byProduct[item.ProductID]
			if !ok {
				entry = &agg{sold: decimal.Zero}
				byProduct[item.ProductID] = entry
			}
			entry.count++
			entry.sold = entry.sold.Add(item.Quantity)
		}
	}

	result := make([]domain.PopularProduct, 0, len(byProduct))
	for productID, entry := range byProduct {
		product, ok := s.products[productID]
		if !ok {
			continue
		}
		result = append(result, domain.PopularProduct{
			ProductID:        product.ID,
			SKU:              product.SKU,
			Name:             product.Name,
			Price:            product.Price,
			StockQuantity:    product.StockQuantity,
			TransactionCount: entry.count,
			TotalSold:        entry.sold,
		})
	}
	slices.SortFunc(result, func(a, b domain.PopularProduct) int {
		if a.TransactionCount != b.TransactionCount {
			if a.TransactionCount > b.TransactionCount {
				return -1
			}
			return 1
		}
		return cmpString(a.Name, b.Name)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: user %s already exists", store.ErrConflict, user.Username)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		result = append(result, u)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	if password == "" {
		return store.ErrValidation
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// recomputeTotalsLocked rewrites the derived money fields on tx. Caller holds
// the write lock.
func (s *Store) recomputeTotalsLocked(tx *domain.Transaction) {
	totals := domain.ComputeTotals(tx.Items, tx.DiscountAmount, s.taxRate)
	tx.Subtotal = totals.Subtotal
	tx.DiscountAmount = totals.DiscountAmount
	tx.TaxAmount = totals.TaxAmount
	tx.TotalAmount = totals.TotalAmount
}

func (s *Store) findPromoLocked(code string) *domain.PromoCode {
	for id, p := range s.promosByID {
		if strings.EqualFold(p.Code, code) {
			promo := s.promosByID[id]
			return &promo
		}
	}
	return nil
}

func itemsSubtotal(items []domain.TransactionItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.TotalPrice.Sub(item.DiscountAmount))
	}
	return subtotal
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dupItems := make([]domain.TransactionItem, len(src.Items))
	copy(dupItems, src.Items)
	dup.Items = dupItems
	dupPayments := make([]domain.Payment, len(src.Payments))
	copy(dupPayments, src.Payments)
	dup.Payments = dupPayments
	if src.CompletedAt != nil {
		at := src.CompletedAt.UTC()
		dup.CompletedAt = &at
	}
	return &dup
}
