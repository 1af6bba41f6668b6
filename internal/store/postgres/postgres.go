package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tengepos/backend/internal/domain"
	"tengepos/backend/internal/store"
	"tengepos/backend/internal/xid"
)

type Store struct {
	db      *sql.DB
	taxRate decimal.Decimal

	// newNumber is swapped out in tests to force number collisions.
	newNumber func(prefix string, at time.Time) string
}

func New(ctx context.Context, databaseURL string, taxRate decimal.Decimal) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, taxRate: taxRate, newNumber: xid.Number}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx so row loading helpers
// work inside and outside a unit of work.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const productColumns = `id, sku, COALESCE(barcode, ''), name, COALESCE(description, ''), unit_type, price, cost_price, stock_quantity, min_stock_level, COALESCE(category_id, ''), active, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	var unitType string
	err := row.Scan(&p.ID, &p.SKU, &p.Barcode, &p.Name, &p.Description, &unitType, &p.Price, &p.CostPrice, &p.StockQuantity, &p.MinStockLevel, &p.CategoryID, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.UnitType = domain.UnitType(unitType)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY name`
	if activeOnly {
		query = `SELECT ` + productColumns + ` FROM products WHERE active = true ORDER BY name`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 50
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		  AND (name ILIKE $1 OR sku ILIKE $1 OR barcode ILIKE $1)
		ORDER BY name
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || !product.Price.IsPositive() {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := time.Now().UTC()
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, barcode, name, description, unit_type, price, cost_price, stock_quantity, min_stock_level, category_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, product.ID, product.SKU, nullIfEmpty(product.Barcode), product.Name, product.Description, string(product.UnitType),
		product.Price, product.CostPrice, product.StockQuantity, product.MinStockLevel, nullIfEmpty(product.CategoryID),
		product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku or barcode already exists", store.ErrConflict)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE lower(sku) = lower($1)`, sku)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	if barcode == "" {
		return nil, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, barcode)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || !product.Price.IsPositive() {
		return nil, store.ErrValidation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET barcode = $2, name = $3, description = $4, unit_type = $5, price = $6, cost_price = $7,
		    min_stock_level = $8, category_id = $9, active = $10, updated_at = now()
		WHERE id = $1
	`, product.ID, nullIfEmpty(product.Barcode), product.Name, product.Description, string(product.UnitType),
		product.Price, product.CostPrice, product.MinStockLevel, nullIfEmpty(product.CategoryID), product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode already exists", store.ErrConflict)
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var current int
	err = pgTx.QueryRowContext(ctx, `
		SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE
	`, productID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if current+delta < 0 {
		return nil, fmt.Errorf("%w: stock would go negative", store.ErrValidation)
	}
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = now() WHERE id = $1
	`, productID, delta); err != nil {
		return nil, err
	}

	row := pgTx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	p, err := scanProduct(row)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListLowStockProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true AND stock_quantity <= min_stock_level
		ORDER BY stock_quantity, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

const transactionColumns = `id, number, status, subtotal, discount_amount, tax_amount, total_amount, COALESCE(promo_code, ''), cashier_name, COALESCE(customer_name, ''), COALESCE(user_id, ''), COALESCE(notes, ''), created_at, completed_at`

func loadTransaction(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var tx domain.Transaction
	var status string
	var completedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, id).Scan(&tx.ID, &tx.Number, &status, &tx.Subtotal, &tx.DiscountAmount,
		&tx.TaxAmount, &tx.TotalAmount, &tx.PromoCode, &tx.CashierName, &tx.CustomerName, &tx.UserID, &tx.Notes,
		&tx.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tx.Status = domain.TransactionStatus(status)
	tx.CreatedAt = tx.CreatedAt.UTC()
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		tx.CompletedAt = &at
	}

	items, err := loadItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	tx.Items = items
	payments, err := loadPayments(ctx, q, id)
	if err != nil {
		return nil, err
	}
	tx.Payments = payments
	return &tx, nil
}

func loadItems(ctx context.Context, q querier, transactionID string) ([]domain.TransactionItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT i.id, i.transaction_id, i.product_id, p.name, p.sku, i.quantity, i.unit_price, i.discount_amount, i.total_price
		FROM transaction_items i
		JOIN products p ON p.id = i.product_id
		WHERE i.transaction_id = $1
		ORDER BY i.id
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransactionItem, 0, 8)
	for rows.Next() {
		var item domain.TransactionItem
		if err := rows.Scan(&item.ID, &item.TransactionID, &item.ProductID, &item.ProductName, &item.SKU,
			&item.Quantity, &item.UnitPrice, &item.DiscountAmount, &item.TotalPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func loadPayments(ctx context.Context, q querier, transactionID string) ([]domain.Payment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, transaction_id, method, amount, COALESCE(reference_number, ''), created_at
		FROM payments
		WHERE transaction_id = $1
		ORDER BY created_at, id
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 2)
	for rows.Next() {
		var p domain.Payment
		var method string
		if err := rows.Scan(&p.ID, &p.TransactionID, &method, &p.Amount, &p.ReferenceNumber, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Method = domain.PaymentMethod(method)
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

// recomputeTotals rewrites the derived money columns from the current items
// and stored discount. Runs inside the caller's unit of work.
func (s *Store) recomputeTotals(ctx context.Context, q querier, tx *domain.Transaction) error {
	totals := domain.ComputeTotals(tx.Items, tx.DiscountAmount, s.taxRate)
	tx.Subtotal = totals.Subtotal
	tx.DiscountAmount = totals.DiscountAmount
	tx.TaxAmount = totals.TaxAmount
	tx.TotalAmount = totals.TotalAmount
	_, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET subtotal = $2, discount_amount = $3, tax_amount = $4, total_amount = $5
		WHERE id = $1
	`, tx.ID, tx.Subtotal, tx.DiscountAmount, tx.TaxAmount, tx.TotalAmount)
	return err
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.CashierName == "" {
		return nil, fmt.Errorf("%w: cashier name required", store.ErrValidation)
	}
	now := time.Now().UTC()
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	tx.Status = domain.StatusPending
	tx.CreatedAt = now

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	// Number collisions retry with a fresh suffix. The INSERT runs under a
	// savepoint because a failed statement aborts the enclosing Postgres
	// transaction; rolling back to the savepoint keeps it usable for the
	// next attempt.
	for attempt := 0; ; attempt++ {
		number := tx.Number
		if number == "" {
			number = s.newNumber("TXN", now)
		}
		if _, err := pgTx.ExecContext(ctx, `SAVEPOINT insert_transaction`); err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO transactions (id, number, status, subtotal, discount_amount, tax_amount, total_amount, promo_code, cashier_name, customer_name, user_id, notes, created_at)
			VALUES ($1,$2,$3,0,0,0,0,NULL,$4,$5,$6,$7,$8)
		`, tx.ID, number, string(tx.Status), tx.CashierName, nullIfEmpty(tx.CustomerName), nullIfEmpty(tx.UserID), tx.Notes, tx.CreatedAt)
		if err == nil {
			tx.Number = number
			if _, err := pgTx.ExecContext(ctx, `RELEASE SAVEPOINT insert_transaction`); err != nil {
				return nil, err
			}
			break
		}
		if isUniqueViolation(err) && tx.Number == "" && attempt < 4 {
			if _, rbErr := pgTx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT insert_transaction`); rbErr != nil {
				return nil, rbErr
			}
			continue
		}
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO active_transactions (cashier_name, transaction_id)
		VALUES ($1, $2)
		ON CONFLICT (cashier_name) DO UPDATE SET transaction_id = EXCLUDED.transaction_id
	`, tx.CashierName, tx.ID); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	tx.Subtotal = decimal.Zero
	tx.DiscountAmount = decimal.Zero
	tx.TaxAmount = decimal.Zero
	tx.TotalAmount = decimal.Zero
	tx.Items = []domain.TransactionItem{}
	created := tx
	return &created, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return loadTransaction(ctx, s.db, id, false)
}

func (s *Store) AddItem(ctx context.Context, transactionID string, productID string, quantity decimal.Decimal) (*domain.Transaction, *domain.TransactionItem, error) {
	if !quantity.IsPositive() {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := loadTransaction(ctx, pgTx, transactionID, true)
	if err != nil {
		return nil, nil, err
	}
	if tx.Status != domain.StatusPending {
		return nil, nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}

	row := pgTx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, productID)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	if !product.Active {
		return nil, nil, store.ErrNotFound
	}
	if (product.UnitType == domain.UnitPiece || product.UnitType == domain.UnitPack) && !quantity.IsInteger() {
		return nil, nil, fmt.Errorf("%w: %s is sold in whole units", store.ErrValidation, product.Name)
	}

	var item domain.TransactionItem
	existing := -1
	required := quantity
	for i, it := range tx.Items {
		if it.ProductID == productID {
			existing = i
			required = required.Add(it.Quantity)
			break
		}
	}
	if decimal.NewFromInt(int64(product.StockQuantity)).LessThan(required) {
		return nil, nil, fmt.Errorf("%w: insufficient stock for %s", store.ErrValidation, product.Name)
	}

	if existing >= 0 {
		item = tx.Items[existing]
		item.Quantity = required
		item.TotalPrice = required.Mul(item.UnitPrice)
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE transaction_items SET quantity = $2, total_price = $3 WHERE id = $1
		`, item.ID, item.Quantity, item.TotalPrice); err != nil {
			return nil, nil, err
		}
		tx.Items[existing] = item
	} else {
		item = domain.TransactionItem{
			ID:             xid.New("itm"),
			TransactionID:  tx.ID,
			ProductID:      product.ID,
			ProductName:    product.Name,
			SKU:            product.SKU,
			Quantity:       quantity,
			UnitPrice:      product.Price,
			DiscountAmount: decimal.Zero,
			TotalPrice:     quantity.Mul(product.Price),
		}
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (id, transaction_id, product_id, quantity, unit_price, discount_amount, total_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, item.ID, item.TransactionID, item.ProductID, item.Quantity, item.UnitPrice, item.DiscountAmount, item.TotalPrice); err != nil {
			return nil, nil, err
		}
		tx.Items = append(tx.Items, item)
	}

	if err := s.recomputeTotals(ctx, pgTx, tx); err != nil {
		return nil, nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	return tx, &item, nil
}

func (s *Store) RemoveItem(ctx context.Context, transactionID string, itemID string) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := loadTransaction(ctx, pgTx, transactionID, true)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}

	res, err := pgTx.ExecContext(ctx, `
		DELETE FROM transaction_items WHERE id = $1 AND transaction_id = $2
	`, itemID, transactionID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: item %s not in transaction", store.ErrNotFound, itemID)
	}

	kept := tx.Items[:0]
	for _, item := range tx.Items {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	tx.Items = kept

	if err := s.recomputeTotals(ctx, pgTx, tx); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) ApplyDiscount(ctx context.Context, transactionID string, discountType domain.DiscountType, value decimal.Decimal) (*domain.Transaction, error) {
	if value.IsNegative() {
		return nil, fmt.Errorf("%w: discount value must not be negative", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := loadTransaction(ctx, pgTx, transactionID, true)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	if tx.PromoCode != "" {
		return nil, fmt.Errorf("%w: promo code already applied", store.ErrValidation)
	}

	subtotal := itemsSubtotal(tx.Items)
	tx.DiscountAmount = domain.PromoDiscount(domain.PromoCode{DiscountType: discountType, DiscountValue: value}, subtotal)
	if err := s.recomputeTotals(ctx, pgTx, tx); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return tx, nil
}

const promoColumns = `id, code, name, COALESCE(description, ''), discount_type, discount_value, min_amount, max_uses, current_uses, active, start_date, end_date, created_at`

func scanPromo(row interface{ Scan(...any) error }) (*domain.PromoCode, error) {
	var p domain.PromoCode
	var discountType string
	var maxUses sql.NullInt64
	var start, end sql.NullTime
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &discountType, &p.DiscountValue, &p.MinAmount,
		&maxUses, &p.CurrentUses, &p.Active, &start, &end, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.DiscountType = domain.DiscountType(discountType)
	if maxUses.Valid {
		m := int(maxUses.Int64)
		p.MaxUses = &m
	}
	if start.Valid {
		t := start.Time.UTC()
		p.StartDate = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		p.EndDate = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

// ApplyPromo validates and binds a promo code to a pending transaction.
// The promo row is locked after the transaction row so the validation and
// the stored discount cannot race a concurrent completion.
func (s *Store) ApplyPromo(ctx context.Context, transactionID string, code string, at time.Time) (*domain.Transaction, *domain.PromoCode, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := loadTransaction(ctx, pgTx, transactionID, true)
	if err != nil {
		return nil, nil, err
	}
	if tx.Status != domain.StatusPending {
		return nil, nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	if tx.PromoCode != "" {
		return nil, nil, fmt.Errorf("%w: promo code already applied", store.ErrValidation)
	}

	row := pgTx.QueryRowContext(ctx, `
		SELECT `+promoColumns+` FROM promo_codes WHERE lower(code) = lower($1) FOR UPDATE
	`, code)
	promo, err := scanPromo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: promo code %s", store.ErrNotFound, code)
		}
		return nil, nil, err
	}
	if !promo.Active {
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
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE transactions SET promo_code = $2 WHERE id = $1
	`, tx.ID, promo.Code); err != nil {
		return nil, nil, err
	}
	if err := s.recomputeTotals(ctx, pgTx, tx); err != nil {
		return nil, nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	return tx, promo, nil
}

func (s *Store) RemovePromo(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := loadTransaction(ctx, pgTx, transactionID, true)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	if tx.PromoCode == "" {
		return nil, fmt.Errorf("%w: no promo code applied", store.ErrValidation)
	}

	tx.PromoCode = ""
	tx.DiscountAmount = decimal.Zero
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE transactions SET promo_code = NULL WHERE id = $1
	`, tx.ID); err != nil {
		return nil, err
	}
	if err := s.recomputeTotals(ctx, pgTx, tx); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return tx, nil
}

// CompleteTransaction is the all-or-nothing checkout step. Lock order is
// fixed: transaction row, then promo row, then product rows sorted by id.
// Two completions touching overlapping products cannot deadlock under this
// order.
func (s *Store) CompleteTransaction(ctx context.Context, transactionID string, payments []domain.PaymentRequest, userID string, at time.Time) (*domain.Transaction, error) {
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

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := loadTransaction(ctx, pgTx, transactionID, true)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	if len(tx.Items) == 0 {
		return nil, fmt.Errorf("%w: transaction has no items", store.ErrValidation)
	}
	covered, paid := domain.PaymentsCover(payments, tx.TotalAmount)
	if !covered {
		return nil, fmt.Errorf("%w: payments total %s does not match %s", store.ErrValidation, paid.StringFixed(2), tx.TotalAmount.StringFixed(2))
	}

	if tx.PromoCode != "" {
		row := pgTx.QueryRowContext(ctx, `
			SELECT `+promoColumns+` FROM promo_codes WHERE lower(code) = lower($1) FOR UPDATE
		`, tx.PromoCode)
		promo, err := scanPromo(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: promo code %s", store.ErrNotFound, tx.PromoCode)
			}
			return nil, err
		}
		if promo.Exhausted() {
			return nil, fmt.Errorf("%w: %s", store.ErrPromoExhausted, promo.Code)
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE promo_codes SET current_uses = current_uses + 1 WHERE id = $1
		`, promo.ID); err != nil {
			return nil, err
		}
	}

	productIDs := make([]string, 0, len(tx.Items))
	requiredByProduct := make(map[string]decimal.Decimal, len(tx.Items))
	for _, item := range tx.Items {
		if _, seen := requiredByProduct[item.ProductID]; !seen {
			productIDs = append(productIDs, item.ProductID)
		}
		requiredByProduct[item.ProductID] = requiredByProduct[item.ProductID].Add(item.Quantity)
	}
	sort.Strings(productIDs)

	for _, productID := range productIDs {
		var name string
		var stock int
		err := pgTx.QueryRowContext(ctx, `
			SELECT name, stock_quantity FROM products WHERE id = $1 FOR UPDATE
		`, productID).Scan(&name, &stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
			}
			return nil, err
		}
		required := requiredByProduct[productID]
		if decimal.NewFromInt(int64(stock)).LessThan(required) {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, name)
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = $3 WHERE id = $1
		`, productID, int(required.IntPart()), at); err != nil {
			return nil, err
		}
	}

	tx.Payments = make([]domain.Payment, 0, len(payments))
	for _, p := range payments {
		method, _ := domain.ParsePaymentMethod(p.Method)
		payment := domain.Payment{
			ID:              xid.New("pay"),
			TransactionID:   tx.ID,
			Method:          method,
			Amount:          p.Amount,
			ReferenceNumber: p.ReferenceNumber,
			CreatedAt:       at,
		}
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO payments (id, transaction_id, method, amount, reference_number, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, payment.ID, payment.TransactionID, string(payment.Method), payment.Amount, nullIfEmpty(payment.ReferenceNumber), payment.CreatedAt); err != nil {
			return nil, err
		}
		tx.Payments = append(tx.Payments, payment)
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE transactions SET status = $2, completed_at = $3, user_id = $4 WHERE id = $1
	`, tx.ID, string(domain.StatusCompleted), at, nullIfEmpty(userID)); err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `
		DELETE FROM active_transactions WHERE cashier_name = $1 AND transaction_id = $2
	`, tx.CashierName, tx.ID); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	tx.Status = domain.StatusCompleted
	completedAt := at
	tx.CompletedAt = &completedAt
	tx.UserID = userID
	return tx, nil
}

func (s *Store) SuspendTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return s.transition(ctx, transactionID, domain.StatusPending, domain.StatusSuspended, true)
}

func (s *Store) CancelTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := loadTransaction(ctx, pgTx, transactionID, true)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusPending && tx.Status != domain.StatusSuspended {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE transactions SET status = $2 WHERE id = $1
	`, tx.ID, string(domain.StatusCancelled)); err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `
		DELETE FROM active_transactions WHERE cashier_name = $1 AND transaction_id = $2
	`, tx.CashierName, tx.ID); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	tx.Status = domain.StatusCancelled
	return tx, nil
}

func (s *Store) transition(ctx context.Context, transactionID string, from, to domain.TransactionStatus, clearActive bool) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := loadTransaction(ctx, pgTx, transactionID, true)
	if err != nil {
		return nil, err
	}
	if tx.Status != from {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE transactions SET status = $2 WHERE id = $1
	`, tx.ID, string(to)); err != nil {
		return nil, err
	}
	if clearActive {
		if _, err := pgTx.ExecContext(ctx, `
			DELETE FROM active_transactions WHERE cashier_name = $1 AND transaction_id = $2
		`, tx.CashierName, tx.ID); err != nil {
			return nil, err
		}
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	tx.Status = to
	return tx, nil
}

func (s *Store) RestoreTransaction(ctx context.Context, transactionID string, cashier string) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tx, err := loadTransaction(ctx, pgTx, transactionID, true)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusSuspended {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrInvalidState, tx.Status)
	}

	var activeID string
	err = pgTx.QueryRowContext(ctx, `
		SELECT a.transaction_id
		FROM active_transactions a
		JOIN transactions t ON t.id = a.transaction_id
		WHERE a.cashier_name = $1 AND t.status = $2
		FOR UPDATE OF a
	`, cashier, string(domain.StatusPending)).Scan(&activeID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if activeID != "" {
		return nil, fmt.Errorf("%w: another transaction is already active", store.ErrConflict)
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE transactions SET status = $2 WHERE id = $1
	`, tx.ID, string(domain.StatusPending)); err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO active_transactions (cashier_name, transaction_id)
		VALUES ($1, $2)
		ON CONFLICT (cashier_name) DO UPDATE SET transaction_id = EXCLUDED.transaction_id
	`, cashier, tx.ID); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	tx.Status = domain.StatusPending
	return tx, nil
}

func (s *Store) ListSuspended(ctx context.Context, cashier string) ([]domain.Transaction, error) {
	query := `SELECT id FROM transactions WHERE status = $1 ORDER BY created_at DESC`
	args := []any{string(domain.StatusSuspended)}
	if cashier != "" {
		query = `SELECT id FROM transactions WHERE status = $1 AND cashier_name = $2 ORDER BY created_at DESC`
		args = append(args, cashier)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	result := make([]domain.Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := loadTransaction(ctx, s.db, id, false)
		if err != nil {
			return nil, err
		}
		result = append(result, *tx)
	}
	return result, nil
}

func (s *Store) GetActiveTransactionID(ctx context.Context, cashier string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT transaction_id FROM active_transactions WHERE cashier_name = $1
	`, cashier).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func (s *Store) SetActiveTransactionID(ctx context.Context, cashier string, transactionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_transactions (cashier_name, transaction_id)
		VALUES ($1, $2)
		ON CONFLICT (cashier_name) DO UPDATE SET transaction_id = EXCLUDED.transaction_id
	`, cashier, transactionID)
	return err
}

func (s *Store) ClearActiveTransactionID(ctx context.Context, cashier string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM active_transactions WHERE cashier_name = $1
	`, cashier)
	return err
}

func (s *Store) CreatePromoCode(ctx context.Context, promo domain.PromoCode) (*domain.PromoCode, error) {
	if promo.Code == "" || promo.Name == "" {
		return nil, store.ErrValidation
	}
	if promo.DiscountValue.IsNegative() || promo.MinAmount.IsNegative() {
		return nil, store.ErrValidation
	}
	if promo.MaxUses != nil && *promo.MaxUses < 0 {
		return nil, store.ErrValidation
	}
	if promo.ID == "" {
		promo.ID = xid.New("promo")
	}
	promo.Code = strings.ToUpper(promo.Code)
	promo.CurrentUses = 0
	promo.Active = true
	promo.CreatedAt = time.Now().UTC()

	var maxUses any
	if promo.MaxUses != nil {
		maxUses = *promo.MaxUses
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO promo_codes (id, code, name, description, discount_type, discount_value, min_amount, max_uses, current_uses, active, start_date, end_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, promo.ID, promo.Code, promo.Name, promo.Description, string(promo.DiscountType), promo.DiscountValue,
		promo.MinAmount, maxUses, promo.CurrentUses, promo.Active, nullTime(promo.StartDate), nullTime(promo.EndDate), promo.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: promo code %s already exists", store.ErrConflict, promo.Code)
		}
		return nil, err
	}
	created := promo
	return &created, nil
}

func (s *Store) GetPromoCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+promoColumns+` FROM promo_codes WHERE lower(code) = lower($1)
	`, code)
	promo, err := scanPromo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return promo, nil
}

func (s *Store) ListPromoCodes(ctx context.Context, activeOnly bool) ([]domain.PromoCode, error) {
	query := `SELECT ` + promoColumns + ` FROM promo_codes ORDER BY code`
	if activeOnly {
		query = `SELECT ` + promoColumns + ` FROM promo_codes WHERE active = true ORDER BY code`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PromoCode, 0, 32)
	for rows.Next() {
		promo, err := scanPromo(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *promo)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdatePromoActive(ctx context.Context, promoID string, active bool) (*domain.PromoCode, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE promo_codes SET active = $2 WHERE id = $1
	`, promoID, active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE id = $1`, promoID)
	return scanPromo(row)
}

const ruleColumns = `id, name, COALESCE(description, ''), discount_type, discount_value, min_amount, COALESCE(category_id, ''), active, start_date, end_date, created_at`

func scanRule(row interface{ Scan(...any) error }) (*domain.DiscountRule, error) {
	var r domain.DiscountRule
	var discountType string
	var start, end sql.NullTime
	err := row.Scan(&r.ID, &r.Name, &r.Description, &discountType, &r.DiscountValue, &r.MinAmount,
		&r.CategoryID, &r.Active, &start, &end, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.DiscountType = domain.DiscountType(discountType)
	if start.Valid {
		t := start.Time.UTC()
		r.StartDate = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		r.EndDate = &t
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (s *Store) CreateDiscountRule(ctx context.Context, rule domain.DiscountRule) (*domain.DiscountRule, error) {
	if rule.Name == "" || rule.DiscountValue.IsNegative() || rule.MinAmount.IsNegative() {
		return nil, store.ErrValidation
	}
	if rule.ID == "" {
		rule.ID = xid.New("rule")
	}
	rule.Active = true
	rule.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discount_rules (id, name, description, discount_type, discount_value, min_amount, category_id, active, start_date, end_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, rule.ID, rule.Name, rule.Description, string(rule.DiscountType), rule.DiscountValue, rule.MinAmount,
		nullIfEmpty(rule.CategoryID), rule.Active, nullTime(rule.StartDate), nullTime(rule.EndDate), rule.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := rule
	return &created, nil
}

func (s *Store) ListDiscountRules(ctx context.Context, activeOnly bool) ([]domain.DiscountRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM discount_rules ORDER BY name`
	if activeOnly {
		query = `SELECT ` + ruleColumns + ` FROM discount_rules WHERE active = true ORDER BY name`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.DiscountRule, 0, 16)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateDiscountRuleActive(ctx context.Context, ruleID string, active bool) (*domain.DiscountRule, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE discount_rules SET active = $2 WHERE id = $1
	`, ruleID, active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM discount_rules WHERE id = $1`, ruleID)
	return scanRule(row)
}

func (s *Store) GetDailyReport(ctx context.Context, day time.Time) (domain.DailyReport, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	report := domain.DailyReport{
		Date:          dayStart.Format("2006-01-02"),
		GrossSales:    decimal.Zero,
		DiscountTotal: decimal.Zero,
		TaxTotal:      decimal.Zero,
		NetSales:      decimal.Zero,
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(subtotal), 0), COALESCE(SUM(discount_amount), 0), COALESCE(SUM(tax_amount), 0), COALESCE(SUM(total_amount), 0)
		FROM transactions
		WHERE status = $1 AND completed_at >= $2 AND completed_at < $3
	`, string(domain.StatusCompleted), dayStart, dayEnd).Scan(&report.Transactions, &report.GrossSales, &report.DiscountTotal, &report.TaxTotal, &report.NetSales)
	if err != nil {
		return domain.DailyReport{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.method, COUNT(DISTINCT p.transaction_id), COALESCE(SUM(p.amount), 0)
		FROM payments p
		JOIN transactions t ON t.id = p.transaction_id
		WHERE t.status = $1 AND t.completed_at >= $2 AND t.completed_at < $3
		GROUP BY p.method
		ORDER BY p.method
	`, string(domain.StatusCompleted), dayStart, dayEnd)
	if err != nil {
		return domain.DailyReport{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var entry domain.DailyReportPayment
		var method string
		if err := rows.Scan(&method, &entry.Transactions, &entry.Total); err != nil {
			return domain.DailyReport{}, err
		}
		entry.Method = domain.PaymentMethod(method)
		report.ByPayment = append(report.ByPayment, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.DailyReport{}, err
	}
	return report, nil
}

func (s *Store) GetPopularProducts(ctx context.Context, since time.Time, limit int) ([]domain.PopularProduct, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.sku, p.name, p.price, p.stock_quantity, COUNT(DISTINCT t.id), COALESCE(SUM(i.quantity), 0)
		FROM transaction_items i
		JOIN transactions t ON t.id = i.transaction_id
		JOIN products p ON p.id = i.product_id
		WHERE t.status = $1 AND t.completed_at >= $2
		GROUP BY p.id, p.sku, p.name, p.price, p.stock_quantity
		ORDER BY COUNT(DISTINCT t.id) DESC, p.name
		LIMIT $3
	`, string(domain.StatusCompleted), since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PopularProduct, 0, limit)
	for rows.Next() {
		var p domain.PopularProduct
		if err := rows.Scan(&p.ProductID, &p.SKU, &p.Name, &p.Price, &p.StockQuantity, &p.TransactionCount, &p.TotalSold); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, nullIfEmpty(entry.EntityID), entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Hour)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, COALESCE(entity_id, ''), detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s already exists", store.ErrConflict, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		result = append(result, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if password == "" {
		return store.ErrValidation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
