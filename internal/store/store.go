package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tengepos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidState      = errors.New("invalid transaction state")
	ErrConflict          = errors.New("conflict")
	ErrPromoExhausted    = errors.New("promo code exhausted")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Repository interface {
	ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error)
	ListLowStockProducts(ctx context.Context) ([]domain.Product, error)

	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	AddItem(ctx context.Context, transactionID string, productID string, quantity decimal.Decimal) (*domain.Transaction, *domain.TransactionItem, error)
	RemoveItem(ctx context.Context, transactionID string, itemID string) (*domain.Transaction, error)
	ApplyDiscount(ctx context.Context, transactionID string, discountType domain.DiscountType, value decimal.Decimal) (*domain.Transaction, error)
	ApplyPromo(ctx context.Context, transactionID string, code string, at time.Time) (*domain.Transaction, *domain.PromoCode, error)
	RemovePromo(ctx context.Context, transactionID string) (*domain.Transaction, error)
	CompleteTransaction(ctx context.Context, transactionID string, payments []domain.PaymentRequest, userID string, at time.Time) (*domain.Transaction, error)
	SuspendTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)
	RestoreTransaction(ctx context.Context, transactionID string, cashier string) (*domain.Transaction, error)
	CancelTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)
	ListSuspended(ctx context.Context, cashier string) ([]domain.Transaction, error)

	GetActiveTransactionID(ctx context.Context, cashier string) (string, error)
	SetActiveTransactionID(ctx context.Context, cashier string, transactionID string) error
	ClearActiveTransactionID(ctx context.Context, cashier string) error

	CreatePromoCode(ctx context.Context, promo domain.PromoCode) (*domain.PromoCode, error)
	GetPromoCode(ctx context.Context, code string) (*domain.PromoCode, error)
	ListPromoCodes(ctx context.Context, activeOnly bool) ([]domain.PromoCode, error)
	UpdatePromoActive(ctx context.Context, promoID string, active bool) (*domain.PromoCode, error)

	CreateDiscountRule(ctx context.Context, rule domain.DiscountRule) (*domain.DiscountRule, error)
	ListDiscountRules(ctx context.Context, activeOnly bool) ([]domain.DiscountRule, error)
	UpdateDiscountRuleActive(ctx context.Context, ruleID string, active bool) (*domain.DiscountRule, error)

	GetDailyReport(ctx context.Context, day time.Time) (domain.DailyReport, error)
	GetPopularProducts(ctx context.Context, since time.Time, limit int) ([]domain.PopularProduct, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
