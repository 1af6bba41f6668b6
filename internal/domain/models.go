package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a sale. Statuses are persisted
// as their string value.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusSuspended TransactionStatus = "suspended"
	StatusCancelled TransactionStatus = "cancelled"
)

func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case StatusPending, StatusCompleted, StatusSuspended, StatusCancelled:
		return TransactionStatus(raw), nil
	}
	return "", fmt.Errorf("unknown transaction status %q", raw)
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(raw) {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return PaymentMethod(raw), nil
	}
	return "", fmt.Errorf("unknown payment method %q", raw)
}

type UnitType string

const (
	UnitPiece    UnitType = "piece"
	UnitKilogram UnitType = "kilogram"
	UnitLiter    UnitType = "liter"
	UnitMeter    UnitType = "meter"
	UnitPack     UnitType = "pack"
)

func ParseUnitType(raw string) (UnitType, error) {
	switch UnitType(raw) {
	case UnitPiece, UnitKilogram, UnitLiter, UnitMeter, UnitPack:
		return UnitType(raw), nil
	}
	return "", fmt.Errorf("unknown unit type %q", raw)
}

type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
)

func ParseDiscountType(raw string) (DiscountType, error) {
	switch DiscountType(raw) {
	case DiscountPercentage, DiscountFixedAmount:
		return DiscountType(raw), nil
	}
	return "", fmt.Errorf("unknown discount type %q", raw)
}

type Product struct {
	ID            string          `json:"id"`
	SKU           string          `json:"sku"`
	Barcode       string          `json:"barcode,omitempty"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	UnitType      UnitType        `json:"unit_type"`
	Price         decimal.Decimal `json:"price"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	StockQuantity int             `json:"stock_quantity"`
	MinStockLevel int             `json:"min_stock_level"`
	CategoryID    string          `json:"category_id,omitempty"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p Product) IsLowStock() bool {
	return p.StockQuantity <= p.MinStockLevel
}

type ProductCreateRequest struct {
	SKU           string          `json:"sku"`
	Barcode       string          `json:"barcode"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	UnitType      string          `json:"unit_type"`
	Price         decimal.Decimal `json:"price"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	InitialStock  int             `json:"initial_stock"`
	MinStockLevel int             `json:"min_stock_level"`
	CategoryID    string          `json:"category_id"`
}

type ProductUpdateRequest struct {
	Name          *string          `json:"name,omitempty"`
	Description   *string          `json:"description,omitempty"`
	Barcode       *string          `json:"barcode,omitempty"`
	UnitType      *string          `json:"unit_type,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	CostPrice     *decimal.Decimal `json:"cost_price,omitempty"`
	MinStockLevel *int             `json:"min_stock_level,omitempty"`
	CategoryID    *string          `json:"category_id,omitempty"`
	Active        *bool            `json:"active,omitempty"`
}

type StockAdjustRequest struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
	Reason    string `json:"reason"`
}

type Transaction struct {
	ID             string            `json:"id"`
	Number         string            `json:"number"`
	Status         TransactionStatus `json:"status"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	TaxAmount      decimal.Decimal   `json:"tax_amount"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	PromoCode      string            `json:"promo_code,omitempty"`
	CashierName    string            `json:"cashier_name"`
	CustomerName   string            `json:"customer_name,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Items          []TransactionItem `json:"items"`
	Payments       []Payment         `json:"payments,omitempty"`
}

type TransactionItem struct {
	ID             string          `json:"id"`
	TransactionID  string          `json:"transaction_id"`
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name,omitempty"`
	SKU            string          `json:"sku,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalPrice     decimal.Decimal `json:"total_price"`
}

type Payment struct {
	ID              string          `json:"id"`
	TransactionID   string          `json:"transaction_id"`
	Method          PaymentMethod   `json:"method"`
	Amount          decimal.Decimal `json:"amount"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type PromoCode struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	MinAmount     decimal.Decimal `json:"min_amount"`
	MaxUses       *int            `json:"max_uses,omitempty"`
	CurrentUses   int             `json:"current_uses"`
	Active        bool            `json:"active"`
	StartDate     *time.Time      `json:"start_date,omitempty"`
	EndDate       *time.Time      `json:"end_date,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// WithinWindow reports whether now falls inside the promo's validity window.
// A missing bound means unbounded on that side.
func (p PromoCode) WithinWindow(now time.Time) bool {
	if p.StartDate != nil && p.StartDate.After(now) {
		return false
	}
	if p.EndDate != nil && p.EndDate.Before(now) {
		return false
	}
	return true
}

// Exhausted reports whether the usage cap has been reached. A nil MaxUses
// means unlimited.
func (p PromoCode) Exhausted() bool {
	return p.MaxUses != nil && p.CurrentUses >= *p.MaxUses
}

type PromoCreateRequest struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	MinAmount     decimal.Decimal `json:"min_amount"`
	MaxUses       *int            `json:"max_uses,omitempty"`
	StartDate     *time.Time      `json:"start_date,omitempty"`
	EndDate       *time.Time      `json:"end_date,omitempty"`
}

type DiscountRule struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	MinAmount     decimal.Decimal `json:"min_amount"`
	CategoryID    string          `json:"category_id,omitempty"`
	Active        bool            `json:"active"`
	StartDate     *time.Time      `json:"start_date,omitempty"`
	EndDate       *time.Time      `json:"end_date,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (r DiscountRule) WithinWindow(now time.Time) bool {
	if r.StartDate != nil && r.StartDate.After(now) {
		return false
	}
	if r.EndDate != nil && r.EndDate.Before(now) {
		return false
	}
	return true
}

type DiscountRuleCreateRequest struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	MinAmount     decimal.Decimal `json:"min_amount"`
	CategoryID    string          `json:"category_id"`
	StartDate     *time.Time      `json:"start_date,omitempty"`
	EndDate       *time.Time      `json:"end_date,omitempty"`
}

type StartTransactionRequest struct {
	CashierName  string `json:"cashier_name"`
	CustomerName string `json:"customer_name"`
}

type StartTransactionResponse struct {
	TransactionID string `json:"transaction_id"`
	Number        string `json:"number"`
}

type AddItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type ItemSummary struct {
	ItemID      string          `json:"item_id"`
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type AddItemResponse struct {
	Item        ItemSummary     `json:"item"`
	TotalAmount decimal.Decimal `json:"transaction_total"`
}

type ApplyDiscountRequest struct {
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
}

type DiscountResponse struct {
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

type ApplyDiscountRuleRequest struct {
	RuleID string `json:"rule_id"`
}

type ApplyPromoRequest struct {
	Code string `json:"code"`
}

type ApplyPromoResponse struct {
	PromoCode      string          `json:"promo_code"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

type PaymentRequest struct {
	Method          string          `json:"method"`
	Amount          decimal.Decimal `json:"amount"`
	ReferenceNumber string          `json:"reference_number"`
}

type CompleteRequest struct {
	Payments []PaymentRequest `json:"payments"`
}

type CompleteResponse struct {
	TransactionID string          `json:"transaction_id"`
	Number        string          `json:"number"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CompletedAt   string          `json:"completed_at"`
}

type TransactionSnapshot struct {
	Transaction Transaction `json:"transaction"`
}

type DailyReportPayment struct {
	Method       PaymentMethod   `json:"method"`
	Transactions int64           `json:"transactions"`
	Total        decimal.Decimal `json:"total"`
}

type DailyReport struct {
	Date          string               `json:"date"`
	Transactions  int64                `json:"transactions"`
	GrossSales    decimal.Decimal      `json:"gross_sales"`
	DiscountTotal decimal.Decimal      `json:"discount_total"`
	TaxTotal      decimal.Decimal      `json:"tax_total"`
	NetSales      decimal.Decimal      `json:"net_sales"`
	ByPayment     []DailyReportPayment `json:"by_payment"`
}

type PopularProduct struct {
	ProductID        string          `json:"product_id"`
	SKU              string          `json:"sku"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	StockQuantity    int             `json:"stock_quantity"`
	TransactionCount int64           `json:"transaction_count"`
	TotalSold        decimal.Decimal `json:"total_sold"`
}

type PopularProductsReport struct {
	Products   []PopularProduct `json:"products"`
	PeriodDays int              `json:"period_days"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
