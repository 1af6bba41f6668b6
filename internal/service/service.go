package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tengepos/backend/internal/cache"
	"tengepos/backend/internal/domain"
	"tengepos/backend/internal/store"
	"tengepos/backend/internal/xid"
)

const popularCachePrefix = "popular:"

// ErrForbidden is returned when the acting user's role does not permit the
// requested operation.
var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo        store.Repository
	reportCache cache.ReportCache
	popularTTL  time.Duration
}

func New(repo store.Repository, reportCache cache.ReportCache, popularTTL time.Duration) *Service {
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	if popularTTL <= 0 {
		popularTTL = 5 * time.Minute
	}

	return &Service{
		repo:        repo,
		reportCache: reportCache,
		popularTTL:  popularTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, activeOnly)
}

func (s *Service) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.SearchProducts(ctx, query, limit)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) GetProductByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, store.ErrNotFound
	}
	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	if errors.Is(err, store.ErrNotFound) {
		// Scanners sometimes emit the SKU instead of the barcode.
		product, err = s.repo.GetProductBySKU(ctx, barcode)
	}
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, ErrForbidden
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Barcode = strings.TrimSpace(req.Barcode)

	if req.SKU == "" || req.Name == "" {
		return domain.Product{}, store.ErrValidation
	}
	if !req.Price.IsPositive() || req.CostPrice.IsNegative() || req.InitialStock < 0 || req.MinStockLevel < 0 {
		return domain.Product{}, store.ErrValidation
	}
	unitType, err := domain.ParseUnitType(req.UnitType)
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	product := domain.Product{
		SKU:           req.SKU,
		Barcode:       req.Barcode,
		Name:          req.Name,
		Description:   strings.TrimSpace(req.Description),
		UnitType:      unitType,
		Price:         req.Price,
		CostPrice:     req.CostPrice,
		StockQuantity: req.InitialStock,
		MinStockLevel: req.MinStockLevel,
		CategoryID:    req.CategoryID,
		Active:        true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,name=%s,price=%s,stock=%d", created.SKU, created.Name, created.Price.StringFixed(2), created.StockQuantity))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, ErrForbidden
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.UnitType != nil {
		unitType, err := domain.ParseUnitType(*req.UnitType)
		if err != nil {
			return domain.Product{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
		}
		updated.UnitType = unitType
	}
	if req.Price != nil {
		if !req.Price.IsPositive() {
			return domain.Product{}, store.ErrValidation
		}
		updated.Price = *req.Price
	}
	if req.CostPrice != nil {
		if req.CostPrice.IsNegative() {
			return domain.Product{}, store.ErrValidation
		}
		updated.CostPrice = *req.CostPrice
	}
	if req.MinStockLevel != nil {
		if *req.MinStockLevel < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.MinStockLevel = *req.MinStockLevel
	}
	if req.CategoryID != nil {
		updated.CategoryID = *req.CategoryID
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%s", saved.Active, saved.Price.StringFixed(2)))
	return *saved, nil
}

func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, ErrForbidden
	}
	if req.ProductID == "" || req.Delta == 0 {
		return domain.Product{}, store.ErrValidation
	}

	updated, err := s.repo.AdjustStock(ctx, req.ProductID, req.Delta)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "stock_adjust", "product", updated.ID, fmt.Sprintf("delta=%d,now=%d,reason=%s", req.Delta, updated.StockQuantity, strings.TrimSpace(req.Reason)))
	return *updated, nil
}

func (s *Service) ListLowStockProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListLowStockProducts(ctx)
}

// StartTransaction opens a new pending sale and makes it the cashier's
// active transaction.
func (s *Service) StartTransaction(ctx context.Context, req domain.StartTransactionRequest) (domain.Transaction, error) {
	cashier := strings.TrimSpace(req.CashierName)
	if cashier == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			cashier = actor.Username
		}
	}
	if cashier == "" {
		return domain.Transaction{}, fmt.Errorf("%w: cashier name required", store.ErrValidation)
	}

	tx := domain.Transaction{
		CashierName:  cashier,
		CustomerName: strings.TrimSpace(req.CustomerName),
	}
	if actor, ok := ActorFromContext(ctx); ok {
		tx.UserID = actor.Username
	}

	created, err := s.repo.CreateTransaction(ctx, tx)
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_start", "transaction", created.ID, fmt.Sprintf("number=%s,cashier=%s", created.Number, created.CashierName))
	return *created, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

// GetCurrentTransaction resolves the cashier's active pending transaction,
// if any. A stale pointer to a no-longer-pending transaction is cleared.
func (s *Service) GetCurrentTransaction(ctx context.Context, cashier string) (*domain.Transaction, error) {
	cashier = strings.TrimSpace(cashier)
	if cashier == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			cashier = actor.Username
		}
	}
	if cashier == "" {
		return nil, fmt.Errorf("%w: cashier name required", store.ErrValidation)
	}

	id, err := s.repo.GetActiveTransactionID(ctx, cashier)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = s.repo.ClearActiveTransactionID(ctx, cashier)
			return nil, nil
		}
		return nil, err
	}
	if tx.Status != domain.StatusPending {
		_ = s.repo.ClearActiveTransactionID(ctx, cashier)
		return nil, nil
	}
	return tx, nil
}

func (s *Service) AddItem(ctx context.Context, transactionID string, req domain.AddItemRequest) (domain.Transaction, domain.TransactionItem, error) {
	if req.ProductID == "" {
		return domain.Transaction{}, domain.TransactionItem{}, fmt.Errorf("%w: product id required", store.ErrValidation)
	}
	tx, item, err := s.repo.AddItem(ctx, transactionID, req.ProductID, req.Quantity)
	if err != nil {
		return domain.Transaction{}, domain.TransactionItem{}, err
	}
	return *tx, *item, nil
}

func (s *Service) RemoveItem(ctx context.Context, transactionID string, itemID string) (domain.Transaction, error) {
	if itemID == "" {
		return domain.Transaction{}, fmt.Errorf("%w: item id required", store.ErrValidation)
	}
	tx, err := s.repo.RemoveItem(ctx, transactionID, itemID)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ApplyDiscount(ctx context.Context, transactionID string, req domain.ApplyDiscountRequest) (domain.Transaction, error) {
	discountType, err := domain.ParseDiscountType(req.Type)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	tx, err := s.repo.ApplyDiscount(ctx, transactionID, discountType, req.Value)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logAudit(ctx, "discount_apply", "transaction", tx.ID, fmt.Sprintf("type=%s,value=%s,amount=%s", discountType, req.Value.String(), tx.DiscountAmount.StringFixed(2)))
	return *tx, nil
}

// ApplyDiscountRule resolves a named reference-data rule and applies it as the
// transaction's ad hoc discount. Unlike promo codes, rules carry no usage
// counter.
func (s *Service) ApplyDiscountRule(ctx context.Context, transactionID string, ruleID string) (domain.Transaction, error) {
	if strings.TrimSpace(ruleID) == "" {
		return domain.Transaction{}, fmt.Errorf("%w: rule id required", store.ErrValidation)
	}
	rules, err := s.repo.ListDiscountRules(ctx, true)
	if err != nil {
		return domain.Transaction{}, err
	}
	var rule *domain.DiscountRule
	for i := range rules {
		if rules[i].ID == ruleID {
			rule = &rules[i]
			break
		}
	}
	if rule == nil {
		return domain.Transaction{}, fmt.Errorf("%w: discount rule %s", store.ErrNotFound, ruleID)
	}
	if !rule.WithinWindow(time.Now().UTC()) {
		return domain.Transaction{}, fmt.Errorf("%w: discount rule %s is not valid now", store.ErrValidation, rule.Name)
	}
	current, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if current.Subtotal.LessThan(rule.MinAmount) {
		return domain.Transaction{}, fmt.Errorf("%w: minimum purchase of %s not met", store.ErrValidation, rule.MinAmount.StringFixed(2))
	}

	tx, err := s.repo.ApplyDiscount(ctx, transactionID, rule.DiscountType, rule.DiscountValue)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logAudit(ctx, "discount_rule_apply", "transaction", tx.ID, fmt.Sprintf("rule=%s,amount=%s", rule.Name, tx.DiscountAmount.StringFixed(2)))
	return *tx, nil
}

func (s *Service) ApplyPromo(ctx context.Context, transactionID string, req domain.ApplyPromoRequest) (domain.Transaction, domain.PromoCode, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return domain.Transaction{}, domain.PromoCode{}, fmt.Errorf("%w: promo code required", store.ErrValidation)
	}
	tx, promo, err := s.repo.ApplyPromo(ctx, transactionID, code, time.Now().UTC())
	if err != nil {
		return domain.Transaction{}, domain.PromoCode{}, err
	}
	s.logAudit(ctx, "promo_apply", "transaction", tx.ID, fmt.Sprintf("code=%s,discount=%s", promo.Code, tx.DiscountAmount.StringFixed(2)))
	return *tx, *promo, nil
}

func (s *Service) RemovePromo(ctx context.Context, transactionID string) (domain.Transaction, error) {
	tx, err := s.repo.RemovePromo(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logAudit(ctx, "promo_remove", "transaction", tx.ID, "")
	return *tx, nil
}

// Complete settles the sale: payment check, promo usage, stock decrement and
// the status transition all commit together. On success the popular-products
// cache is invalidated best-effort.
func (s *Service) Complete(ctx context.Context, transactionID string, req domain.CompleteRequest) (domain.Transaction, error) {
	userID := ""
	if actor, ok := ActorFromContext(ctx); ok {
		userID = actor.Username
	}

	tx, err := s.repo.CompleteTransaction(ctx, transactionID, req.Payments, userID, time.Now().UTC())
	if err != nil {
		return domain.Transaction{}, err
	}

	if err := s.reportCache.InvalidatePrefix(ctx, popularCachePrefix); err != nil {
		log.Printf("[service] WARN: failed to invalidate popular cache: %v", err)
	}

	methods := make([]string, 0, len(tx.Payments))
	for _, p := range tx.Payments {
		methods = append(methods, string(p.Method))
	}
	s.logAudit(ctx, "transaction_complete", "transaction", tx.ID,
		fmt.Sprintf("number=%s,total=%s,items=%d,methods=%s", tx.Number, tx.TotalAmount.StringFixed(2), len(tx.Items), strings.Join(methods, "+")))
	return *tx, nil
}

func (s *Service) Suspend(ctx context.Context, transactionID string) (domain.Transaction, error) {
	tx, err := s.repo.SuspendTransaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logAudit(ctx, "transaction_suspend", "transaction", tx.ID, fmt.Sprintf("number=%s", tx.Number))
	return *tx, nil
}

func (s *Service) Restore(ctx context.Context, transactionID string) (domain.Transaction, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Transaction{}, fmt.Errorf("%w: acting user required", store.ErrValidation)
	}

	existing, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	// A parked sale can only be picked up by the cashier who owns it. Other
	// cashiers get the same answer as for a transaction that does not exist.
	owner := existing.UserID
	if owner == "" {
		owner = existing.CashierName
	}
	if owner != actor.Username {
		return domain.Transaction{}, store.ErrNotFound
	}

	tx, err := s.repo.RestoreTransaction(ctx, transactionID, existing.CashierName)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logAudit(ctx, "transaction_restore", "transaction", tx.ID, fmt.Sprintf("number=%s", tx.Number))
	return *tx, nil
}

func (s *Service) Cancel(ctx context.Context, transactionID string) (domain.Transaction, error) {
	tx, err := s.repo.CancelTransaction(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logAudit(ctx, "transaction_cancel", "transaction", tx.ID, fmt.Sprintf("number=%s", tx.Number))
	return *tx, nil
}

func (s *Service) ListSuspended(ctx context.Context, cashier string) ([]domain.Transaction, error) {
	return s.repo.ListSuspended(ctx, strings.TrimSpace(cashier))
}

func (s *Service) CreatePromoCode(ctx context.Context, req domain.PromoCreateRequest) (domain.PromoCode, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.PromoCode{}, ErrForbidden
	}

	discountType, err := domain.ParseDiscountType(req.DiscountType)
	if err != nil {
		return domain.PromoCode{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if discountType == domain.DiscountPercentage && req.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return domain.PromoCode{}, fmt.Errorf("%w: percentage discount above 100", store.ErrValidation)
	}
	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return domain.PromoCode{}, fmt.Errorf("%w: end date before start date", store.ErrValidation)
	}

	promo := domain.PromoCode{
		Code:          strings.TrimSpace(req.Code),
		Name:          strings.TrimSpace(req.Name),
		Description:   strings.TrimSpace(req.Description),
		DiscountType:  discountType,
		DiscountValue: req.DiscountValue,
		MinAmount:     req.MinAmount,
		MaxUses:       req.MaxUses,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
	}
	created, err := s.repo.CreatePromoCode(ctx, promo)
	if err != nil {
		return domain.PromoCode{}, err
	}

	s.logAudit(ctx, "promo_create", "promo", created.ID, fmt.Sprintf("code=%s,type=%s,value=%s", created.Code, created.DiscountType, created.DiscountValue.String()))
	return *created, nil
}

func (s *Service) ListPromoCodes(ctx context.Context, activeOnly bool) ([]domain.PromoCode, error) {
	return s.repo.ListPromoCodes(ctx, activeOnly)
}

func (s *Service) SetPromoActive(ctx context.Context, promoID string, active bool) (domain.PromoCode, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.PromoCode{}, ErrForbidden
	}
	updated, err := s.repo.UpdatePromoActive(ctx, promoID, active)
	if err != nil {
		return domain.PromoCode{}, err
	}
	s.logAudit(ctx, "promo_set_active", "promo", updated.ID, fmt.Sprintf("code=%s,active=%t", updated.Code, updated.Active))
	return *updated, nil
}

func (s *Service) CreateDiscountRule(ctx context.Context, req domain.DiscountRuleCreateRequest) (domain.DiscountRule, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.DiscountRule{}, ErrForbidden
	}

	discountType, err := domain.ParseDiscountType(req.DiscountType)
	if err != nil {
		return domain.DiscountRule{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	rule := domain.DiscountRule{
		Name:          strings.TrimSpace(req.Name),
		Description:   strings.TrimSpace(req.Description),
		DiscountType:  discountType,
		DiscountValue: req.DiscountValue,
		MinAmount:     req.MinAmount,
		CategoryID:    req.CategoryID,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
	}
	created, err := s.repo.CreateDiscountRule(ctx, rule)
	if err != nil {
		return domain.DiscountRule{}, err
	}

	s.logAudit(ctx, "discount_rule_create", "discount_rule", created.ID, fmt.Sprintf("name=%s,type=%s,value=%s", created.Name, created.DiscountType, created.DiscountValue.String()))
	return *created, nil
}

func (s *Service) ListDiscountRules(ctx context.Context, activeOnly bool) ([]domain.DiscountRule, error) {
	return s.repo.ListDiscountRules(ctx, activeOnly)
}

func (s *Service) SetDiscountRuleActive(ctx context.Context, ruleID string, active bool) (domain.DiscountRule, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.DiscountRule{}, ErrForbidden
	}
	updated, err := s.repo.UpdateDiscountRuleActive(ctx, ruleID, active)
	if err != nil {
		return domain.DiscountRule{}, err
	}
	s.logAudit(ctx, "discount_rule_set_active", "discount_rule", updated.ID, fmt.Sprintf("name=%s,active=%t", updated.Name, updated.Active))
	return *updated, nil
}

func (s *Service) DailyReport(ctx context.Context, day time.Time) (domain.DailyReport, error) {
	return s.repo.GetDailyReport(ctx, day)
}

// PopularProducts serves the ranked best-sellers for the trailing period,
// cached for a few minutes because the aggregate scan is the most expensive
// read in the system.
func (s *Service) PopularProducts(ctx context.Context, days int, limit int) (domain.PopularProductsReport, error) {
	if days < 1 {
		days = 30
	}
	if limit < 1 {
		limit = 10
	}

	key := fmt.Sprintf("%s%d:%d", popularCachePrefix, days, limit)
	if cached, hit, err := s.reportCache.Get(ctx, key); err != nil {
		log.Printf("[service] WARN: popular cache read failed: %v", err)
	} else if hit {
		return *cached, nil
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	products, err := s.repo.GetPopularProducts(ctx, since, limit)
	if err != nil {
		return domain.PopularProductsReport{}, err
	}
	report := domain.PopularProductsReport{Products: products, PeriodDays: days}

	if err := s.reportCache.Set(ctx, key, &report, s.popularTTL); err != nil {
		log.Printf("[service] WARN: popular cache write failed: %v", err)
	}
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, ErrForbidden
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
