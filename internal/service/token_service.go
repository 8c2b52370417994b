package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/digkill/lookstudio/internal/apperr"
	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/repository"
)

// TokenService owns subscriptions and the token ledger. Every counter change
// goes through LedgerStore.Mutate so it is written together with its ledger row
// under the subscription row lock.
type TokenService struct {
	ledger LedgerStore
	log    *slog.Logger
	now    func() time.Time
}

func NewTokenService(ledger LedgerStore, log *slog.Logger) *TokenService {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TokenService{ledger: ledger, log: log, now: time.Now}
}

type ConsumeResult struct {
	Success         bool   `json:"success"`
	Cost            int    `json:"cost"`
	AvailableTokens int    `json:"availableTokens"`
	ConsumedTokens  int    `json:"consumedTokens"`
	Message         string `json:"message"`
}

// GetOrCreateSubscription returns the user's subscription, creating a free one
// on first access. A concurrent creator wins and its row is returned.
func (s *TokenService) GetOrCreateSubscription(ctx context.Context, userID int64) (*models.Subscription, error) {
	sub, err := s.ledger.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if sub != nil {
		return sub, nil
	}

	fresh := models.NewSubscription(userID, models.TierFree, s.now())
	err = s.ledger.Create(ctx, fresh)
	switch {
	case err == nil:
		s.log.Info("subscription created", "user_id", userID, "tier", fresh.Tier)
		return fresh, nil
	case errors.Is(err, repository.ErrDuplicate):
		sub, err = s.ledger.Get(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("get subscription: %w", err)
		}
		if sub == nil {
			return nil, fmt.Errorf("subscription for user %d vanished after conflict", userID)
		}
		return sub, nil
	default:
		return nil, fmt.Errorf("create subscription: %w", err)
	}
}

func (s *TokenService) CostOf(op models.Operation) (int, error) {
	cost, ok := op.Cost()
	if !ok {
		return 0, apperr.InvalidOperation("unknown operation %q", op)
	}
	return cost, nil
}

func (s *TokenService) HasTokens(sub *models.Subscription, amount int) bool {
	return sub.HasTokens(amount)
}

// Consume charges the cost of op. A shortfall is reported through
// ConsumeResult.Success and leaves both the subscription and the ledger alone.
func (s *TokenService) Consume(ctx context.Context, userID int64, op models.Operation, description string) (*ConsumeResult, error) {
	cost, err := s.CostOf(op)
	if err != nil {
		return nil, err
	}
	if description == "" {
		description = fmt.Sprintf("Token consumption for %s", op)
	}
	if _, err := s.GetOrCreateSubscription(ctx, userID); err != nil {
		return nil, err
	}

	res := &ConsumeResult{Cost: cost}
	sub, err := s.ledger.Mutate(ctx, userID, func(sub *models.Subscription) (*models.TokenTransaction, error) {
		if !sub.HasTokens(cost) {
			res.Message = fmt.Sprintf("insufficient tokens: %s costs %d, %d available", op, cost, sub.AvailableTokens)
			return nil, nil
		}
		before := sub.Balance()
		if !sub.IsUnlimited() {
			sub.AvailableTokens -= cost
		}
		sub.ConsumedTokens += cost
		sub.LifetimeConsumed += int64(cost)
		res.Success = true
		res.Message = fmt.Sprintf("consumed %d tokens for %s", cost, op)
		return &models.TokenTransaction{
			Type:          models.TxConsumption,
			Amount:        -cost,
			BalanceBefore: before,
			BalanceAfter:  sub.Balance(),
			Description:   description,
		}, nil
	})
	if err != nil {
		return nil, s.ledgerError(userID, err)
	}

	res.AvailableTokens = sub.Balance()
	res.ConsumedTokens = sub.ConsumedTokens
	if res.Success {
		s.log.Info("tokens consumed", "user_id", userID, "operation", op, "cost", cost, "available", res.AvailableTokens)
	} else {
		s.log.Info("token consumption rejected", "user_id", userID, "operation", op, "cost", cost, "available", res.AvailableTokens)
	}
	return res, nil
}

// AdminAdjust credits (amount > 0) or deducts (amount < 0) tokens. Deductions
// never drive the balance negative; the unlimited tier cannot be adjusted.
func (s *TokenService) AdminAdjust(ctx context.Context, userID int64, amount int, description string, adminID int64) (*models.Subscription, error) {
	if amount == 0 {
		return nil, apperr.BadRequest("amount must not be zero")
	}
	txType := models.TxTopup
	if amount < 0 {
		txType = models.TxAdminDeduction
	}
	if description == "" {
		description = fmt.Sprintf("Admin %s of %d tokens", txType, amount)
	}

	sub, err := s.ledger.Mutate(ctx, userID, func(sub *models.Subscription) (*models.TokenTransaction, error) {
		if sub.IsUnlimited() {
			return nil, apperr.InvalidOperation("cannot adjust tokens on the unlimited tier")
		}
		if sub.AvailableTokens+amount < 0 {
			return nil, apperr.InsufficientBalance(
				fmt.Sprintf("cannot deduct %d tokens, only %d available", -amount, sub.AvailableTokens), sub.AvailableTokens)
		}
		before := sub.AvailableTokens
		sub.AvailableTokens += amount
		sub.TotalTokens += amount
		return &models.TokenTransaction{
			Type:          txType,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  sub.AvailableTokens,
			Description:   description,
			AdminID:       &adminID,
		}, nil
	})
	if err != nil {
		return nil, s.ledgerError(userID, err)
	}
	s.log.Info("tokens adjusted", "user_id", userID, "amount", amount, "admin_id", adminID)
	return sub, nil
}

// ChangeTier moves the user to tier and starts a fresh period with the tier's
// allocation. Totals are left untouched when moving to the unlimited tier.
func (s *TokenService) ChangeTier(ctx context.Context, userID int64, tier models.Tier, adminID int64) (*models.Subscription, error) {
	if !tier.Valid() {
		return nil, apperr.BadRequest("unknown tier %q", tier)
	}
	if _, err := s.GetOrCreateSubscription(ctx, userID); err != nil {
		return nil, err
	}

	sub, err := s.ledger.Mutate(ctx, userID, func(sub *models.Subscription) (*models.TokenTransaction, error) {
		from := sub.Tier
		before := sub.Balance()
		sub.Tier = tier
		sub.ConsumedTokens = 0
		if !tier.IsUnlimited() {
			sub.TotalTokens = tier.Limit()
			sub.AvailableTokens = tier.Limit()
		}
		sub.StartPeriod(s.now())
		after := sub.Balance()
		return &models.TokenTransaction{
			Type:          models.TxTierChange,
			Amount:        balanceDelta(before, after),
			BalanceBefore: before,
			BalanceAfter:  after,
			Description:   fmt.Sprintf("Tier changed from %s to %s", from, tier),
			AdminID:       &adminID,
		}, nil
	})
	if err != nil {
		return nil, s.ledgerError(userID, err)
	}
	s.log.Info("subscription tier changed", "user_id", userID, "tier", tier, "admin_id", adminID)
	return sub, nil
}

// ResetPeriod restores the tier allocation and starts a new period. adminID is
// nil for system-initiated resets.
func (s *TokenService) ResetPeriod(ctx context.Context, userID int64, adminID *int64) (*models.Subscription, error) {
	sub, err := s.ledger.Mutate(ctx, userID, func(sub *models.Subscription) (*models.TokenTransaction, error) {
		before := sub.Balance()
		sub.ConsumedTokens = 0
		if !sub.IsUnlimited() {
			sub.TotalTokens = sub.Tier.Limit()
			sub.AvailableTokens = sub.Tier.Limit()
		}
		sub.StartPeriod(s.now())
		after := sub.Balance()
		return &models.TokenTransaction{
			Type:          models.TxReset,
			Amount:        balanceDelta(before, after),
			BalanceBefore: before,
			BalanceAfter:  after,
			Description:   "Billing period reset",
			AdminID:       adminID,
		}, nil
	})
	if err != nil {
		return nil, s.ledgerError(userID, err)
	}
	s.log.Info("billing period reset", "user_id", userID)
	return sub, nil
}

// Refund gives back up to amount tokens of the current period's consumption.
// Lifetime consumption is not reduced. It returns the refunded amount.
func (s *TokenService) Refund(ctx context.Context, userID int64, amount int, description string) (int, error) {
	if amount <= 0 {
		return 0, nil
	}
	refunded := 0
	_, err := s.ledger.Mutate(ctx, userID, func(sub *models.Subscription) (*models.TokenTransaction, error) {
		refunded = min(amount, sub.ConsumedTokens)
		if refunded <= 0 {
			return nil, nil
		}
		before := sub.Balance()
		if !sub.IsUnlimited() {
			sub.AvailableTokens += refunded
		}
		sub.ConsumedTokens -= refunded
		return &models.TokenTransaction{
			Type:          models.TxRefund,
			Amount:        refunded,
			BalanceBefore: before,
			BalanceAfter:  sub.Balance(),
			Description:   description,
		}, nil
	})
	if err != nil {
		return 0, s.ledgerError(userID, err)
	}
	if refunded > 0 {
		s.log.Info("tokens refunded", "user_id", userID, "amount", refunded)
	}
	return refunded, nil
}

type History struct {
	Items  []models.TokenTransaction `json:"items"`
	Total  int                       `json:"total"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}

func (s *TokenService) History(ctx context.Context, userID int64, limit, offset int) (*History, error) {
	limit, offset = pageBounds(limit, offset)
	items, total, err := s.ledger.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if items == nil {
		items = []models.TokenTransaction{}
	}
	return &History{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// LastTransaction returns the newest ledger row, or nil.
func (s *TokenService) LastTransaction(ctx context.Context, userID int64) (*models.TokenTransaction, error) {
	items, _, err := s.ledger.ListTransactions(ctx, userID, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

type TierInfo struct {
	Tier      models.Tier `json:"tier"`
	Tokens    int         `json:"tokens"`
	Unlimited bool        `json:"unlimited"`
}

func (s *TokenService) Tiers() []TierInfo {
	tiers := models.Tiers()
	out := make([]TierInfo, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, TierInfo{Tier: t, Tokens: t.Limit(), Unlimited: t.IsUnlimited()})
	}
	return out
}

func (s *TokenService) Costs() map[models.Operation]int {
	return models.OperationCosts()
}

func (s *TokenService) ledgerError(userID int64, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("subscription for user %d not found", userID)
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return fmt.Errorf("update subscription: %w", err)
}

// balanceDelta is the change in available tokens; an unlimited side has no
// meaningful balance, so only the numeric side counts.
func balanceDelta(before, after int) int {
	switch {
	case after == models.UnlimitedMark:
		return 0
	case before == models.UnlimitedMark:
		return after
	default:
		return after - before
	}
}
