package models

import (
	"sort"
	"time"
)

type Tier string

const (
	TierFree     Tier = "free"
	TierBasic    Tier = "basic"
	TierPro      Tier = "pro"
	TierProPlus  Tier = "pro_plus"
	TierUltimate Tier = "ultimate"
)

// UnlimitedMark stands in for token counts on the unlimited tier.
const UnlimitedMark = -1

// BillingPeriod is the length of one subscription period.
const BillingPeriod = 30 * 24 * time.Hour

var tierLimits = map[Tier]int{
	TierFree:     100,
	TierBasic:    300,
	TierPro:      1000,
	TierProPlus:  3000,
	TierUltimate: UnlimitedMark,
}

func (t Tier) Valid() bool {
	_, ok := tierLimits[t]
	return ok
}

// Limit returns the token allocation per period, or UnlimitedMark.
func (t Tier) Limit() int {
	return tierLimits[t]
}

func (t Tier) IsUnlimited() bool {
	return tierLimits[t] == UnlimitedMark
}

// Tiers lists the known tiers ordered by allocation, unlimited last.
func Tiers() []Tier {
	out := make([]Tier, 0, len(tierLimits))
	for t := range tierLimits {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].Limit(), out[j].Limit()
		if li == UnlimitedMark {
			return false
		}
		if lj == UnlimitedMark {
			return true
		}
		return li < lj
	})
	return out
}

// Operation names a billable action.
type Operation string

const (
	OpTextToImage     Operation = "text_to_image"
	OpMultiModal      Operation = "multi_modal"
	OpMultiModalLight Operation = "multi_modal_light"
	OpImageToText     Operation = "image_to_text"
	OpTextToText      Operation = "text_to_text"
	OpVideoGeneration Operation = "video_generation"
)

var operationCosts = map[Operation]int{
	OpTextToImage:     10,
	OpMultiModal:      20,
	OpMultiModalLight: 8,
	OpImageToText:     5,
	OpTextToText:      3,
	OpVideoGeneration: 10,
}

func (o Operation) Cost() (int, bool) {
	c, ok := operationCosts[o]
	return c, ok
}

// OperationCosts returns a copy of the cost table.
func OperationCosts() map[Operation]int {
	out := make(map[Operation]int, len(operationCosts))
	for k, v := range operationCosts {
		out[k] = v
	}
	return out
}

type Subscription struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"userId"`
	Tier             Tier      `json:"tier"`
	TotalTokens      int       `json:"totalTokens"`
	AvailableTokens  int       `json:"availableTokens"`
	ConsumedTokens   int       `json:"consumedTokens"`
	LifetimeConsumed int64     `json:"lifetimeConsumed"`
	PeriodStart      time.Time `json:"periodStart"`
	PeriodEnd        time.Time `json:"periodEnd"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// NewSubscription builds a subscription with a fresh period and the tier's allocation.
func NewSubscription(userID int64, tier Tier, now time.Time) *Subscription {
	s := &Subscription{UserID: userID, Tier: tier}
	if !tier.IsUnlimited() {
		s.TotalTokens = tier.Limit()
		s.AvailableTokens = tier.Limit()
	}
	s.StartPeriod(now)
	return s
}

func (s *Subscription) IsUnlimited() bool {
	return s.Tier.IsUnlimited()
}

func (s *Subscription) HasTokens(amount int) bool {
	if s.IsUnlimited() {
		return true
	}
	return s.AvailableTokens >= amount
}

// Balance returns the available tokens, or UnlimitedMark for the unlimited tier.
func (s *Subscription) Balance() int {
	if s.IsUnlimited() {
		return UnlimitedMark
	}
	return s.AvailableTokens
}

func (s *Subscription) StartPeriod(now time.Time) {
	s.PeriodStart = now.UTC()
	s.PeriodEnd = s.PeriodStart.Add(BillingPeriod)
}

type TransactionType string

const (
	TxConsumption    TransactionType = "consumption"
	TxTopup          TransactionType = "topup"
	TxAdminDeduction TransactionType = "admin_deduction"
	TxTierChange     TransactionType = "tier_change"
	TxReset          TransactionType = "reset"
	TxRefund         TransactionType = "refund"
)

// TokenTransaction is an append-only ledger row. Balances are -1 when the
// subscription was unlimited at the time of the mutation.
type TokenTransaction struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"userId"`
	Type          TransactionType `json:"type"`
	Amount        int             `json:"amount"`
	BalanceBefore int             `json:"balanceBefore"`
	BalanceAfter  int             `json:"balanceAfter"`
	Description   string          `json:"description"`
	AdminID       *int64          `json:"adminId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}
