// Package types provides shared domain types for the trading agent core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderStatus represents the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether the status ends an order's lifecycle.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// SignalType distinguishes why a strategy emitted a proposal.
type SignalType string

const (
	SignalTypeEntry SignalType = "entry"
	SignalTypeExit  SignalType = "exit"
	SignalTypeScale SignalType = "scale"
)

// Timeframe represents a candle aggregation period.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Candle is a single OHLCV bar.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp int64           `json:"timestamp"` // unix ms
}

// TimeframeCandle is a Candle aggregated from one or more 1-minute bars.
type TimeframeCandle struct {
	Candle
	Timeframe   Timeframe `json:"timeframe"`
	CandleCount int       `json:"candleCount"`
}

// MarketEventKind tags the payload carried by a MarketEvent.
type MarketEventKind string

const (
	MarketEventPriceUpdate      MarketEventKind = "price_update"
	MarketEventBar              MarketEventKind = "bar"
	MarketEventSymbolSubscribed MarketEventKind = "symbol_subscription"
)

// MarketEvent is the sum type published by the Sentinel: PriceUpdate, Bar, or
// SymbolSubscription. Go has no sum types, so Kind tags which fields are valid.
type MarketEvent struct {
	Kind      MarketEventKind `json:"kind"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price,omitempty"` // valid when Kind == PriceUpdate
	Bar       *Candle         `json:"bar,omitempty"`    // valid when Kind == Bar
	Timestamp int64           `json:"timestamp"`
}

// Order is a brokerage-bound order, assigned an ID by the RiskManager when it
// approves a TradeProposal.
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Type      OrderType       `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Status    OrderStatus     `json:"status"`
	Timestamp int64           `json:"timestamp"` // unix ms
}

// Validate checks the Order invariants from the data model: quantity > 0;
// price >= 0; price > 0 required if type != Market.
func (o *Order) Validate() error {
	if o.Quantity.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	if o.Price.Sign() < 0 {
		return ErrInvalidPrice
	}
	if o.Type != OrderTypeMarket && o.Price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

// TradeProposal is produced by the Analyst and transformed into an Order by
// the RiskManager (which assigns the ID).
type TradeProposal struct {
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	OrderType OrderType       `json:"orderType"`
	Reason    string          `json:"reason"`
	Timestamp int64           `json:"timestamp"`
}

// Position is an open holding in one symbol. Quantity may be negative where
// the broker supports shorting.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"averagePrice"`
}

// Portfolio is the cash+positions state tracked by the agent.
type Portfolio struct {
	Cash           decimal.Decimal      `json:"cash"`
	Positions      map[string]*Position `json:"positions"`
	RealizedPnL    decimal.Decimal      `json:"realizedPnl"`
	DayTradesCount int                  `json:"dayTradesCount"`
	StartingCash   decimal.Decimal      `json:"startingCash"`
	Synchronized   bool                 `json:"synchronized"`
}

// ClonePortfolio returns a deep copy so callers can mutate without aliasing
// the manager's internal state.
func ClonePortfolio(p Portfolio) Portfolio {
	out := p
	out.Positions = make(map[string]*Position, len(p.Positions))
	for sym, pos := range p.Positions {
		cp := *pos
		out.Positions[sym] = &cp
	}
	return out
}

// Equity computes cash + sum(position.quantity * currentPrice), falling back
// to average price for symbols absent from prices.
func (p *Portfolio) Equity(prices map[string]decimal.Decimal) decimal.Decimal {
	equity := p.Cash
	for sym, pos := range p.Positions {
		price, ok := prices[sym]
		if !ok {
			price = pos.AveragePrice
		}
		equity = equity.Add(pos.Quantity.Mul(price))
	}
	return equity
}

// ReservationToken is an opaque handle to a capital earmark against
// available cash. It does not mutate the broker-authoritative portfolio.
type ReservationToken struct {
	ID     string          `json:"id"`
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

// VersionedPortfolio wraps Portfolio with an optimistic-concurrency version,
// a staleness timestamp, and pending exposure reservations.
type VersionedPortfolio struct {
	Version          uint64                     `json:"version"`
	Portfolio        Portfolio                  `json:"portfolio"`
	TimestampMs      int64                      `json:"timestampMs"`
	ReservedExposure map[string]decimal.Decimal `json:"reservedExposure"`
}

// AvailableCash returns cash minus the sum of all outstanding reservations.
func (vp *VersionedPortfolio) AvailableCash() decimal.Decimal {
	total := vp.Portfolio.Cash
	for _, amt := range vp.ReservedExposure {
		total = total.Sub(amt)
	}
	return total
}

// RiskState is the persisted session/drawdown tracking record.
type RiskState struct {
	ID                  string          `json:"id"`
	SessionStartEquity  decimal.Decimal `json:"sessionStartEquity"`
	DailyStartEquity    decimal.Decimal `json:"dailyStartEquity"`
	EquityHighWaterMark decimal.Decimal `json:"equityHighWaterMark"`
	ConsecutiveLosses   int             `json:"consecutiveLosses"`
	ReferenceDate       string          `json:"referenceDate"` // YYYY-MM-DD, UTC
	UpdatedAt           time.Time       `json:"updatedAt"`
	DailyDrawdownReset  bool            `json:"dailyDrawdownReset"`
}

// AnalystConfig is the full strategy parameter set consumed by the Analyst
// and the backtest simulator / optimizer.
type AnalystConfig struct {
	SMAPeriod              int             `json:"smaPeriod"`
	FastSMAPeriod          int             `json:"fastSmaPeriod"`
	SlowSMAPeriod          int             `json:"slowSmaPeriod"`
	RSIPeriod              int             `json:"rsiPeriod"`
	RSIOverbought          decimal.Decimal `json:"rsiOverbought"`
	RSIOversold            decimal.Decimal `json:"rsiOversold"`
	MACDFast               int             `json:"macdFast"`
	MACDSlow               int             `json:"macdSlow"`
	MACDSignal             int             `json:"macdSignal"`
	ATRPeriod              int             `json:"atrPeriod"`
	ADXPeriod              int             `json:"adxPeriod"`
	BBPeriod               int             `json:"bbPeriod"`
	BBStdDev               decimal.Decimal `json:"bbStdDev"`
	RiskPerTradePercent    decimal.Decimal `json:"riskPerTradePercent"`
	StrategyMode           string          `json:"strategyMode"`
	MaxPositionSizePct     decimal.Decimal `json:"maxPositionSizePct"`
	TradeQuantity          decimal.Decimal `json:"tradeQuantity"`
	RiskAppetiteScore      int             `json:"riskAppetiteScore"` // 1-9
	OrderCooldownSeconds   int             `json:"orderCooldownSeconds"`
	SignalConfirmationBars int             `json:"signalConfirmationBars"`
	MaxLossPerTradePct     decimal.Decimal `json:"maxLossPerTradePct"`
}

// OptimizationResult is the per-configuration output of the optimizer.
type OptimizationResult struct {
	Params         map[string]float64 `json:"params"`
	Sharpe         float64            `json:"sharpe"`
	TotalReturn    float64            `json:"totalReturn"`
	MaxDrawdown    float64            `json:"maxDrawdown"`
	WinRate        float64            `json:"winRate"`
	TotalTrades    int                `json:"totalTrades"`
	ObjectiveScore float64            `json:"objectiveScore"`
	Alpha          float64            `json:"alpha"`
	Beta           float64            `json:"beta"`
	InSampleSharpe *float64           `json:"inSampleSharpe,omitempty"`
	RiskScore      *float64           `json:"riskScore,omitempty"`
}
