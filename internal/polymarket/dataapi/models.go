package dataapi

// Trade represents a trade from the Data API
type Trade struct {
	ID              string  `json:"id"`
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"` // BUY, SELL
	ConditionID     string  `json:"conditionId"`
	Asset           string  `json:"asset"` // outcome token id
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"` // Unix timestamp in seconds
	Outcome         string  `json:"outcome"`
	OutcomeIndex    int     `json:"outcomeIndex"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	TransactionHash string  `json:"transactionHash"`
	USDCSize        float64 `json:"usdcSize"` // Preferred notional
}

// NotionalUSD returns the trade's dollar notional, preferring the
// explicit usdcSize field over size*price.
func (t *Trade) NotionalUSD() float64 {
	if t.USDCSize > 0 {
		return t.USDCSize
	}
	return t.Size * t.Price
}

// Position represents a closed position from the Data API
type Position struct {
	ConditionID string  `json:"conditionId"`
	Outcome     string  `json:"outcome"`
	Size        float64 `json:"size"`
	EntryPrice  float64 `json:"avgPrice"`
	RealizedPnL float64 `json:"realizedPnl"`
	ClosedTS    int64   `json:"endDate"`
}

// StakeUSD returns the position's dollar stake
func (p *Position) StakeUSD() float64 {
	return p.Size * p.EntryPrice
}

// ActivityEvent represents an activity event for a wallet
type ActivityEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	User      string `json:"proxyWallet"`
	Timestamp int64  `json:"timestamp"`
}

// tradedResponse wraps the per-wallet trade count endpoint
type tradedResponse struct {
	Traded int `json:"traded"`
}
