package clobapi

// Market is the CLOB /markets/{conditionID} document
type Market struct {
	ConditionID     string  `json:"condition_id"`
	Question        string  `json:"question"`
	MarketSlug      string  `json:"market_slug"`
	Active          bool    `json:"active"`
	Closed          bool    `json:"closed"`
	Archived        bool    `json:"archived"`
	AcceptingOrders bool    `json:"accepting_orders"`
	Tokens          []Token `json:"tokens"`
}

// Token is one outcome token on a market
type Token struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// midpointResponse wraps the /midpoint price endpoint
type midpointResponse struct {
	Mid string `json:"mid"`
}

// MarketStatus is the liveness view the consensus engine consumes.
// Known is false when the upstream could not be reached, which is a
// different state from a confirmed-closed market.
type MarketStatus struct {
	Known    bool
	Active   bool
	Closed   bool
	Question string
	Slug     string
	Tokens   []Token
}

// TokenPrice returns the token price for an outcome index, false when the
// index is out of range.
func (s *MarketStatus) TokenPrice(outcome int) (float64, bool) {
	if outcome < 0 || outcome >= len(s.Tokens) {
		return 0, false
	}
	return s.Tokens[outcome].Price, true
}

// TokenID returns the outcome token id for an index, empty when unknown
func (s *MarketStatus) TokenID(outcome int) string {
	if outcome < 0 || outcome >= len(s.Tokens) {
		return ""
	}
	return s.Tokens[outcome].TokenID
}
