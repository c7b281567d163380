package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/polysignal/consensuswatch/internal/hashdive"
	"github.com/polysignal/consensuswatch/internal/polymarket/clobapi"
	"github.com/polysignal/consensuswatch/internal/polymarket/dataapi"
	"github.com/sirupsen/logrus"
)

// ErrMalformedPrice marks a price that was present upstream but not
// parseable. Distinct from absence: a missing price fails open, a
// malformed one blocks the alert.
var ErrMalformedPrice = errors.New("malformed price value")

// Request carries everything the resolver can use to find a price
type Request struct {
	Market       string
	Outcome      int
	AssetID      string                // outcome token id, empty if unknown
	StatusHint   *clobapi.MarketStatus // liveness doc already fetched by the caller, may be nil
	WindowPrices []float64             // entry prices recorded in the rolling window
}

// Resolver walks an ordered fallback chain of price sources. Sources that
// error are skipped; only a malformed value aborts the chain.
type Resolver struct {
	clob     *clobapi.Client
	data     *dataapi.Client
	hashdive *hashdive.Client // nil when not configured
	log      *logrus.Logger
}

// NewResolver creates a price resolver
func NewResolver(clob *clobapi.Client, data *dataapi.Client, hd *hashdive.Client, log *logrus.Logger) *Resolver {
	return &Resolver{clob: clob, data: data, hashdive: hd, log: log}
}

// Resolve returns the current price for (market, outcome). found is false
// when every source came up empty; err is non-nil only for a malformed
// upstream value.
func (r *Resolver) Resolve(ctx context.Context, req Request) (price float64, found bool, err error) {
	if req.AssetID != "" {
		if p, perr := r.clob.Midpoint(ctx, req.AssetID); perr == nil && p > 0 {
			return p, true, nil
		} else if perr != nil {
			r.log.WithError(perr).WithField("market", req.Market).Debug("Midpoint price unavailable")
		}
	}

	if req.StatusHint != nil {
		if p, ok := req.StatusHint.TokenPrice(req.Outcome); ok && p > 0 {
			return p, true, nil
		}
	}

	if r.hashdive != nil && req.AssetID != "" {
		p, ok, herr := r.hashdive.LastPrice(ctx, req.AssetID)
		if herr != nil {
			r.log.WithError(herr).WithField("market", req.Market).Debug("HashDive price unavailable")
		} else if ok {
			return p, true, nil
		}
	}

	if avg, ok := average(req.WindowPrices); ok {
		return avg, true, nil
	}

	raw, derr := r.data.MarketRaw(ctx, req.Market)
	if derr != nil {
		r.log.WithError(derr).WithField("market", req.Market).Debug("Market document unavailable")
		return 0, false, nil
	}
	return extractPrice(raw, req.Outcome)
}

func average(prices []float64) (float64, bool) {
	if len(prices) == 0 {
		return 0, false
	}
	var sum float64
	for _, p := range prices {
		sum += p
	}
	avg := sum / float64(len(prices))
	if avg <= 0 {
		return 0, false
	}
	return avg, true
}

// extractor pulls one candidate price out of a schemaless market document
type extractor struct {
	key     string
	extract func(value interface{}, outcome int) (float64, bool, error)
}

// priceExtractors is tried in order; the first key present in the
// document decides, even if its value then fails to parse.
var priceExtractors = []extractor{
	{"price", extractScalar},
	{"lastTradePrice", extractScalar},
	{"last_trade_price", extractScalar},
	{"markPrice", extractScalar},
	{"mark_price", extractScalar},
	{"outcomePrices", extractOutcomeList},
	{"outcome_prices", extractOutcomeList},
}

func extractPrice(doc map[string]interface{}, outcome int) (float64, bool, error) {
	for _, ex := range priceExtractors {
		value, present := doc[ex.key]
		if !present || value == nil {
			continue
		}
		p, ok, err := ex.extract(value, outcome)
		if err != nil {
			return 0, false, fmt.Errorf("field %s: %w", ex.key, err)
		}
		if ok {
			return p, true, nil
		}
	}
	return 0, false, nil
}

func extractScalar(value interface{}, _ int) (float64, bool, error) {
	p, err := toFloat(value)
	if err != nil {
		return 0, false, err
	}
	if p <= 0 {
		return 0, false, nil
	}
	return p, true, nil
}

// extractOutcomeList handles both a JSON array and the string-encoded
// array some endpoints return ("[\"0.3\",\"0.7\"]").
func extractOutcomeList(value interface{}, outcome int) (float64, bool, error) {
	var items []interface{}
	switch v := value.(type) {
	case []interface{}:
		items = v
	case string:
		var strs []string
		if err := json.Unmarshal([]byte(v), &strs); err != nil {
			return 0, false, fmt.Errorf("%w: %q", ErrMalformedPrice, v)
		}
		items = make([]interface{}, len(strs))
		for i, s := range strs {
			items[i] = s
		}
	default:
		return 0, false, fmt.Errorf("%w: unexpected type %T", ErrMalformedPrice, value)
	}

	if outcome < 0 || outcome >= len(items) {
		return 0, false, nil
	}
	p, err := toFloat(items[outcome])
	if err != nil {
		return 0, false, err
	}
	if p <= 0 {
		return 0, false, nil
	}
	return p, true, nil
}

func toFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case string:
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformedPrice, v)
		}
		return p, nil
	default:
		return 0, fmt.Errorf("%w: unexpected type %T", ErrMalformedPrice, value)
	}
}
