package pricing

import (
	"errors"
	"testing"
)

func TestExtractPrice(t *testing.T) {
	tests := []struct {
		name      string
		doc       map[string]interface{}
		outcome   int
		wantPrice float64
		wantFound bool
		wantErr   bool
	}{
		{
			name:      "plain price field",
			doc:       map[string]interface{}{"price": 0.42},
			wantPrice: 0.42,
			wantFound: true,
		},
		{
			name:      "string price field",
			doc:       map[string]interface{}{"price": "0.42"},
			wantPrice: 0.42,
			wantFound: true,
		},
		{
			name:      "camelCase last trade price",
			doc:       map[string]interface{}{"lastTradePrice": 0.77},
			wantPrice: 0.77,
			wantFound: true,
		},
		{
			name:      "snake_case mark price",
			doc:       map[string]interface{}{"mark_price": "0.15"},
			wantPrice: 0.15,
			wantFound: true,
		},
		{
			name:      "first matching key wins over later keys",
			doc:       map[string]interface{}{"price": 0.30, "mark_price": 0.90},
			wantPrice: 0.30,
			wantFound: true,
		},
		{
			name:      "outcome prices array indexed by outcome",
			doc:       map[string]interface{}{"outcomePrices": []interface{}{"0.25", "0.75"}},
			outcome:   1,
			wantPrice: 0.75,
			wantFound: true,
		},
		{
			name:      "outcome prices as encoded string",
			doc:       map[string]interface{}{"outcomePrices": `["0.25","0.75"]`},
			outcome:   0,
			wantPrice: 0.25,
			wantFound: true,
		},
		{
			name:      "outcome index out of range",
			doc:       map[string]interface{}{"outcomePrices": []interface{}{"0.25", "0.75"}},
			outcome:   5,
			wantFound: false,
		},
		{
			name:      "no known keys",
			doc:       map[string]interface{}{"volume": 12345.0},
			wantFound: false,
		},
		{
			name:      "zero price treated as absent",
			doc:       map[string]interface{}{"price": 0.0},
			wantFound: false,
		},
		{
			name:    "malformed scalar blocks",
			doc:     map[string]interface{}{"price": "four cents"},
			wantErr: true,
		},
		{
			name:    "malformed outcome list blocks",
			doc:     map[string]interface{}{"outcomePrices": "not json"},
			wantErr: true,
		},
		{
			name:    "unexpected value type blocks",
			doc:     map[string]interface{}{"price": true},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, found, err := extractPrice(tt.doc, tt.outcome)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				if !errors.Is(err, ErrMalformedPrice) {
					t.Errorf("error %v does not wrap ErrMalformedPrice", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if found != tt.wantFound {
				t.Fatalf("found: got %v, want %v", found, tt.wantFound)
			}
			if found && price != tt.wantPrice {
				t.Errorf("price: got %.4f, want %.4f", price, tt.wantPrice)
			}
		})
	}
}

func TestAverage(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   float64
		wantOK bool
	}{
		{"empty", nil, 0, false},
		{"single", []float64{0.4}, 0.4, true},
		{"several", []float64{0.30, 0.32, 0.31}, 0.31, true},
		{"all zero", []float64{0, 0}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := average(tt.prices)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			diff := got - tt.want
			if diff < 0 {
				diff = -diff
			}
			if diff > 1e-9 {
				t.Errorf("got %.6f, want %.6f", got, tt.want)
			}
		})
	}
}
