package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestIntervalDuration(t *testing.T) {
	cases := []struct {
		interval Interval
		want     time.Duration
	}{
		{IntervalHourly, time.Hour},
		{IntervalDaily, 24 * time.Hour},
		{IntervalWeekly, 7 * 24 * time.Hour},
		{Interval("fortnightly"), 0},
		{Interval(""), 0},
	}
	for _, tc := range cases {
		if got := tc.interval.Duration(); got != tc.want {
			t.Fatalf("%q: got %v want %v", tc.interval, got, tc.want)
		}
		if tc.interval.Valid() != (tc.want > 0) {
			t.Fatalf("%q: valid mismatch", tc.interval)
		}
	}
}

func TestBotStatusActive(t *testing.T) {
	active := []BotStatus{BotScheduled, BotRetrying}
	for _, s := range active {
		if !s.Active() {
			t.Fatalf("%s should be active", s)
		}
	}
	inactive := []BotStatus{BotStarted, BotStopped}
	for _, s := range inactive {
		if s.Active() {
			t.Fatalf("%s should not be active", s)
		}
	}
}

func TestBotSymbol(t *testing.T) {
	bot := &Bot{QuoteAsset: "USDT", BaseAssets: []string{"BTC", "ETH"}}

	if got := bot.Symbol(0); got != "BTCUSDT" {
		t.Fatalf("leg 0: got %q", got)
	}
	if got := bot.Symbol(1); got != "ETHUSDT" {
		t.Fatalf("leg 1: got %q", got)
	}
	if got := bot.Symbol(2); got != "" {
		t.Fatalf("out of range leg: got %q", got)
	}
	if got := bot.Symbol(-1); got != "" {
		t.Fatalf("negative leg: got %q", got)
	}
}

func TestBotWeightDefaultsToEvenSplit(t *testing.T) {
	bot := &Bot{BaseAssets: []string{"BTC", "ETH"}}

	want := decimal.NewFromInt(1).Div(decimal.NewFromInt(2))
	for leg := 0; leg < 2; leg++ {
		if got := bot.Weight(leg); !got.Equal(want) {
			t.Fatalf("leg %d: got %s want %s", leg, got, want)
		}
	}

	bot.Weights = []decimal.Decimal{decimal.NewFromFloat(0.7), decimal.NewFromFloat(0.3)}
	if got := bot.Weight(0); !got.Equal(decimal.NewFromFloat(0.7)) {
		t.Fatalf("configured weight ignored, got %s", got)
	}
}

func TestBotHasExchange(t *testing.T) {
	if (&Bot{}).HasExchange() {
		t.Fatalf("empty exchange counted as usable")
	}
	if !(&Bot{Exchange: "binance"}).HasExchange() {
		t.Fatalf("configured exchange not detected")
	}
}
