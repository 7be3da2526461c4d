package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewPnLThresholds_StopLossSign(t *testing.T) {
	t.Run("negative stop loss kept", func(t *testing.T) {
		th := NewPnLThresholds(decimal.NewFromInt(2), decimal.NewFromInt(-1))
		if !th.StopLoss.Equal(decimal.NewFromInt(-1)) {
			t.Errorf("Expected -1, got %s", th.StopLoss)
		}
	})

	t.Run("positive stop loss negated", func(t *testing.T) {
		th := NewPnLThresholds(decimal.NewFromInt(2), decimal.NewFromInt(1))
		if !th.StopLoss.Equal(decimal.NewFromInt(-1)) {
			t.Errorf("Expected -1, got %s", th.StopLoss)
		}
	})
}

func TestPnLThresholds_Check(t *testing.T) {
	th := NewPnLThresholds(decimal.NewFromFloat(2.0), decimal.NewFromFloat(-1.0))

	tests := []struct {
		name string
		pct  float64
		want Breach
	}{
		{"inside band", 0.5, BreachNone},
		{"exactly take profit", 2.0, BreachTakeProfit},
		{"above take profit", 3.7, BreachTakeProfit},
		{"exactly stop loss", -1.0, BreachStopLoss},
		{"below stop loss", -4.2, BreachStopLoss},
		{"just above stop loss", -0.99, BreachNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := th.Check(decimal.NewFromFloat(tt.pct))
			if got != tt.want {
				t.Errorf("Check(%v) = %s, want %s", tt.pct, got, tt.want)
			}
		})
	}
}

func TestPnLThresholds_TakeProfitWinsWhenBothQualify(t *testing.T) {
	// degenerate band where both bounds overlap
	th := PnLThresholds{TakeProfit: decimal.NewFromInt(-5), StopLoss: decimal.NewFromInt(-1)}
	if got := th.Check(decimal.NewFromInt(-2)); got != BreachTakeProfit {
		t.Errorf("Expected TAKE_PROFIT to be checked first, got %s", got)
	}
}
