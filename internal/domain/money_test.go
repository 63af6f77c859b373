package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTruncateMoneyNeverRoundsUp(t *testing.T) {
	cases := map[string]string{
		"10.999":  "10.99",
		"10.001":  "10",
		"0.005":   "0",
		"1026":    "1026",
		"33.3333": "33.33",
	}
	for in, want := range cases {
		got := TruncateMoney(decimal.RequireFromString(in))
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("TruncateMoney(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestApplyPercentOffKeepsPrecision(t *testing.T) {
	got := ApplyPercentOff(decimal.RequireFromString("99.99"), decimal.RequireFromString("12.5"))
	if !got.Equal(decimal.RequireFromString("87.49125")) {
		t.Fatalf("expected full precision result, got %s", got)
	}
	if FormatMoney(got) != "87.49" {
		t.Fatalf("expected formatted 87.49, got %s", FormatMoney(got))
	}
}

func TestValidPercent(t *testing.T) {
	if !ValidPercent(decimal.Zero) || !ValidPercent(decimal.NewFromInt(100)) {
		t.Fatalf("expected bounds to be valid")
	}
	if ValidPercent(decimal.NewFromInt(-1)) || ValidPercent(decimal.RequireFromString("100.01")) {
		t.Fatalf("expected out of range percentages to be rejected")
	}
}

func TestParseOrderLineStatus(t *testing.T) {
	status, ok := ParseOrderLineStatus(" delivered ")
	if !ok || status != OrderLineStatusDelivered {
		t.Fatalf("expected Delivered, got %q ok=%v", status, ok)
	}
	if _, ok := ParseOrderLineStatus("Teleported"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
	for _, s := range TerminalProtectedStatuses {
		if !s.IsTerminalProtected() {
			t.Fatalf("expected %s to be terminal protected", s)
		}
	}
	if OrderLineStatusDelivered.IsTerminalProtected() {
		t.Fatalf("delivered must remain carrier-updatable")
	}
}
