package pricing

import (
	"strings"
	"testing"
	"time"
)

func TestCalculateFee(t *testing.T) {
	checkIn := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    string
	}{
		{name: "zero minutes", elapsed: 0, want: "5.00"},
		{name: "under a minute truncates to zero", elapsed: 59 * time.Second, want: "5.00"},
		{name: "exactly 15 minutes", elapsed: 15 * time.Minute, want: "5.00"},
		{name: "16 minutes enters first hour tier", elapsed: 16 * time.Minute, want: "9.25"},
		{name: "exactly 60 minutes", elapsed: 60 * time.Minute, want: "9.25"},
		{name: "61 minutes adds one quarter", elapsed: 61 * time.Minute, want: "11.00"},
		{name: "75 minutes still one quarter", elapsed: 75 * time.Minute, want: "11.00"},
		{name: "76 minutes adds second quarter", elapsed: 76 * time.Minute, want: "12.75"},
		{name: "partial minute not counted", elapsed: 60*time.Minute + 59*time.Second, want: "9.25"},
		{name: "two hours", elapsed: 120 * time.Minute, want: "16.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee := CalculateFee(checkIn, checkIn.Add(tt.elapsed))
			if fee.StringFixed(2) != tt.want {
				t.Fatalf("fee = %s, want %s", fee.StringFixed(2), tt.want)
			}
		})
	}
}

func TestCalculateDiscount(t *testing.T) {
	checkIn := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	fee := CalculateFee(checkIn, checkIn.Add(76*time.Minute)) // 12.75

	for completed := int64(0); completed <= 9; completed++ {
		got := CalculateDiscount(fee, completed)
		if got.StringFixed(2) != "0.00" {
			t.Fatalf("discount for %d completed = %s, want 0.00", completed, got.StringFixed(2))
		}
	}

	tenth := CalculateDiscount(fee, 10)
	// 12.75 * 0.30 = 3.825, банковское округление даёт 3.82.
	if tenth.StringFixed(2) != "3.82" {
		t.Fatalf("discount for 10 completed = %s, want 3.82", tenth.StringFixed(2))
	}

	twentieth := CalculateDiscount(fee, 20)
	if !twentieth.Equal(tenth) {
		t.Fatalf("discount for 20 completed = %s, want %s", twentieth, tenth)
	}

	eleventh := CalculateDiscount(fee, 11)
	if eleventh.StringFixed(2) != "0.00" {
		t.Fatalf("discount for 11 completed = %s, want 0.00", eleventh.StringFixed(2))
	}
}

func TestGenerateReceipt(t *testing.T) {
	now := time.Date(2024, 3, 1, 18, 30, 45, 0, time.UTC)

	receipt := GenerateReceipt(now)
	if !strings.HasPrefix(receipt, "20240301-183045-") {
		t.Fatalf("receipt %q does not start with timestamp prefix", receipt)
	}
	if len(receipt) != len("20240301-183045-")+6 {
		t.Fatalf("receipt %q has unexpected length %d", receipt, len(receipt))
	}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		r := GenerateReceipt(now)
		if seen[r] {
			t.Fatalf("duplicate receipt %q generated within the same second", r)
		}
		seen[r] = true
	}
}
