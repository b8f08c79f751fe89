package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewMoneyFromString(t *testing.T) {
	m, err := NewMoneyFromString("10.50", "USD")
	if err != nil {
		t.Fatalf("NewMoneyFromString failed: %v", err)
	}
	if !m.Amount.Equal(decimal.RequireFromString("10.50")) || m.Currency != "USD" {
		t.Errorf("Expected 10.50 USD, got %s", m.String())
	}

	if _, err := NewMoneyFromString("ten", "USD"); err == nil {
		t.Error("Expected error for non-numeric amount")
	}
}

func TestMoney_Arithmetic(t *testing.T) {
	a := NewMoney(decimal.RequireFromString("10"), "USD")
	b := NewMoney(decimal.RequireFromString("2.50"), "USD")

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !sum.Equal(NewMoney(decimal.RequireFromString("12.50"), "USD")) {
		t.Errorf("Expected 12.50 USD, got %s", sum.String())
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub failed: %v", err)
	}
	if !diff.Equal(NewMoney(decimal.RequireFromString("7.50"), "USD")) {
		t.Errorf("Expected 7.50 USD, got %s", diff.String())
	}

	eur := NewMoney(decimal.RequireFromString("1"), "EUR")
	if _, err := a.Add(eur); err == nil {
		t.Error("Expected currency mismatch error from Add")
	}
	if _, err := a.Sub(eur); err == nil {
		t.Error("Expected currency mismatch error from Sub")
	}
}

func TestMoney_Predicates(t *testing.T) {
	if !NewMoney(decimal.RequireFromString("1"), "USD").IsPositive() {
		t.Error("Expected 1 USD to be positive")
	}
	if !NewMoney(decimal.RequireFromString("-1"), "USD").IsNegative() {
		t.Error("Expected -1 USD to be negative")
	}
	zero := NewMoney(decimal.Zero, "USD")
	if zero.IsPositive() || zero.IsNegative() {
		t.Error("Expected 0 USD to be neither positive nor negative")
	}

	// Equal compares currency as well as amount.
	if NewMoney(decimal.RequireFromString("1"), "USD").Equal(NewMoney(decimal.RequireFromString("1"), "EUR")) {
		t.Error("Expected amounts in different currencies to differ")
	}
}

func TestMoney_String(t *testing.T) {
	m := NewMoney(decimal.RequireFromString("40.01"), "USD")
	if m.String() != "40.01 USD" {
		t.Errorf("Expected \"40.01 USD\", got %q", m.String())
	}
}
