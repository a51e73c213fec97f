package scheduler

import (
	"testing"
	"time"
)

func TestParseCron_Valid(t *testing.T) {
	expr, err := ParseCron("*/10 * * * *")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}
	if expr.String() != "*/10 * * * *" {
		t.Fatalf("expected raw %q, got %q", "*/10 * * * *", expr.String())
	}
}

func TestParseCron_Invalid(t *testing.T) {
	_, err := ParseCron("every tuesday")
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestCronExpr_Next(t *testing.T) {
	expr, err := ParseCron("0 3 * * *") // daily at 03:00
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}

	base := time.Date(2025, 6, 1, 22, 15, 0, 0, time.UTC)
	next := expr.Next(base)

	expected := time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Fatalf("expected next %v, got %v", expected, next)
	}
}

func TestCronExpr_Matches(t *testing.T) {
	expr, err := ParseCron("45 6 * * *") // daily at 06:45
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}

	match := time.Date(2025, 6, 15, 6, 45, 30, 0, time.UTC)
	if !expr.Matches(match) {
		t.Fatal("expected Matches to return true for 06:45")
	}

	noMatch := time.Date(2025, 6, 15, 6, 46, 0, 0, time.UTC)
	if expr.Matches(noMatch) {
		t.Fatal("expected Matches to return false for 06:46")
	}
}

func TestCronExpr_EveryFiveMinutes(t *testing.T) {
	expr, err := ParseCron("*/5 * * * *")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}

	at0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	at5 := time.Date(2025, 3, 1, 9, 5, 0, 0, time.UTC)
	at2 := time.Date(2025, 3, 1, 9, 2, 0, 0, time.UTC)

	if !expr.Matches(at0) {
		t.Fatal("expected match at :00")
	}
	if !expr.Matches(at5) {
		t.Fatal("expected match at :05")
	}
	if expr.Matches(at2) {
		t.Fatal("expected no match at :02")
	}
}
