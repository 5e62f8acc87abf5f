package service

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/backofficehq/meli-sync-worker/internal/models"
)

func TestNormalizeClaim_FullDetail(t *testing.T) {
	claim, err := NormalizeClaim("org-1", "acc-1", "CLM-1", claimDetail("CLM-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if claim.OrganizationID != "org-1" || claim.IntegrationAccountID != "acc-1" || claim.ClaimID != "CLM-1" {
		t.Errorf("unexpected identity fields: %+v", claim)
	}
	if claim.Status != "opened" || claim.Stage != "claim" || claim.Type != "mediations" {
		t.Errorf("unexpected lifecycle fields: status=%q stage=%q type=%q", claim.Status, claim.Stage, claim.Type)
	}
	if claim.OrderID != "2000001" {
		t.Errorf("expected order ID 2000001, got %q", claim.OrderID)
	}
	if !claim.TotalAmount.Equal(decimal.NewFromFloat(149.90)) {
		t.Errorf("expected amount 149.90, got %s", claim.TotalAmount)
	}
	if claim.Currency != "BRL" {
		t.Errorf("expected currency BRL, got %q", claim.Currency)
	}
	if claim.BuyerNickname != "COMPRADOR123" {
		t.Errorf("expected buyer nickname COMPRADOR123, got %q", claim.BuyerNickname)
	}
	if claim.SchemaVersion != models.ClaimSchemaVersion {
		t.Errorf("expected schema version %d, got %d", models.ClaimSchemaVersion, claim.SchemaVersion)
	}
	if claim.RawPayload == nil {
		t.Error("expected the raw payload to be kept on the row")
	}
}

func TestNormalizeClaim_ExplicitOrderIDWinsOverResource(t *testing.T) {
	detail := claimDetail("CLM-1")
	detail["order_id"] = "3000055"

	claim, err := NormalizeClaim("org-1", "acc-1", "CLM-1", detail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim.OrderID != "3000055" {
		t.Errorf("expected explicit order_id to win, got %q", claim.OrderID)
	}
}

func TestNormalizeClaim_NonOrderResourceLeavesOrderEmpty(t *testing.T) {
	detail := claimDetail("CLM-1")
	detail["resource"] = "shipment"

	claim, err := NormalizeClaim("org-1", "acc-1", "CLM-1", detail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim.OrderID != "" {
		t.Errorf("expected empty order ID for a shipment claim, got %q", claim.OrderID)
	}
}

func TestNormalizeClaim_QuantityTypeFallbackForAmount(t *testing.T) {
	detail := claimDetail("CLM-1")
	delete(detail, "total_amount")
	delete(detail, "currency_id")
	detail["quantity_type"] = map[string]interface{}{"value": 75.5, "unit": "ARS"}

	claim, err := NormalizeClaim("org-1", "acc-1", "CLM-1", detail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !claim.TotalAmount.Equal(decimal.NewFromFloat(75.5)) {
		t.Errorf("expected amount 75.5, got %s", claim.TotalAmount)
	}
	if claim.Currency != "ARS" {
		t.Errorf("expected currency ARS, got %q", claim.Currency)
	}
}

func TestNormalizeClaim_NestedPlayerNickname(t *testing.T) {
	detail := claimDetail("CLM-1")
	detail["players"] = []interface{}{
		map[string]interface{}{
			"role": "complainant",
			"user": map[string]interface{}{"nickname": "NESTED_BUYER"},
		},
	}

	claim, err := NormalizeClaim("org-1", "acc-1", "CLM-1", detail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim.BuyerNickname != "NESTED_BUYER" {
		t.Errorf("expected nested nickname, got %q", claim.BuyerNickname)
	}
}

func TestNormalizeClaim_MissingFieldsDoNotError(t *testing.T) {
	claim, err := NormalizeClaim("org-1", "acc-1", "CLM-1", map[string]interface{}{"id": "CLM-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim.Status != "" || claim.OrderID != "" || claim.BuyerNickname != "" {
		t.Errorf("expected zero-valued optional fields, got %+v", claim)
	}
	if !claim.TotalAmount.Equal(decimal.Zero) {
		t.Errorf("expected zero amount, got %s", claim.TotalAmount)
	}
}

func TestNormalizeClaim_EmptyDetailErrors(t *testing.T) {
	if _, err := NormalizeClaim("org-1", "acc-1", "CLM-1", nil); err == nil {
		t.Fatal("expected an error for an empty detail payload")
	}
}
