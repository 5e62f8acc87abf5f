package service

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/backofficehq/meli-sync-worker/internal/models"
)

// NormalizeClaim derives the stable claim record from a raw claim-detail
// payload. The raw payload is kept on the row; downstream consumers read the
// normalized columns instead of re-parsing JSON per call site.
func NormalizeClaim(organizationID, accountID, claimID string, detail map[string]interface{}) (*models.Claim, error) {
	if len(detail) == 0 {
		return nil, fmt.Errorf("empty claim detail for %s", claimID)
	}

	claim := &models.Claim{
		ID:                   uuid.New().String(),
		OrganizationID:       organizationID,
		IntegrationAccountID: accountID,
		ClaimID:              claimID,
		Status:               stringField(detail, "status"),
		Stage:                stringField(detail, "stage"),
		Type:                 stringField(detail, "type"),
		SchemaVersion:        models.ClaimSchemaVersion,
		RawPayload:           detail,
	}

	// The disputed order rides on resource_id when the claim targets an order.
	claim.OrderID = idField(detail, "order_id")
	if claim.OrderID == "" && stringField(detail, "resource") == "order" {
		claim.OrderID = idField(detail, "resource_id")
	}

	claim.TotalAmount, claim.Currency = amountField(detail)
	claim.BuyerNickname = buyerNickname(detail)

	return claim, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// idField reads an identifier that may arrive as a JSON number or string.
func idField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

// amountField extracts the disputed amount and currency. Claim payloads carry
// either a top-level total_amount or a quantity_type block.
func amountField(detail map[string]interface{}) (decimal.Decimal, string) {
	if v, ok := detail["total_amount"].(float64); ok {
		return decimal.NewFromFloat(v), stringField(detail, "currency_id")
	}
	if qt, ok := detail["quantity_type"].(map[string]interface{}); ok {
		if v, ok := qt["value"].(float64); ok {
			return decimal.NewFromFloat(v), stringField(qt, "unit")
		}
	}
	return decimal.Zero, stringField(detail, "currency_id")
}

// buyerNickname finds the complainant in the claim's players list.
func buyerNickname(detail map[string]interface{}) string {
	players, ok := detail["players"].([]interface{})
	if !ok {
		return ""
	}
	for _, p := range players {
		player, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		if stringField(player, "role") != "complainant" && stringField(player, "type") != "buyer" {
			continue
		}
		if nick := stringField(player, "nickname"); nick != "" {
			return nick
		}
		if user, ok := player["user"].(map[string]interface{}); ok {
			return stringField(user, "nickname")
		}
	}
	return ""
}
