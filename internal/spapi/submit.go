package spapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"repriceflow/logger"
	"repriceflow/models"
)

// listingsPatch is the patchListingsItem request body. The price lands in the
// purchasable_offer attribute as a tax-inclusive schedule value.
type listingsPatch struct {
	ProductType string         `json:"productType"`
	Patches     []listingPatch `json:"patches"`
}

type listingPatch struct {
	Op    string        `json:"op"`
	Path  string        `json:"path"`
	Value []interface{} `json:"value"`
}

func buildPricePatch(marketplaceID string, price decimal.Decimal) listingsPatch {
	amount, _ := price.Round(2).Float64()
	return listingsPatch{
		ProductType: "PRODUCT",
		Patches: []listingPatch{
			{
				Op:   "replace",
				Path: "/attributes/purchasable_offer",
				Value: []interface{}{map[string]interface{}{
					"marketplace_id": marketplaceID,
					"currency":       "USD",
					"our_price": []interface{}{map[string]interface{}{
						"schedule": []interface{}{map[string]interface{}{
							"value_with_tax": amount,
						}},
					}},
				}},
			},
		},
	}
}

// SubmitPrice submits a price change for the listing. It returns nil only on
// a definitive marketplace accept; rejections and transport failures come
// back classified so the updater can record the right outcome. A timeout is a
// KindTimeout error: the remote outcome is unknown and must not be treated as
// either success or failure.
func (c *Client) SubmitPrice(ctx context.Context, key models.ListingKey, price decimal.Decimal) error {
	const op = "spapi.submit_price"
	log := c.log.WithComponent("price_updater").WithFields(logger.Fields{
		"listing": key.String(),
		"price":   price.StringFixed(2),
	})

	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	payload, err := json.Marshal(buildPricePatch(key.MarketplaceID, price))
	if err != nil {
		return models.NewError(models.KindFatal, op, fmt.Errorf("marshal patch: %w", err))
	}

	reqURL := fmt.Sprintf("%s/listings/2021-08-01/items/%s?marketplaceIds=%s",
		c.endpoint, key.CatalogItemID, key.MarketplaceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, reqURL, bytes.NewReader(payload))
	if err != nil {
		return models.NewError(models.KindFatal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.do(ctx, op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	logger.LogPerformanceEntry(log, "price_updater", "api_request", time.Since(start), nil)
	logger.IncrementPriceSubmission()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		log.Info("price submission accepted")
		return nil
	}

	log.WithFields(logger.Fields{"status": resp.StatusCode, "body": drainBody(resp.Body)}).Warn("price submission rejected")
	return classify(op, resp.StatusCode, nil)
}
