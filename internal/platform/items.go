package platform

import (
	"context"
	"net/http"
)

// Item is one master data record.
type Item struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// ListItemsResponse is the master data of one tenant.
type ListItemsResponse struct {
	Tenant string `json:"tenant"`
	Items  []Item `json:"items"`
}

// ListItems returns master data for the tenant the request is scoped to.
// For a superuser that is the tenant header the pipeline attaches.
func (c *Client) ListItems(ctx context.Context) (*ListItemsResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/items", nil)
	if err != nil {
		return nil, err
	}

	var out ListItemsResponse
	if err := parseResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
