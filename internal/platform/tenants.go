package platform

import (
	"context"
	"net/http"
)

// Tenant represents a customer organization
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListTenantsResponse represents a list of tenants
type ListTenantsResponse struct {
	Tenants []Tenant `json:"tenants"`
}

// ListTenants returns the tenants visible to the current user
func (c *Client) ListTenants(ctx context.Context) ([]Tenant, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/tenants", nil)
	if err != nil {
		return nil, err
	}

	var list ListTenantsResponse
	if err := parseResponse(resp, &list); err != nil {
		return nil, err
	}
	return list.Tenants, nil
}
