// Package lookup resolves a thermometer id to the display names used in
// notification text. The resolver is a collaborator: a miss never gates
// incident logic, callers substitute placeholders instead.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type OwnerKind string

const (
	OwnerSite    OwnerKind = "SITE"
	OwnerTruck   OwnerKind = "TRUCK"
	OwnerTowable OwnerKind = "TOWABLE"
)

// Asset names the owner (terminal site, truck or trailer) a thermometer
// is mounted on, plus the thermometer's own display name.
type Asset struct {
	OwnerKind       OwnerKind `json:"owner_kind"`
	OwnerName       string    `json:"owner_name"`
	ThermometerName string    `json:"thermometer_name"`
}

var ErrNotFound = errors.New("asset not found")

// Resolver maps a thermometer id to its asset names.
type Resolver interface {
	Resolve(ctx context.Context, thermometerID string) (Asset, error)
}

// Client resolves assets against the fleet-management REST service.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, apiKey string) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("X-Api-Key", apiKey)
	}
	return &Client{http: client}
}

func (c *Client) Resolve(ctx context.Context, thermometerID string) (Asset, error) {
	var asset Asset
	res, err := c.http.R().
		SetContext(ctx).
		SetResult(&asset).
		SetPathParam("thermometerId", thermometerID).
		Get("/thermometers/{thermometerId}/asset")
	if err != nil {
		return Asset{}, fmt.Errorf("lookup thermometer %s: %w", thermometerID, err)
	}
	if res.StatusCode() == 404 {
		return Asset{}, ErrNotFound
	}
	if res.IsError() {
		return Asset{}, fmt.Errorf("lookup thermometer %s: status %d", thermometerID, res.StatusCode())
	}
	return asset, nil
}

// Static is a fixed in-memory resolver used in tests and when no lookup
// service is configured.
type Static map[string]Asset

func (s Static) Resolve(_ context.Context, thermometerID string) (Asset, error) {
	asset, ok := s[thermometerID]
	if !ok {
		return Asset{}, ErrNotFound
	}
	return asset, nil
}
