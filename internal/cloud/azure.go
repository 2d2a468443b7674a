// Package cloud - Azure management REST client
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cloud-cost/core/provider"
	"cloud-cost/core/types"
)

const (
	azureManagementHost = "https://management.azure.com"
	azureLoginHost      = "https://login.microsoftonline.com"

	usageDetailsVersion = "2019-10-01"
	vmVersion           = "2020-06-01"
	healthVersion       = "2020-05-01"
	rateCardVersion     = "2016-08-31-preview"
)

// AzureClient executes Azure management API queries. It owns bearer-token
// acquisition and refresh per service principal; drivers never see tokens.
type AzureClient struct {
	managementURL string
	loginURL      string
	client        *http.Client

	mu     sync.Mutex
	tokens map[string]*bearerToken
}

type bearerToken struct {
	value  string
	expiry time.Time
}

// NewAzureClient creates the Azure wire client. Empty URLs select the
// public endpoints.
func NewAzureClient(managementURL, loginURL string) *AzureClient {
	if managementURL == "" {
		managementURL = azureManagementHost
	}
	if loginURL == "" {
		loginURL = azureLoginHost
	}
	return &AzureClient{
		managementURL: managementURL,
		loginURL:      loginURL,
		client:        &http.Client{Timeout: 2 * time.Minute},
		tokens:        make(map[string]*bearerToken),
	}
}

// token returns a valid bearer token for the service principal, refreshing
// through the client-credentials grant when the cached one is near expiry
func (c *AzureClient) token(ctx context.Context, cfg *types.AzureConfig) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// the token recorded with the project config seeds the cache
	cached, ok := c.tokens[cfg.ClientID]
	if !ok && cfg.BearerToken != "" {
		cached = &bearerToken{value: cfg.BearerToken, expiry: time.Unix(cfg.BearerExpiry, 0)}
		c.tokens[cfg.ClientID] = cached
	}
	if cached != nil && time.Until(cached.expiry) > time.Minute {
		return cached.value, nil
	}

	form := url.Values{
		"client_id":     {cfg.ClientID},
		"client_secret": {cfg.ClientSecret},
		"resource":      {azureManagementHost},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/oauth2/token", c.loginURL, cfg.TenantID),
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", &provider.APICallError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", requestError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &provider.APICallError{
			StatusCode: resp.StatusCode,
			Message:    "bearer token request failed: " + truncate(body),
		}
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresOn   string `json:"expires_on"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &provider.APICallError{Message: "bad token response: " + err.Error()}
	}
	expiry := time.Now().Add(45 * time.Minute)
	if unix, err := strconv.ParseInt(parsed.ExpiresOn, 10, 64); err == nil {
		expiry = time.Unix(unix, 0)
	}

	c.tokens[cfg.ClientID] = &bearerToken{value: parsed.AccessToken, expiry: expiry}
	cfg.BearerToken = parsed.AccessToken
	cfg.BearerExpiry = expiry.Unix()
	return parsed.AccessToken, nil
}

// get executes one management GET, following nextLink pages and appending
// each page's value array to out
func (c *AzureClient) get(ctx context.Context, cfg *types.AzureConfig, path string, query url.Values, collect func(json.RawMessage) error) error {
	token, err := c.token(ctx, cfg)
	if err != nil {
		return err
	}

	next := c.managementURL + path + "?" + query.Encode()
	for next != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return &provider.APICallError{Message: err.Error()}
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.client.Do(req)
		if err != nil {
			return requestError(err)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return requestError(readErr)
		}
		if resp.StatusCode != http.StatusOK {
			return &provider.APICallError{
				StatusCode: resp.StatusCode,
				Message:    "azure api returned " + truncate(body),
			}
		}

		var page struct {
			Value    []json.RawMessage `json:"value"`
			NextLink string            `json:"nextLink"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return &provider.APICallError{Message: "bad azure response: " + err.Error()}
		}
		for _, entry := range page.Value {
			if err := collect(entry); err != nil {
				return err
			}
		}
		next = page.NextLink
	}
	return nil
}

// UsageDetails queries the Consumption API with the driver-built $filter
func (c *AzureClient) UsageDetails(ctx context.Context, cfg *types.AzureConfig, filter string) ([]provider.UsageDetail, error) {
	path := fmt.Sprintf("/subscriptions/%s/providers/Microsoft.Consumption/usageDetails", cfg.SubscriptionID)
	query := url.Values{
		"api-version": {usageDetailsVersion},
		"$filter":     {filter},
	}

	var details []provider.UsageDetail
	err := c.get(ctx, cfg, path, query, func(entry json.RawMessage) error {
		var row struct {
			Properties provider.UsageDetail `json:"properties"`
		}
		if err := json.Unmarshal(entry, &row); err != nil {
			return &provider.APICallError{Message: "bad usage detail row: " + err.Error()}
		}
		details = append(details, row.Properties)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// VirtualMachines lists the subscription's virtual machines
func (c *AzureClient) VirtualMachines(ctx context.Context, cfg *types.AzureConfig) ([]provider.VirtualMachine, error) {
	path := fmt.Sprintf("/subscriptions/%s/providers/Microsoft.Compute/virtualMachines", cfg.SubscriptionID)
	query := url.Values{"api-version": {vmVersion}}

	var vms []provider.VirtualMachine
	err := c.get(ctx, cfg, path, query, func(entry json.RawMessage) error {
		var row struct {
			ID         string            `json:"id"`
			Name       string            `json:"name"`
			Location   string            `json:"location"`
			Tags       map[string]string `json:"tags"`
			Properties struct {
				HardwareProfile struct {
					VMSize string `json:"vmSize"`
				} `json:"hardwareProfile"`
			} `json:"properties"`
		}
		if err := json.Unmarshal(entry, &row); err != nil {
			return &provider.APICallError{Message: "bad virtual machine row: " + err.Error()}
		}
		vms = append(vms, provider.VirtualMachine{
			ID:       row.ID,
			Name:     row.Name,
			Location: row.Location,
			VMSize:   row.Properties.HardwareProfile.VMSize,
			Tags:     row.Tags,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vms, nil
}

// AvailabilityStatuses queries Resource Health for the subscription
func (c *AzureClient) AvailabilityStatuses(ctx context.Context, cfg *types.AzureConfig, filter string) ([]provider.AvailabilityStatus, error) {
	path := fmt.Sprintf("/subscriptions/%s/providers/Microsoft.ResourceHealth/availabilityStatuses", cfg.SubscriptionID)
	query := url.Values{
		"api-version": {healthVersion},
		"$filter":     {filter},
	}

	var statuses []provider.AvailabilityStatus
	err := c.get(ctx, cfg, path, query, func(entry json.RawMessage) error {
		var row struct {
			ID         string `json:"id"`
			Properties struct {
				AvailabilityState string `json:"availabilityState"`
			} `json:"properties"`
		}
		if err := json.Unmarshal(entry, &row); err != nil {
			return &provider.APICallError{Message: "bad availability status row: " + err.Error()}
		}
		statuses = append(statuses, provider.AvailabilityStatus{
			ResourceID:        row.ID,
			AvailabilityState: row.Properties.AvailabilityState,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

// RateCard fetches the subscription's meter price list
func (c *AzureClient) RateCard(ctx context.Context, cfg *types.AzureConfig, filter string) ([]provider.Meter, error) {
	token, err := c.token(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// RateCard does not page and wraps meters in Meters rather than value
	endpoint := fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.Commerce/RateCard?api-version=%s&$filter=%s",
		c.managementURL, cfg.SubscriptionID, rateCardVersion, url.QueryEscape(filter))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &provider.APICallError{Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, requestError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &provider.APICallError{
			StatusCode: resp.StatusCode,
			Message:    "rate card request failed: " + truncate(body),
		}
	}

	var parsed struct {
		Meters []struct {
			MeterName     string             `json:"MeterName"`
			MeterCategory string             `json:"MeterCategory"`
			MeterRegion   string             `json:"MeterRegion"`
			MeterRates    map[string]float64 `json:"MeterRates"`
			EffectiveDate string             `json:"EffectiveDate"`
		} `json:"Meters"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &provider.APICallError{Message: "bad rate card response: " + err.Error()}
	}

	meters := make([]provider.Meter, 0, len(parsed.Meters))
	for _, m := range parsed.Meters {
		meter := provider.Meter{
			MeterName:     m.MeterName,
			MeterCategory: m.MeterCategory,
			MeterRegion:   m.MeterRegion,
			EffectiveDate: m.EffectiveDate,
		}
		// the "0" rate is the base tier price
		if rate, ok := m.MeterRates["0"]; ok {
			meter.Rate = decimal.NewFromFloat(rate)
		}
		meters = append(meters, meter)
	}
	return meters, nil
}

func requestError(err error) error {
	apiErr := &provider.APICallError{Message: err.Error()}
	if isTimeout(err) {
		apiErr.Timeout = true
	}
	return apiErr
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	for e := err; e != nil; e = unwrap(e) {
		if t, ok := e.(timeouter); ok && t.Timeout() {
			return true
		}
		if e == context.DeadlineExceeded {
			return true
		}
	}
	return false
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
