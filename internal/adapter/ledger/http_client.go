package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// HTTPClient reads address state from per-currency ledger node gateways.
type HTTPClient struct {
	// nodeURLs maps currency code to the node gateway base URL.
	nodeURLs map[string]string
	client   *http.Client
	log      *zap.Logger
}

func NewHTTPClient(nodeURLs map[string]string, log *zap.Logger) Provider {
	return &HTTPClient{
		nodeURLs: nodeURLs,
		client:   &http.Client{Timeout: 20 * time.Second},
		log:      log,
	}
}

func (c *HTTPClient) AddressStatus(ctx context.Context, currency, address string) (*AddressStatus, error) {
	base, ok := c.nodeURLs[currency]
	if !ok {
		return nil, fmt.Errorf("ledger: no node configured for currency %s", currency)
	}

	endpoint := fmt.Sprintf("%s/v1/addresses/%s", base, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger: query %s node: %w", currency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger: %s node returned status %d", currency, resp.StatusCode)
	}

	var status AddressStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("ledger: decode %s node response: %w", currency, err)
	}
	return &status, nil
}
