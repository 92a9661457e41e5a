// services/treasury_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// TreasuryClient executes value movement against the treasury service. It
// implements rumble.Transferer, so a transfer failure aborts the settlement
// attempt that requested it.
type TreasuryClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewTreasuryClient(baseURL, token string) *TreasuryClient {
	return &TreasuryClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PayWinner transfers a winner's payout from the pool account.
func (c *TreasuryClient) PayWinner(ctx context.Context, externalUserID string, amount uint64) error {
	return c.post(ctx, "/api/v1/transfers", map[string]interface{}{
		"external_user_id": externalUserID,
		"amount":           amount,
	})
}

// Burn removes the burn share from circulation via the buyback-and-burn
// endpoint.
func (c *TreasuryClient) Burn(ctx context.Context, amount uint64) error {
	return c.post(ctx, "/api/v1/burns", map[string]interface{}{
		"amount": amount,
	})
}

func (c *TreasuryClient) post(ctx context.Context, path string, body map[string]interface{}) error {
	url := c.BaseURL + path

	jsonData, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("Treasury %s returned %d: %s", path, resp.StatusCode, string(respBody))
		return fmt.Errorf("treasury call %s failed: %d", path, resp.StatusCode)
	}

	return nil
}
