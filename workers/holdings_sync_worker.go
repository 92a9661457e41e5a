// workers/holdings_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/RUMBLEonSOL/rumble-developer-deep-dive/models"
)

// HoldingsSyncClient mirrors token balances from the balance sync service
// into holdings_mirror. The settlement engine's holdings sub-score reads the
// mirror, never the remote service, so settlement stays deterministic and
// offline-safe.
type HoldingsSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewHoldingsSyncClient(db *gorm.DB) *HoldingsSyncClient {
	baseURL := os.Getenv("BALANCE_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("BALANCE_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("RUMBLE_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("RUMBLE_SERVICE_TOKEN environment variable is required for holdings sync")
	}

	return &HoldingsSyncClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HoldingsSyncClient) GetChangedHoldings(ctx context.Context, since time.Time) ([]models.HoldingsMirror, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/holdings", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call balance service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("balance service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Holdings []models.HoldingsMirror `json:"holdings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode balance service response: %w", err)
	}

	return response.Holdings, nil
}

// PollHoldings keeps holdings_mirror current. A failed poll retries the same
// window on the next tick; the cursor only advances after a successful upsert.
func PollHoldings(ctx context.Context, client *HoldingsSyncClient, pollInterval time.Duration) {
	log.Println("Starting holdings polling (DB-backed)...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Holdings polling stopped.")
			return
		case <-ticker.C:
			tickTime := time.Now().UTC()
			log.Printf("Polling for holdings changes since %s...", lastSyncTime.Format(time.RFC3339))

			holdings, err := client.GetChangedHoldings(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ Error polling holdings: %v", err)
				continue
			}

			count := len(holdings)
			if count == 0 {
				log.Println("➡️ No new holdings changes.")
				continue
			}

			// Bulk upsert — one statement on PostgreSQL
			if err := client.DB.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: "external_user_id"}},
					DoUpdates: clause.AssignmentColumns([]string{
						"chain",
						"token",
						"balance",
						"last_checked_at",
						"updated_at",
					}),
				},
			).Create(&holdings).Error; err != nil {
				log.Printf("❌ Failed to upsert %d holding(s) into holdings_mirror: %v", count, err)
				// Do NOT advance lastSyncTime on failure — retry same window next tick
				continue
			}

			lastSyncTime = tickTime
			log.Printf("✅ Upserted %d holding(s) into holdings_mirror table.", count)
		}
	}
}
