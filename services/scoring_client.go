// services/scoring_client.go
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

// ScoringClient calls the external trading-activity model service. The
// service owns the model and the anomaly filter: participants it flags come
// back with score 0, so nothing here second-guesses the feed.
type ScoringClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type computeScoresResponse struct {
	Scores map[string]int64 `json:"scores"`
}

func NewScoringClient(baseURL, token string) *ScoringClient {
	return &ScoringClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ComputeScores calls /scores on the model service and returns the
// participant id → activity score mapping. Calling it twice with the same
// inputs is safe — scores are overwritten downstream, never accumulated.
func (c *ScoringClient) ComputeScores(ctx context.Context, participantIDs []string) (map[string]int64, error) {
	if len(participantIDs) == 0 {
		return map[string]int64{}, nil
	}

	url := fmt.Sprintf("%s/api/v1/scores", c.BaseURL)

	reqBody := map[string]interface{}{
		"participant_ids": participantIDs,
	}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("ScoringService /scores returned %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("score computation failed: %d", resp.StatusCode)
	}

	var out computeScoresResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if out.Scores == nil {
		out.Scores = map[string]int64{}
	}

	return out.Scores, nil
}
