// Package integration contains end-to-end tests for the MedGenix stats API.
// They require a running service and are skipped in short mode.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	baseURL = getEnv("TEST_BASE_URL", "http://localhost:3000/api/v1")
	userID  = getEnv("TEST_USER_ID", "e2e-test-user")
)

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// TestClient wraps http.Client with common headers
type TestClient struct {
	*http.Client
	baseURL string
	userID  string
}

func NewTestClient() *TestClient {
	return &TestClient{
		Client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		userID:  userID,
	}
}

func (c *TestClient) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", c.userID)
	return c.Client.Do(req)
}

func (c *TestClient) Get(path string) (*http.Response, error) {
	req, err := http.NewRequest("GET", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

func (c *TestClient) Post(path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

func (c *TestClient) Delete(path string) (*http.Response, error) {
	req, err := http.NewRequest("DELETE", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

func parseResponse(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")
	if target != nil {
		require.NoError(t, json.Unmarshal(body, target), "failed to parse response: %s", string(body))
	}
}

// TestHealthCheck verifies the API is running
func TestHealthCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping e2e test in short mode")
	}
	client := NewTestClient()

	resp, err := client.Get("/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]any
	parseResponse(t, resp, &result)
	assert.Equal(t, "healthy", result["status"])
}

// TestSearchStatsLifecycle walks a medicine through the full flow: record
// searches, read the record, query trending and trends, then delete.
func TestSearchStatsLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping e2e test in short mode")
	}
	client := NewTestClient()
	name := fmt.Sprintf("E2E-Medicine-%d", time.Now().UnixNano())

	t.Cleanup(func() {
		resp, err := client.Delete("/medicines/" + name)
		if err == nil {
			resp.Body.Close()
		}
	})

	// Record three searches, one duplicated in the same batch
	resp, err := client.Post("/medicines/stats", map[string]any{
		"generic_names": []string{name, name},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var batch struct {
		Updated int `json:"updated"`
		Failed  int `json:"failed"`
	}
	parseResponse(t, resp, &batch)
	assert.Equal(t, 2, batch.Updated)
	assert.Equal(t, 0, batch.Failed)

	resp, err = client.Post("/medicines/stats", map[string]any{
		"generic_names": []string{name},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The record reflects all three searches
	resp, err = client.Get("/medicines/" + name)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stat struct {
		Name            string `json:"name"`
		AllTimeSearches int64  `json:"all_time_searches"`
		MonthlyBuckets  []struct {
			Month       int   `json:"month"`
			Year        int   `json:"year"`
			SearchCount int64 `json:"search_count"`
		} `json:"monthly_buckets"`
	}
	parseResponse(t, resp, &stat)
	assert.Equal(t, name, stat.Name)
	assert.Equal(t, int64(3), stat.AllTimeSearches)
	require.Len(t, stat.MonthlyBuckets, 1)
	assert.Equal(t, int64(3), stat.MonthlyBuckets[0].SearchCount)

	// The trend series is zero-filled with the current month last
	resp, err = client.Get("/medicines/" + name + "/trends?months=6")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var trend struct {
		Name   string `json:"name"`
		Months []struct {
			Month int   `json:"month"`
			Year  int   `json:"year"`
			Count int64 `json:"count"`
		} `json:"months"`
	}
	parseResponse(t, resp, &trend)
	require.Len(t, trend.Months, 6)
	assert.Equal(t, int64(3), trend.Months[5].Count)
	for _, point := range trend.Months[:5] {
		assert.Zero(t, point.Count)
	}

	// Delete and verify the record is gone
	resp, err = client.Delete("/medicines/" + name)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = client.Get("/medicines/" + name)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

// TestTrendingEndpoint verifies the ranking endpoint shape
func TestTrendingEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping e2e test in short mode")
	}
	client := NewTestClient()
	name := fmt.Sprintf("E2E-Trending-%d", time.Now().UnixNano())

	t.Cleanup(func() {
		resp, err := client.Delete("/medicines/" + name)
		if err == nil {
			resp.Body.Close()
		}
	})

	resp, err := client.Post("/medicines/stats", map[string]any{
		"generic_names": []string{name},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = client.Get("/medicines/trending?limit=50")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var records []struct {
		Name            string `json:"name"`
		AllTimeSearches int64  `json:"all_time_searches"`
	}
	parseResponse(t, resp, &records)
	assert.NotEmpty(t, records)

	// Counts must be non-increasing
	for i := 1; i < len(records); i++ {
		assert.GreaterOrEqual(t, records[i-1].AllTimeSearches, records[i].AllTimeSearches)
	}
}

// TestValidationErrors verifies the error surface of the write endpoint
func TestValidationErrors(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping e2e test in short mode")
	}
	client := NewTestClient()

	resp, err := client.Post("/medicines/stats", map[string]any{
		"generic_names": []string{},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = client.Get("/medicines/some-name/trends?months=999")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
