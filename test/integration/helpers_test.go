package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// BaseURL points at a running api process. The suite is skipped when unset.
var BaseURL = os.Getenv("INTEGRATION_BASE_URL")

var client = &http.Client{Timeout: 10 * time.Second}

// postJSON sends body to path and decodes the response into out when non-nil
func postJSON(t *testing.T, path string, body, out interface{}) int {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := client.Post(BaseURL+path, "application/json", bytes.NewBuffer(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := client.Get(BaseURL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// uniqueName keeps repeated runs against the same database apart
func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
