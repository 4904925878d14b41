// Package e2e drives a running authgate instance through its HTTP API with
// godog scenarios. Point AUTHGATE_E2E_BASE_URL at the server under test and
// export the same AUTHGATE_ADMIN_SIGNING_KEY to both processes.
package e2e

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultBaseURL    = "http://localhost:8080"
	defaultAdminKey   = "e2e-admin-key"
	runIDPlaceholder  = "{run}"
	requestTimeoutSec = 10
)

// TestContext holds per-scenario HTTP state.
type TestContext struct {
	baseURL  string
	adminKey []byte
	client   *http.Client

	runID        string
	lastStatus   int
	lastBody     []byte
	lastHeaders  http.Header
	lastDecoded  map[string]any
	decodeFailed bool
}

func NewTestContext() *TestContext {
	baseURL := os.Getenv("AUTHGATE_E2E_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	key := os.Getenv("AUTHGATE_ADMIN_SIGNING_KEY")
	if key == "" {
		key = defaultAdminKey
	}
	return &TestContext{
		baseURL:  strings.TrimRight(baseURL, "/"),
		adminKey: []byte(key),
		client:   &http.Client{Timeout: requestTimeoutSec * time.Second},
	}
}

// Reset starts a new scenario with a fresh run id so identifiers never
// collide with state left by earlier scenarios on the same server.
func (tc *TestContext) Reset() {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	tc.runID = hex.EncodeToString(buf)
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.lastHeaders = nil
	tc.lastDecoded = nil
}

// Expand substitutes the scenario run id into s.
func (tc *TestContext) Expand(s string) string {
	return strings.ReplaceAll(s, runIDPlaceholder, tc.runID)
}

// RunIP returns the nth address of a documentation-range IPv6 prefix unique
// to this scenario.
func (tc *TestContext) RunIP(n int) string {
	return fmt.Sprintf("2001:db8:%s:%s::%x", tc.runID[:4], tc.runID[4:], n)
}

func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.do(http.MethodPost, path, body, nil)
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers)
}

// AdminPOST, AdminGET and AdminDELETE attach a freshly minted admin token.
func (tc *TestContext) AdminPOST(path string, body interface{}) error {
	return tc.adminDo(http.MethodPost, path, body)
}

func (tc *TestContext) AdminGET(path string) error {
	return tc.adminDo(http.MethodGet, path, nil)
}

func (tc *TestContext) AdminDELETE(path string) error {
	return tc.adminDo(http.MethodDelete, path, nil)
}

func (tc *TestContext) adminDo(method, path string, body interface{}) error {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "e2e",
		"role": "admin",
		"exp":  time.Now().Add(5 * time.Minute).Unix(),
	}).SignedString(tc.adminKey)
	if err != nil {
		return fmt.Errorf("sign admin token: %w", err)
	}
	return tc.do(method, path, body, map[string]string{"Authorization": "Bearer " + token})
}

func (tc *TestContext) do(method, path string, body interface{}, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.baseURL+tc.Expand(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	tc.lastDecoded = nil
	tc.decodeFailed = false
	return nil
}

func (tc *TestContext) GetLastResponseStatus() int {
	return tc.lastStatus
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.lastBody
}

func (tc *TestContext) GetLastResponseHeader(name string) string {
	return tc.lastHeaders.Get(name)
}

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	if tc.lastDecoded == nil && !tc.decodeFailed {
		if err := json.Unmarshal(tc.lastBody, &tc.lastDecoded); err != nil {
			tc.decodeFailed = true
		}
	}
	if tc.decodeFailed {
		return nil, fmt.Errorf("response is not a JSON object: %s", tc.lastBody)
	}
	v, ok := tc.lastDecoded[field]
	if !ok {
		return nil, fmt.Errorf("field %q not found in response: %s", field, tc.lastBody)
	}
	return v, nil
}
