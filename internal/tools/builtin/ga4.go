package builtin

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shannon-ai/llm-gateway/internal/config"
	"github.com/shannon-ai/llm-gateway/internal/netguard"
	"github.com/shannon-ai/llm-gateway/internal/tools"
)

const (
	ga4DataAPIBase  = "https://analyticsdata.googleapis.com"
	ga4DefaultToken = "https://oauth2.googleapis.com/token"
	ga4Scope        = "https://www.googleapis.com/auth/analytics.readonly"
	ga4Timeout      = 30 * time.Second
)

// ga4Client authenticates against the GA4 Data API with a service account
// key: it signs a JWT bearer assertion, exchanges it for an access token and
// caches the token until shortly before expiry. Shared by the ga4_* tools.
type ga4Client struct {
	email    string
	key      *rsa.PrivateKey
	tokenURL string
	apiBase  string
	property string
	client   *http.Client
	now      func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewGA4Tools builds the GA4 analytics tool family from cfg. The key file is
// read and parsed up front so a bad path or key fails at startup, not on the
// first call.
func NewGA4Tools(cfg config.GA4Config) ([]tools.Tool, error) {
	data, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("builtin: ga4 credentials: %w", err)
	}
	var sa struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
		TokenURI    string `json:"token_uri"`
	}
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("builtin: ga4 credentials: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, fmt.Errorf("builtin: ga4 credentials need client_email and private_key")
	}
	key, err := parseServiceAccountKey(sa.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("builtin: ga4 credentials: %w", err)
	}
	tokenURL := sa.TokenURI
	if tokenURL == "" {
		tokenURL = ga4DefaultToken
	}

	c := &ga4Client{
		email:    sa.ClientEmail,
		key:      key,
		tokenURL: tokenURL,
		apiBase:  ga4DataAPIBase,
		property: cfg.PropertyID,
		client:   &http.Client{Timeout: ga4Timeout},
		now:      time.Now,
	}
	return []tools.Tool{newGA4Report(c), newGA4Realtime(c)}, nil
}

func parseServiceAccountKey(pemText string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("private_key is not PEM encoded")
	}
	if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private_key is not an RSA key")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// accessToken returns the cached token or mints a fresh one via the OAuth2
// JWT bearer grant.
func (c *ga4Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiry) {
		return c.token, nil
	}

	assertion, err := c.signedAssertion()
	if err != nil {
		return "", err
	}
	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var decoded struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := doJSON(c.client, req, &decoded); err != nil {
		return "", fmt.Errorf("token exchange: %s", err)
	}
	if decoded.AccessToken == "" {
		return "", fmt.Errorf("token exchange returned no access_token")
	}
	c.token = decoded.AccessToken
	// Refresh a minute early so in-flight calls never carry a stale token.
	c.expiry = c.now().Add(time.Duration(decoded.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

// signedAssertion builds the RS256-signed JWT the token endpoint expects.
func (c *ga4Client) signedAssertion() (string, error) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	iat := c.now().Unix()
	claims, err := json.Marshal(map[string]any{
		"iss":   c.email,
		"scope": ga4Scope,
		"aud":   c.tokenURL,
		"iat":   iat,
		"exp":   iat + 3600,
	})
	if err != nil {
		return "", err
	}
	signingInput := header + "." + base64.RawURLEncoding.EncodeToString(claims)
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// run POSTs one Data API method for property pid and returns the decoded
// response body.
func (c *ga4Client) run(ctx context.Context, pid, method string, body map[string]any) (any, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	endpoint := c.apiBase + "/v1beta/properties/" + url.PathEscape(pid) + ":" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	var decoded any
	if err := doJSON(c.client, req, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

// propertyFor picks the property for one call: an explicit argument wins
// over the configured default. The "properties/" resource prefix is
// tolerated in both.
func (c *ga4Client) propertyFor(args map[string]any) (string, error) {
	if pid, ok := args["property_id"].(string); ok && pid != "" {
		return strings.TrimPrefix(pid, "properties/"), nil
	}
	if c.property != "" {
		return strings.TrimPrefix(c.property, "properties/"), nil
	}
	return "", fmt.Errorf("no GA4 property configured; set tools.ga4.property_id or pass property_id")
}

// namedEntries converts a string-list argument into the {"name": x} objects
// the Data API expects for metrics and dimensions.
func namedEntries(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, map[string]any{"name": s})
		}
	}
	return out
}

// GA4Report runs a GA4 Data API report over a date range.
type GA4Report struct {
	md     tools.Metadata
	client *ga4Client
}

func newGA4Report(c *ga4Client) *GA4Report {
	return &GA4Report{
		client: c,
		md: tools.Metadata{
			Name:        "ga4_run_report",
			Description: "Runs a Google Analytics 4 report over a date range",
			Category:    "analytics",
			Version:     "1.0.0",
			RateLimit:   30,
			Parameters: []tools.Parameter{
				{Name: "metrics", Type: tools.TypeArray, Items: tools.TypeString, Required: true,
					Description: "GA4 metric names, e.g. activeUsers, sessions"},
				{Name: "dimensions", Type: tools.TypeArray, Items: tools.TypeString,
					Description: "GA4 dimension names, e.g. country, pagePath"},
				{Name: "start_date", Type: tools.TypeString, Default: "28daysAgo"},
				{Name: "end_date", Type: tools.TypeString, Default: "today"},
				{Name: "limit", Type: tools.TypeInteger, Default: int64(50),
					MinValue: floatPtr(1), MaxValue: floatPtr(1000)},
				{Name: "property_id", Type: tools.TypeString,
					Description: "Overrides the configured GA4 property"},
			},
		},
	}
}

func (t *GA4Report) Metadata() *tools.Metadata { return &t.md }

func (t *GA4Report) Execute(ctx context.Context, _ *tools.SessionContext, args map[string]any) *tools.Result {
	pid, err := t.client.propertyFor(args)
	if err != nil {
		return tools.Errorf("%s", err)
	}
	metrics := namedEntries(args["metrics"])
	if len(metrics) == 0 {
		return tools.Errorf("at least one metric is required")
	}

	start, _ := args["start_date"].(string)
	if start == "" {
		start = "28daysAgo"
	}
	end, _ := args["end_date"].(string)
	if end == "" {
		end = "today"
	}
	body := map[string]any{
		"dateRanges": []map[string]any{{"startDate": start, "endDate": end}},
		"metrics":    metrics,
	}
	if dims := namedEntries(args["dimensions"]); len(dims) > 0 {
		body["dimensions"] = dims
	}
	if n, ok := args["limit"].(int64); ok && n > 0 {
		body["limit"] = n
	}

	report, err := t.client.run(ctx, pid, "runReport", body)
	if err != nil {
		return tools.Errorf("ga4 report failed: %s", netguard.Redact(err.Error()))
	}
	result := tools.Ok(report)
	result.Metadata = map[string]any{"property_id": pid}
	return result
}

// GA4Realtime reports activity on a property over the last 30 minutes.
type GA4Realtime struct {
	md     tools.Metadata
	client *ga4Client
}

func newGA4Realtime(c *ga4Client) *GA4Realtime {
	return &GA4Realtime{
		client: c,
		md: tools.Metadata{
			Name:        "ga4_run_realtime_report",
			Description: "Reports Google Analytics 4 activity from the last 30 minutes",
			Category:    "analytics",
			Version:     "1.0.0",
			RateLimit:   30,
			Parameters: []tools.Parameter{
				{Name: "metrics", Type: tools.TypeArray, Items: tools.TypeString, Required: true,
					Description: "GA4 realtime metric names, e.g. activeUsers"},
				{Name: "dimensions", Type: tools.TypeArray, Items: tools.TypeString,
					Description: "GA4 realtime dimension names, e.g. country"},
				{Name: "limit", Type: tools.TypeInteger, Default: int64(50),
					MinValue: floatPtr(1), MaxValue: floatPtr(1000)},
				{Name: "property_id", Type: tools.TypeString,
					Description: "Overrides the configured GA4 property"},
			},
		},
	}
}

func (t *GA4Realtime) Metadata() *tools.Metadata { return &t.md }

func (t *GA4Realtime) Execute(ctx context.Context, _ *tools.SessionContext, args map[string]any) *tools.Result {
	pid, err := t.client.propertyFor(args)
	if err != nil {
		return tools.Errorf("%s", err)
	}
	metrics := namedEntries(args["metrics"])
	if len(metrics) == 0 {
		return tools.Errorf("at least one metric is required")
	}

	body := map[string]any{"metrics": metrics}
	if dims := namedEntries(args["dimensions"]); len(dims) > 0 {
		body["dimensions"] = dims
	}
	if n, ok := args["limit"].(int64); ok && n > 0 {
		body["limit"] = n
	}

	report, err := t.client.run(ctx, pid, "runRealtimeReport", body)
	if err != nil {
		return tools.Errorf("ga4 realtime report failed: %s", netguard.Redact(err.Error()))
	}
	result := tools.Ok(report)
	result.Metadata = map[string]any{"property_id": pid}
	return result
}
