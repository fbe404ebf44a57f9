package openapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/shannon-ai/llm-gateway/internal/config"
	"github.com/shannon-ai/llm-gateway/internal/netguard"
	"github.com/shannon-ai/llm-gateway/internal/resilience"
	"github.com/shannon-ai/llm-gateway/internal/tools"
)

// paramLocation records where an argument belongs in the outgoing request.
type paramLocation int

const (
	inPath paramLocation = iota
	inQuery
	inHeader
	inBody
)

// operationTool executes one OpenAPI operation. Arguments arrive already
// coerced and validated by the registry pipeline.
type operationTool struct {
	md        tools.Metadata
	method    string
	pathTmpl  string
	baseURL   string
	locations map[string]paramLocation

	// bodySchema validates the composed JSON body against the operation's
	// declared request schema before anything leaves the process.
	bodySchema *jsonschema.Schema

	authHeader string
	authQuery  string
	authBasic  string
	client     *http.Client
	breaker    *resilience.CircuitBreaker
	retries    int
	maxBody    int64
}

func newOperationTool(l *Loader, cfg config.OpenAPIToolConfig, baseURL string, so specOperation) (*operationTool, error) {
	t := &operationTool{
		method:     so.method,
		pathTmpl:   so.path,
		baseURL:    baseURL,
		locations:  make(map[string]paramLocation),
		authHeader: cfg.AuthHeader,
		authQuery:  cfg.AuthQuery,
		authBasic:  cfg.AuthBasic,
		client:     l.client,
		breaker:    l.breakers.Get(baseURL),
		retries:    l.retries,
		maxBody:    l.maxResponse,
	}

	t.md = tools.Metadata{
		Name:        cfg.Name + "_" + operationName(so),
		Description: operationDescription(so),
		Category:    "openapi",
		Version:     "1.0.0",
	}

	visited := make(map[*openapi3.SchemaRef]bool)
	for _, ref := range so.op.Parameters {
		p := ref.Value
		if p == nil {
			continue
		}
		param, err := parameterFromSchema(p.Name, p.Schema, p.Required, visited)
		if err != nil {
			return nil, err
		}
		if param.Description == "" {
			param.Description = p.Description
		}
		switch p.In {
		case openapi3.ParameterInPath:
			t.locations[p.Name] = inPath
		case openapi3.ParameterInQuery:
			t.locations[p.Name] = inQuery
		case openapi3.ParameterInHeader:
			t.locations[p.Name] = inHeader
		default:
			continue
		}
		t.md.Parameters = append(t.md.Parameters, param)
	}

	if err := t.addBodyParameters(so.op, visited); err != nil {
		return nil, err
	}
	return t, nil
}

// addBodyParameters lifts the top-level properties of a JSON request body
// into tool parameters so the model sees one flat argument list.
func (t *operationTool) addBodyParameters(op *openapi3.Operation, visited map[*openapi3.SchemaRef]bool) error {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return nil
	}
	media := op.RequestBody.Value.Content.Get("application/json")
	if media == nil || media.Schema == nil || media.Schema.Value == nil {
		return nil
	}
	schema := media.Schema.Value
	required := toSet(schema.Required)

	compiled, err := compileBodySchema(schema)
	if err != nil {
		return err
	}
	t.bodySchema = compiled

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, taken := t.locations[name]; taken {
			continue
		}
		param, err := parameterFromSchema(name, schema.Properties[name], required[name], visited)
		if err != nil {
			return err
		}
		t.locations[name] = inBody
		t.md.Parameters = append(t.md.Parameters, param)
	}
	return nil
}

func (t *operationTool) Metadata() *tools.Metadata { return &t.md }

func (t *operationTool) Execute(ctx context.Context, _ *tools.SessionContext, args map[string]any) *tools.Result {
	reqURL, body, headers, err := t.compose(args)
	if err != nil {
		return tools.Errorf("%s", netguard.Redact(err.Error()))
	}

	policy := resilience.RetryPolicy{
		MaxAttempts:    t.retries,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
		Factor:         2,
		Retryable:      retryableHTTP,
	}

	result, err := resilience.Retry(ctx, policy, func() (*tools.Result, error) {
		var res *tools.Result
		execErr := t.breaker.Execute(func() error {
			var err error
			res, err = t.doRequest(ctx, reqURL, body, headers)
			return err
		})
		return res, execErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return tools.Errorf("service unavailable: circuit open for this API")
		}
		return tools.Errorf("%s", netguard.Redact(err.Error()))
	}
	return result
}

// compose builds the request URL, JSON body and headers from the arguments.
func (t *operationTool) compose(args map[string]any) (string, []byte, http.Header, error) {
	path := t.pathTmpl
	query := url.Values{}
	bodyFields := make(map[string]any)
	headers := http.Header{}
	headers.Set("Accept", "application/json")

	for name, value := range args {
		switch t.locations[name] {
		case inPath:
			path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(stringify(value)))
		case inQuery:
			query.Set(name, stringify(value))
		case inHeader:
			headers.Set(name, stringify(value))
		case inBody:
			bodyFields[name] = value
		}
	}

	if strings.Contains(path, "{") {
		return "", nil, nil, fmt.Errorf("unresolved path parameter in %s", path)
	}

	if t.authQuery != "" {
		name, value, ok := strings.Cut(t.authQuery, "=")
		if !ok {
			return "", nil, nil, fmt.Errorf("malformed auth_query template")
		}
		query.Set(strings.TrimSpace(name), os.Expand(strings.TrimSpace(value), os.Getenv))
	}

	reqURL := t.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body []byte
	if len(bodyFields) > 0 {
		var err error
		body, err = json.Marshal(bodyFields)
		if err != nil {
			return "", nil, nil, fmt.Errorf("encode body: %w", err)
		}
		if t.bodySchema != nil {
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
			if err != nil {
				return "", nil, nil, fmt.Errorf("encode body: %w", err)
			}
			if err := t.bodySchema.Validate(doc); err != nil {
				return "", nil, nil, fmt.Errorf("body does not satisfy the operation schema: %w", err)
			}
		}
		headers.Set("Content-Type", "application/json")
	}

	if t.authHeader != "" {
		name, value, ok := strings.Cut(t.authHeader, ":")
		if !ok {
			return "", nil, nil, fmt.Errorf("malformed auth_header template")
		}
		headers.Set(strings.TrimSpace(name), os.Expand(strings.TrimSpace(value), os.Getenv))
	}
	if t.authBasic != "" {
		user, pass, ok := strings.Cut(t.authBasic, ":")
		if !ok {
			return "", nil, nil, fmt.Errorf("malformed auth_basic template")
		}
		cred := os.Expand(strings.TrimSpace(user), os.Getenv) + ":" + os.Expand(strings.TrimSpace(pass), os.Getenv)
		headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(cred)))
	}
	return reqURL, body, headers, nil
}

func (t *operationTool) doRequest(ctx context.Context, reqURL string, body []byte, headers http.Header) (*tools.Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, t.method, reqURL, reader)
	if err != nil {
		return nil, err
	}
	for name, vals := range headers {
		req.Header[name] = vals
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %s", netguard.Redact(err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %s", netguard.Redact(err.Error()))
	}
	if int64(len(data)) > t.maxBody {
		return nil, fmt.Errorf("response exceeds %d bytes", t.maxBody)
	}

	if resp.StatusCode >= 400 {
		return nil, &statusError{code: resp.StatusCode, body: netguard.Redact(truncate(string(data), 512))}
	}

	result := tools.Ok(decodeBody(resp.Header.Get("Content-Type"), data))
	result.Metadata = map[string]any{"status_code": resp.StatusCode}
	return result, nil
}

// statusError carries the HTTP status so the retry policy can distinguish
// transient upstream failures from caller mistakes.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("upstream returned status %d", e.code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.code, e.body)
}

func retryableHTTP(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func decodeBody(contentType string, data []byte) any {
	mt, _, err := mime.ParseMediaType(contentType)
	if err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json")) {
		var out any
		if json.Unmarshal(data, &out) == nil {
			return out
		}
	}
	return string(data)
}

// parameterFromSchema maps an OpenAPI schema to a tool parameter. visited
// guards against cyclic $refs while descending into array items.
func parameterFromSchema(name string, ref *openapi3.SchemaRef, required bool, visited map[*openapi3.SchemaRef]bool) (tools.Parameter, error) {
	param := tools.Parameter{Name: name, Type: tools.TypeString, Required: required}
	if ref == nil || ref.Value == nil {
		return param, nil
	}
	if visited[ref] {
		return param, fmt.Errorf("cyclic $ref reached via parameter %q", name)
	}
	visited[ref] = true
	defer delete(visited, ref)

	schema := ref.Value
	param.Type = schemaType(schema)
	param.Description = schema.Description
	param.Enum = schema.Enum
	param.Pattern = schema.Pattern
	param.MinValue = schema.Min
	param.MaxValue = schema.Max
	if schema.Default != nil {
		param.Default = schema.Default
	}

	if param.Type == tools.TypeArray {
		param.Items = tools.TypeString
		if schema.Items != nil {
			item, err := parameterFromSchema(name+"[]", schema.Items, false, visited)
			if err != nil {
				return param, err
			}
			param.Items = item.Type
		}
	}
	return param, nil
}

func schemaType(schema *openapi3.Schema) string {
	switch {
	case schema.Type.Is(openapi3.TypeInteger):
		return tools.TypeInteger
	case schema.Type.Is(openapi3.TypeNumber):
		return tools.TypeNumber
	case schema.Type.Is(openapi3.TypeBoolean):
		return tools.TypeBoolean
	case schema.Type.Is(openapi3.TypeArray):
		return tools.TypeArray
	case schema.Type.Is(openapi3.TypeObject):
		return tools.TypeObject
	default:
		return tools.TypeString
	}
}

func operationName(so specOperation) string {
	if so.op.OperationID != "" {
		return slug(so.op.OperationID)
	}
	return slug(strings.ToLower(so.method) + "_" + so.path)
}

func operationDescription(so specOperation) string {
	if so.op.Summary != "" {
		return so.op.Summary
	}
	if so.op.Description != "" {
		return so.op.Description
	}
	return fmt.Sprintf("%s %s", so.method, so.path)
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

// compileBodySchema rebuilds the top-level object shape of the request body
// as a plain JSON Schema document and compiles it. Only the shapes the tool
// layer itself composes are mirrored, so unresolved nested $refs in the
// source document cannot leak into the validator.
func compileBodySchema(schema *openapi3.Schema) (*jsonschema.Schema, error) {
	props := make(map[string]any, len(schema.Properties))
	for name, ref := range schema.Properties {
		if ref == nil || ref.Value == nil {
			continue
		}
		prop := map[string]any{"type": schemaType(ref.Value)}
		if len(ref.Value.Enum) > 0 {
			prop["enum"] = ref.Value.Enum
		}
		if ref.Value.Pattern != "" {
			prop["pattern"] = ref.Value.Pattern
		}
		props[name] = prop
	}
	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(schema.Required) > 0 {
		doc["required"] = schema.Required
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("body.json", parsed); err != nil {
		return nil, err
	}
	return compiler.Compile("body.json")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
