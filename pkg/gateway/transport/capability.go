// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

// CapabilityDef is a declarative description of a REST endpoint turned into
// a tool, per spec §4.1 and §4.11.
type CapabilityDef struct {
	Name          string
	BaseURL       string
	PathTemplate  string // e.g. "/v1/users/{user_id}"
	Method        string
	Headers       map[string]string
	StaticParams  map[string]string
	BodyTemplate  map[string]any
	ResponsePath  string // JSON pointer, optional
	InputSchema   map[string]any
}

// SecretResolver resolves {env.VAR}, {keychain.NAME}, and {auth:provider}
// placeholders against an external secret collaborator (spec §4.1, §6: the
// secret store is invoked through this narrow contract and not read
// directly by the core).
type SecretResolver interface {
	ResolveEnv(name string) (string, error)
	ResolveKeychain(name string) (string, error)
	ResolveAuth(provider string) (string, error)
}

var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// Capability renders a CapabilityDef into an HTTP request given tool
// arguments, dispatches it, and extracts the response per spec §4.11.
// It does not speak MCP — Start/Stop/IsRunning are no-ops since there is no
// persistent connection.
type Capability struct {
	def      CapabilityDef
	client   *http.Client
	secrets  SecretResolver
	running  bool
}

// NewCapability creates a capability transport for def.
func NewCapability(def CapabilityDef, client *http.Client, secrets SecretResolver) *Capability {
	if client == nil {
		client = http.DefaultClient
	}
	return &Capability{def: def, client: client, secrets: secrets}
}

// Start marks the transport usable.
func (c *Capability) Start(_ context.Context) error { c.running = true; return nil }

// Stop marks the transport unusable.
func (c *Capability) Stop(_ context.Context) error { c.running = false; return nil }

// IsRunning reports whether Start has been called.
func (c *Capability) IsRunning() bool { return c.running }

// Notify is not meaningful for REST capabilities; it is a no-op returning
// nil so the transport still satisfies the gateway.Transport contract.
func (c *Capability) Notify(_ context.Context, _ string, _ map[string]any) error { return nil }

// Request validates arguments against the declared input schema, builds the
// HTTP request, dispatches it, and returns the (optionally projected) JSON
// result. method is ignored; capability calls are always a single
// invocation of the one endpoint the definition describes.
func (c *Capability) Request(ctx context.Context, _ string, params map[string]any) (any, error) {
	if err := validateAgainstSchema(params, c.def.InputSchema); err != nil {
		return nil, gateway.NewError(gateway.KindInvalidArguments, err.Error(), gateway.ErrInvalidArguments)
	}

	path, err := c.substitute(c.def.PathTemplate, params)
	if err != nil {
		return nil, gateway.NewError(gateway.KindInvalidArguments, err.Error(), gateway.ErrInvalidArguments)
	}

	fullURL := strings.TrimRight(c.def.BaseURL, "/") + path
	u, err := url.Parse(fullURL)
	if err != nil {
		return nil, gateway.NewError(gateway.KindInternal, "invalid url", err)
	}

	query := u.Query()
	for k, v := range c.def.StaticParams {
		resolved, err := c.resolvePlaceholder(v, params)
		if err != nil {
			return nil, gateway.NewError(gateway.KindInvalidArguments, err.Error(), gateway.ErrInvalidArguments)
		}
		query.Set(k, resolved)
	}
	u.RawQuery = query.Encode()

	var bodyReader io.Reader
	if c.def.BodyTemplate != nil {
		expanded, err := c.substituteMap(c.def.BodyTemplate, params)
		if err != nil {
			return nil, gateway.NewError(gateway.KindInvalidArguments, err.Error(), gateway.ErrInvalidArguments)
		}
		encoded, err := json.Marshal(expanded)
		if err != nil {
			return nil, gateway.NewError(gateway.KindInternal, "encode body", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	method := c.def.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, gateway.NewError(gateway.KindInternal, "build request", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.def.Headers {
		resolved, err := c.resolvePlaceholder(v, params)
		if err != nil {
			return nil, gateway.NewError(gateway.KindInvalidArguments, err.Error(), gateway.ErrInvalidArguments)
		}
		req.Header.Set(k, resolved)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, gateway.NewError(gateway.KindTransport, "capability request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gateway.NewError(gateway.KindTransport, "read response body", err)
	}

	if resp.StatusCode >= 500 {
		return nil, gateway.NewError(gateway.KindTransport, fmt.Sprintf("capability backend returned %d", resp.StatusCode), gateway.ErrTransport)
	}
	if resp.StatusCode >= 400 {
		return nil, gateway.NewError(gateway.KindToolFailed, fmt.Sprintf("capability backend returned %d", resp.StatusCode), gateway.ErrToolFailed)
	}

	var decoded any
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "xml") {
		decoded, err = xmlToJSON(raw)
	} else if len(raw) > 0 {
		err = json.Unmarshal(raw, &decoded)
	}
	if err != nil {
		return nil, gateway.NewError(gateway.KindTransport, "decode response body", err)
	}

	if c.def.ResponsePath != "" {
		return jsonPointer(decoded, c.def.ResponsePath)
	}
	return decoded, nil
}

// substitute replaces {arg_name} / {env.*} / {keychain.*} / {auth:*}
// placeholders in a path template and returns the rendered path.
func (c *Capability) substitute(template string, params map[string]any) (string, error) {
	var outerErr error
	result := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		resolved, err := c.resolvePlaceholder("{"+name+"}", params)
		if err != nil {
			outerErr = err
			return match
		}
		return resolved
	})
	if outerErr != nil {
		return "", outerErr
	}
	return result, nil
}

// resolvePlaceholder resolves a single {xxx} token against args or the
// secret collaborator. If the input isn't a bare placeholder it's returned
// unchanged (static_params and header values may be literal strings).
func (c *Capability) resolvePlaceholder(value string, params map[string]any) (string, error) {
	if !strings.HasPrefix(value, "{") || !strings.HasSuffix(value, "}") {
		return value, nil
	}
	name := value[1 : len(value)-1]

	switch {
	case strings.HasPrefix(name, "env."):
		if c.secrets == nil {
			return "", fmt.Errorf("no secret resolver configured for %q", value)
		}
		return c.secrets.ResolveEnv(strings.TrimPrefix(name, "env."))
	case strings.HasPrefix(name, "keychain."):
		if c.secrets == nil {
			return "", fmt.Errorf("no secret resolver configured for %q", value)
		}
		return c.secrets.ResolveKeychain(strings.TrimPrefix(name, "keychain."))
	case strings.HasPrefix(name, "auth:"):
		if c.secrets == nil {
			return "", fmt.Errorf("no secret resolver configured for %q", value)
		}
		return c.secrets.ResolveAuth(strings.TrimPrefix(name, "auth:"))
	default:
		arg, ok := params[name]
		if !ok {
			return "", fmt.Errorf("missing required argument %q", name)
		}
		return fmt.Sprint(arg), nil
	}
}

// substituteMap recursively substitutes placeholders through a body
// template tree, preserving non-string types.
func (c *Capability) substituteMap(tree map[string]any, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		expanded, err := c.substituteValue(v, params)
		if err != nil {
			return nil, err
		}
		out[k] = expanded
	}
	return out, nil
}

func (c *Capability) substituteValue(v any, params map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		if placeholderPattern.MatchString(t) && strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}") && strings.Count(t, "{") == 1 {
			// Pure placeholder: substitute with the argument's native type.
			name := t[1 : len(t)-1]
			if !strings.Contains(name, ".") && !strings.HasPrefix(name, "auth:") {
				if arg, ok := params[name]; ok {
					return arg, nil
				}
			}
		}
		return c.substitute(t, params)
	case map[string]any:
		return c.substituteMap(t, params)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			expanded, err := c.substituteValue(item, params)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}

// validateAgainstSchema enforces required arguments and performs limited
// string->int/number/bool coercion per spec §4.11. Unknown properties fail
// unless the schema declares additionalProperties: true.
func validateAgainstSchema(params map[string]any, schema map[string]any) error {
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]any)
	required, _ := schema["required"].([]any)
	allowUnknown, _ := schema["additionalProperties"].(bool)

	for _, r := range required {
		name, _ := r.(string)
		if _, ok := params[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}

	if !allowUnknown && props != nil {
		for name := range params {
			if _, ok := props[name]; !ok {
				return fmt.Errorf("unknown argument %q", name)
			}
		}
	}

	for name, raw := range props {
		propSchema, _ := raw.(map[string]any)
		if propSchema == nil {
			continue
		}
		wantType, _ := propSchema["type"].(string)
		val, ok := params[name]
		if !ok {
			continue
		}
		strVal, isString := val.(string)
		if !isString || wantType == "" || wantType == "string" {
			continue
		}
		switch wantType {
		case "integer":
			n, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("argument %q is not an integer", name)
			}
			params[name] = n
		case "number":
			n, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("argument %q is not a number", name)
			}
			params[name] = n
		case "boolean":
			b, err := strconv.ParseBool(strVal)
			if err != nil {
				return fmt.Errorf("argument %q is not a boolean", name)
			}
			params[name] = b
		}
	}
	return nil
}

// jsonPointer resolves a simplified JSON pointer ("/a/b/0") against decoded.
func jsonPointer(decoded any, pointer string) (any, error) {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return decoded, nil
	}
	cur := decoded
	for _, segment := range strings.Split(pointer, "/") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[segment]
			if !ok {
				return nil, fmt.Errorf("response_path segment %q not found", segment)
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("response_path segment %q is not a valid array index", segment)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("response_path segment %q has no container to descend into", segment)
		}
	}
	return cur, nil
}
