// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/transport"
)

// openAPISpec is the subset of an OpenAPI 3.0/3.1 (or Swagger 2.0) document
// the converter needs: enough to turn every operation into a capability
// Definition, nothing more.
type openAPISpec struct {
	OpenAPI    string                                  `yaml:"openapi" json:"openapi"`
	Swagger    string                                  `yaml:"swagger" json:"swagger"`
	Info       openAPIInfo                             `yaml:"info" json:"info"`
	Servers    []openAPIServer                         `yaml:"servers" json:"servers"`
	Paths      map[string]map[string]openAPIOperation  `yaml:"paths" json:"paths"`
	Components openAPIComponents                       `yaml:"components" json:"components"`
}

type openAPIInfo struct {
	Title string `yaml:"title" json:"title"`
}

type openAPIServer struct {
	URL string `yaml:"url" json:"url"`
}

type openAPIComponents struct {
	SecuritySchemes map[string]any `yaml:"securitySchemes" json:"securitySchemes"`
}

type openAPIOperation struct {
	OperationID string                         `yaml:"operationId" json:"operationId"`
	Summary     string                         `yaml:"summary" json:"summary"`
	Description string                         `yaml:"description" json:"description"`
	Parameters  []openAPIParameter             `yaml:"parameters" json:"parameters"`
	RequestBody *openAPIRequestBody            `yaml:"requestBody" json:"requestBody"`
	Responses   map[string]openAPIResponse    `yaml:"responses" json:"responses"`
}

type openAPIParameter struct {
	Name        string         `yaml:"name" json:"name"`
	In          string         `yaml:"in" json:"in"`
	Required    bool           `yaml:"required" json:"required"`
	Description string         `yaml:"description" json:"description"`
	Schema      map[string]any `yaml:"schema" json:"schema"`
}

type openAPIRequestBody struct {
	Content map[string]openAPIMediaType `yaml:"content" json:"content"`
}

type openAPIMediaType struct {
	Schema map[string]any `yaml:"schema" json:"schema"`
}

type openAPIResponse struct {
	Content map[string]openAPIMediaType `yaml:"content" json:"content"`
}

// AuthTemplate fills in the auth section of every capability the converter
// generates for a spec whose components.securitySchemes is non-empty.
type AuthTemplate struct {
	Type string
	Key  string
}

// OpenAPIConverter turns an OpenAPI 3.0/3.1 document into one capability
// Definition per operation, the same shape LoadFile produces from a YAML
// file on disk (spec §4.11 extension: generate capabilities instead of
// hand-writing them).
type OpenAPIConverter struct {
	prefix string
	auth   *AuthTemplate
}

// NewOpenAPIConverter builds a converter with no name prefix and no default
// auth template.
func NewOpenAPIConverter() OpenAPIConverter { return OpenAPIConverter{} }

// WithPrefix names every generated capability "<prefix>_<operation>".
func (c OpenAPIConverter) WithPrefix(prefix string) OpenAPIConverter {
	c.prefix = prefix
	return c
}

// WithDefaultAuth fills in the auth section of capabilities generated from a
// spec that declares security schemes.
func (c OpenAPIConverter) WithDefaultAuth(auth AuthTemplate) OpenAPIConverter {
	c.auth = &auth
	return c
}

// Convert parses an OpenAPI document (YAML or JSON) and returns one
// Definition per operation. Only a document that cannot be parsed is an
// error; every operation under every path yields a Definition, with
// fallbacks for a missing operationId, summary, or parameter schema.
func (c OpenAPIConverter) Convert(content []byte) ([]Definition, error) {
	spec, err := parseOpenAPISpec(content)
	if err != nil {
		return nil, err
	}

	baseURL := "https://api.example.com"
	if len(spec.Servers) > 0 && spec.Servers[0].URL != "" {
		baseURL = spec.Servers[0].URL
	}
	authRequired := len(spec.Components.SecuritySchemes) > 0

	var out []Definition
	for path, methods := range spec.Paths {
		for method, op := range methods {
			def := c.convertOperation(baseURL, path, method, op, authRequired)
			out = append(out, def)
		}
	}
	return out, nil
}

func parseOpenAPISpec(content []byte) (openAPISpec, error) {
	var spec openAPISpec
	if err := yaml.Unmarshal(content, &spec); err == nil && len(spec.Paths) > 0 {
		return spec, nil
	}
	if err := json.Unmarshal(content, &spec); err != nil {
		return openAPISpec{}, fmt.Errorf("parse OpenAPI spec: %w", err)
	}
	return spec, nil
}

func (c OpenAPIConverter) convertOperation(baseURL, path, method string, op openAPIOperation, authRequired bool) Definition {
	name := op.OperationID
	if name == "" {
		name = method + "_" + path
	}
	name = c.formatName(name)

	description := op.Summary
	if description == "" {
		description = op.Description
	}
	if description == "" {
		description = strings.ToUpper(method) + " " + path
	}

	headers := map[string]string{}
	staticParams := map[string]string{}
	properties := map[string]any{}
	required := []string{}

	for _, p := range op.Parameters {
		schema := p.Schema
		if schema == nil {
			schema = map[string]any{"type": "string"}
		}
		if p.Description != "" {
			schema["description"] = p.Description
		}
		properties[p.Name] = schema
		if p.Required {
			required = append(required, p.Name)
		}

		switch p.In {
		case "header":
			headers[p.Name] = "{" + p.Name + "}"
		case "query":
			staticParams[p.Name] = "{" + p.Name + "}"
		}
	}

	var body map[string]any
	if op.RequestBody != nil {
		if media, ok := op.RequestBody.Content["application/json"]; ok && media.Schema != nil {
			if bodyProps, ok := media.Schema["properties"].(map[string]any); ok {
				body = map[string]any{}
				for k := range bodyProps {
					body[k] = "{" + k + "}"
					properties[k] = bodyProps[k]
				}
			}
		}
	}

	inputSchema := map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}

	def := transport.CapabilityDef{
		Name:         name,
		BaseURL:      baseURL,
		PathTemplate: path,
		Method:       strings.ToUpper(method),
		Headers:      headers,
		StaticParams: staticParams,
		BodyTemplate: body,
		InputSchema:  inputSchema,
	}

	if authRequired {
		authType, authKey := "bearer", "env:API_TOKEN"
		if c.auth != nil {
			authType, authKey = c.auth.Type, c.auth.Key
		}
		if def.Headers == nil {
			def.Headers = map[string]string{}
		}
		def.Headers["Authorization"] = authType + " {" + authKey + "}"
	}

	return Definition{Description: description, Def: def}
}

// WriteFile writes def as a capability YAML file named "<name>.yaml" under
// dir, creating dir if it does not already exist.
func WriteFile(def Definition, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create capability dir %s: %w", dir, err)
	}

	raw := yamlCapability{
		Name:         def.Def.Name,
		Description:  def.Description,
		BaseURL:      def.Def.BaseURL,
		Path:         def.Def.PathTemplate,
		Method:       def.Def.Method,
		Headers:      def.Def.Headers,
		StaticParams: def.Def.StaticParams,
		Body:         def.Def.BodyTemplate,
		ResponsePath: def.Def.ResponsePath,
		InputSchema:  def.Def.InputSchema,
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("marshal capability %s: %w", def.Def.Name, err)
	}

	path := filepath.Join(dir, def.Def.Name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write capability file %s: %w", path, err)
	}
	return path, nil
}

// formatName lowercases raw, replaces every run of non-alphanumeric
// characters with a single underscore, trims leading/trailing underscores,
// and applies the converter's prefix if set.
func (c OpenAPIConverter) formatName(raw string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
		}
		prevUnderscore = true
	}
	name := strings.Trim(b.String(), "_")

	if c.prefix != "" {
		return c.prefix + "_" + name
	}
	return name
}
