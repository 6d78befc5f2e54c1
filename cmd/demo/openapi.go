// SPDX-License-Identifier: MIT

package main

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/oasdiff/yaml"
)

//go:embed openapi.yaml
var openapiYAML []byte

// loadOpenAPI validates the embedded document at startup with kin-openapi
// (catching a malformed spec before the server ever accepts traffic) and
// separately decodes it with oasdiff/yaml into a generic document so the
// /swagger endpoint can serve it as JSON without a second embedded copy.
func loadOpenAPI() (*openapi3.T, map[string]any, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiYAML)
	if err != nil {
		return nil, nil, fmt.Errorf("openapi: parse: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, nil, fmt.Errorf("openapi: validate: %w", err)
	}

	var generic map[string]any
	if err := yaml.Unmarshal(openapiYAML, &generic); err != nil {
		return nil, nil, fmt.Errorf("openapi: decode for JSON serving: %w", err)
	}

	return doc, generic, nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}
