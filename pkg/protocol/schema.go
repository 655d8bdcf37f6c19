package protocol

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache memoizes compiled JSON Schemas by their source text so
// repeated validations against the same output_format rule don't recompile.
var (
	schemaCacheMu sync.Mutex
	schemaCache   = map[string]*jsonschema.Schema{}
)

// CompiledSchema compiles (and memoizes) the rule's Schema text, used when
// Format is "custom". Returns nil, nil if no schema is configured.
func (r *OutputFormatRule) CompiledSchema() (*jsonschema.Schema, error) {
	if r == nil || strings.TrimSpace(r.Schema) == "" {
		return nil, nil
	}

	schemaCacheMu.Lock()
	defer schemaCacheMu.Unlock()
	if s, ok := schemaCache[r.Schema]; ok {
		return s, nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("mem://output-format/%x.json", hashString(r.Schema))
	if err := c.AddResource(url, strings.NewReader(r.Schema)); err != nil {
		return nil, fmt.Errorf("output_format schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("output_format schema compile failed: %w", err)
	}
	schemaCache[r.Schema] = compiled
	return compiled, nil
}

func hashString(s string) uint64 {
	var h uint64 = 1469598103934665603 // FNV offset basis
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211 // FNV prime
	}
	return h
}
