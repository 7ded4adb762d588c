package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON returns the config document as JSON so both formats go through the
// same strict decoder. The format comes from the extension; a file without
// one is sniffed (a leading '{' means JSON). An empty document is "{}".
func toJSON(path string, data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []byte("{}"), nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return data, nil
	case ".yaml", ".yml":
	default:
		if trimmed[0] == '{' {
			return data, nil
		}
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	doc, err := stringKeys("", doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	j, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: yaml to json: %w", filepath.Base(path), err)
	}
	return j, nil
}

// stringKeys rejects non-string mapping keys (every config key is a name)
// and reports where the offending key sits, e.g. "delivery.5".
func stringKeys(at string, in any) (any, error) {
	join := func(k string) string {
		if at == "" {
			return k
		}
		return at + "." + k
	}
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			nv, err := stringKeys(join(k), v)
			if err != nil {
				return nil, err
			}
			x[k] = nv
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%s: key must be a name, got %v", join(fmt.Sprint(k)), k)
			}
			nv, err := stringKeys(join(ks), v)
			if err != nil {
				return nil, err
			}
			m[ks] = nv
		}
		return m, nil
	case []any:
		for i := range x {
			nv, err := stringKeys(fmt.Sprintf("%s[%d]", at, i), x[i])
			if err != nil {
				return nil, err
			}
			x[i] = nv
		}
		return x, nil
	default:
		return in, nil
	}
}
