package workspace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// UnprotectState clears "protect" on the resources of an exported deployment.
// A target matches a resource URN exactly or its trailing name segment; no
// targets matches every resource. changed is false when nothing was protected.
func UnprotectState(doc json.RawMessage, targets []string) (out json.RawMessage, changed bool, err error) {
	var root map[string]any
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return nil, false, fmt.Errorf("failed to parse stack state: %w", err)
	}

	deployment, _ := root["deployment"].(map[string]any)
	if deployment == nil {
		return doc, false, nil
	}
	resources, _ := deployment["resources"].([]any)

	for _, r := range resources {
		res, ok := r.(map[string]any)
		if !ok {
			continue
		}
		urn, _ := res["urn"].(string)
		if !matchesTarget(urn, targets) {
			continue
		}
		if protected, _ := res["protect"].(bool); protected {
			res["protect"] = false
			changed = true
		}
	}
	if !changed {
		return doc, false, nil
	}

	out, err = json.Marshal(root)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode stack state: %w", err)
	}
	return out, true, nil
}

func matchesTarget(urn string, targets []string) bool {
	if len(targets) == 0 {
		return true
	}
	name := urn
	if i := strings.LastIndex(urn, "::"); i >= 0 {
		name = urn[i+2:]
	}
	for _, t := range targets {
		if t == urn || t == name {
			return true
		}
	}
	return false
}
