package config

import (
	"gopkg.in/yaml.v3"

	"github.com/zsyeh/coursepilot/internal/update"
)

// Migrate upgrades a raw configuration document written by version from to
// the current layout. It is pure: doc is not modified, the result is a new
// document holding the defaults overlaid with the surviving old keys.
//
// Rules:
//   - before 1.0.1 the qr_extra block had a different shape and is dropped
//   - before 1.3.0 push settings lived under "push" and move to "pushplus"
func Migrate(doc map[string]any, from string) map[string]any {
	old := make(map[string]any, len(doc))
	for k, v := range doc {
		old[k] = v
	}

	out := defaultDocument()

	if update.Compare(from, "1.0.1") < 0 {
		delete(old, "qr_extra")
	}
	if update.Compare(from, "1.3.0") < 0 {
		if push, ok := old["push"].(map[string]any); ok {
			merged := map[string]any{}
			if def, ok := out["pushplus"].(map[string]any); ok {
				for k, v := range def {
					merged[k] = v
				}
			}
			for k, v := range push {
				merged[k] = v
			}
			out["pushplus"] = merged
		}
		delete(old, "push")
	}

	delete(old, "config_version")
	for k, v := range old {
		out[k] = v
	}
	out["config_version"] = CurrentVersion
	return out
}

// defaultDocument renders DefaultConfig as a generic document.
func defaultDocument() map[string]any {
	raw, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return map[string]any{}
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return map[string]any{}
	}
	return doc
}
