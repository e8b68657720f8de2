package config

import (
	"encoding/json"
	"os"
)

// getImages parses MICRO_IMAGES, a JSON array of MicroImageConfig, into a
// name-keyed map. A missing or empty variable yields no configured images,
// which is valid (micro-VM start requests simply have nothing to match).
func getImages(verr *ValidationError) map[string]MicroImageConfig {
	raw := os.Getenv("MICRO_IMAGES")
	if raw == "" {
		return map[string]MicroImageConfig{}
	}

	var list []MicroImageConfig
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		verr.Invalid = append(verr.Invalid, "MICRO_IMAGES must be a JSON array of {name,command,args,extension,env}")
		return map[string]MicroImageConfig{}
	}

	images := make(map[string]MicroImageConfig, len(list))
	for _, img := range list {
		if img.Name == "" || img.Command == "" {
			verr.Invalid = append(verr.Invalid, "MICRO_IMAGES entries require name and command")
			continue
		}
		images[img.Name] = img
	}
	return images
}
