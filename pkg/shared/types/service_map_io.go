package types

import (
	"encoding/json"
	"os"
)

// LoadServiceMap reads and decodes the Architect's service_map.json
// artifact from path (spec.md §2 data flow, §4.5 phase 1's service-map
// input). Shared by the pipeline engine and the Graph RAG source-data
// loader so both read the identical artifact the same way.
func LoadServiceMap(path string) (ServiceMap, error) {
	var sm ServiceMap
	raw, err := os.ReadFile(path)
	if err != nil {
		return sm, err
	}
	if err := json.Unmarshal(raw, &sm); err != nil {
		return sm, err
	}
	return sm, nil
}
