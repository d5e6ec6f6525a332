package registry

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/model"
)

// LoadMappingsFromFile reads a JSON array of field mappings from the given
// path, for deployments that keep mappings in version control instead of
// Notion. Rows come back ordered by position.
func LoadMappingsFromFile(path string) ([]model.FieldMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read mappings file")
	}

	var mappings []model.FieldMapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal mappings file")
	}

	for _, m := range mappings {
		if m.InternalField == "" || m.ExternalField == "" {
			return nil, eris.Errorf("registry: mapping %q missing internal or external field", m.ID)
		}
	}

	sort.SliceStable(mappings, func(i, j int) bool {
		return mappings[i].Position < mappings[j].Position
	})
	return mappings, nil
}
