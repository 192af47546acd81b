package proposal

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coverage-intel/internal/model"
)

// Dataset resolves test ids against the canonical test database.
// *registry.Registry and *JSONDataset both satisfy it.
type Dataset interface {
	LookupTest(id string) (model.TestRecord, bool)
}

// JSONDataset is a canonical dataset export: a JSON array of test records,
// or an object with the array under "tests".
type JSONDataset struct {
	tests map[string]model.TestRecord
}

// LoadDataset reads a dataset export from path.
func LoadDataset(path string) (*JSONDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "proposal: read dataset %s", path)
	}
	ds, err := ParseDataset(data)
	return ds, eris.Wrapf(err, "proposal: dataset %s", path)
}

// ParseDataset decodes a dataset export.
func ParseDataset(data []byte) (*JSONDataset, error) {
	var records []model.TestRecord
	if err := json.Unmarshal(data, &records); err != nil {
		var wrapped struct {
			Tests []model.TestRecord `json:"tests"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, eris.Wrap(err, "proposal: parse dataset")
		}
		records = wrapped.Tests
	}

	ds := &JSONDataset{tests: make(map[string]model.TestRecord, len(records))}
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		ds.tests[r.ID] = r
	}
	return ds, nil
}

// LookupTest returns the record with id.
func (d *JSONDataset) LookupTest(id string) (model.TestRecord, bool) {
	r, ok := d.tests[id]
	return r, ok
}

// Len returns the number of records.
func (d *JSONDataset) Len() int { return len(d.tests) }
