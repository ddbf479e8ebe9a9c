package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/housing-sim/synthpop-cli/internal/model"
)

// LoadTables reads census table definitions from a YAML file. The file has
// a top-level "tables" key:
//
//	tables:
//	  - name: G01
//	    multi_response: false
//	    census_features: [Age_0_4_yr_P, Age_5_14_yr_P]
func LoadTables(path string) ([]model.TableConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrConfiguration, "read tables file %s: %v", path, err)
	}

	var wrapper struct {
		Tables []model.TableConfig `yaml:"tables"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(model.ErrConfiguration, "parse tables file %s: %v", path, err)
	}

	if len(wrapper.Tables) == 0 {
		return nil, eris.Wrapf(model.ErrConfiguration, "tables file %s defines no tables", path)
	}
	for _, t := range wrapper.Tables {
		if t.Name == "" {
			return nil, eris.Wrapf(model.ErrConfiguration, "tables file %s: table with empty name", path)
		}
		if len(t.FeatureColumns) == 0 {
			return nil, eris.Wrapf(model.ErrConfiguration, "tables file %s: table %s has no census_features", path, t.Name)
		}
	}

	return wrapper.Tables, nil
}
