package rules

import (
	"github.com/pkg/errors"
	commonmodel "github.com/prometheus/common/model"
	yaml "gopkg.in/yaml.v2"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
)

// Config is the YAML shape a RuleSet is loaded from. ReloadInterval is
// parsed with prometheus/common/model.ParseDuration, matching the duration
// fields in the teacher's rule-group YAML.
type Config struct {
	ReloadInterval string      `yaml:"reload_interval,omitempty"`
	DropNames      []string    `yaml:"drop_names,omitempty"`
	DropPrefixes   []string    `yaml:"drop_prefixes,omitempty"`
	DropNameRegex  []string    `yaml:"drop_name_regex,omitempty"`
	DropLabels     []DropLabel `yaml:"drop_labels,omitempty"`
	DropSelectors  []string    `yaml:"drop_selectors,omitempty"`
}

// DropLabel is a single (label_name, value) drop rule in YAML form.
type DropLabel struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
	Regex bool   `yaml:"regex,omitempty"`
}

// ParseReloadInterval parses c.ReloadInterval, returning zero if unset.
func (c Config) ParseReloadInterval() (commonmodel.Duration, error) {
	if c.ReloadInterval == "" {
		return 0, nil
	}
	d, err := commonmodel.ParseDuration(c.ReloadInterval)
	if err != nil {
		return 0, errors.Wrap(err, "rules: parse reload_interval")
	}
	return d, nil
}

// LoadConfig decodes raw YAML into a Config, round-tripping it through a
// marshal/unmarshal cycle to catch anything the decoder let through loosely
// typed, mirroring the teacher's rule-group validation idiom
// (pkg/rules.FromAPIRules).
func LoadConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "rules: unmarshal config")
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return Config{}, errors.Wrap(err, "rules: marshal config for validation")
	}
	var validate Config
	if err := yaml.Unmarshal(b, &validate); err != nil {
		return Config{}, errors.Wrap(err, "rules: validate config")
	}
	if _, err := cfg.ParseReloadInterval(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Apply installs every rule named in cfg onto m.
func (m *Manager) Apply(cfg Config) error {
	for _, n := range cfg.DropNames {
		m.DropName(n)
	}
	for _, p := range cfg.DropPrefixes {
		m.DropPrefix(p)
	}
	for _, p := range cfg.DropNameRegex {
		if err := m.DropNameRegex(p); err != nil {
			return err
		}
	}
	for _, l := range cfg.DropLabels {
		kind := model.MatchEqual
		if l.Regex {
			kind = model.MatchRegex
		}
		if err := m.DropLabel(kind, l.Name, l.Value); err != nil {
			return err
		}
	}
	for _, s := range cfg.DropSelectors {
		if err := m.DropSelector(s); err != nil {
			return err
		}
	}
	return nil
}
