package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tiger/intersection-signal-sim/api/rules"
	apiscenario "github.com/tiger/intersection-signal-sim/api/scenario"
)

// ErrInvalidRules marks a malformed signal policy configuration.
var ErrInvalidRules = errors.New("invalid traffic rules")

// LoadRules reads a policy configuration file. JSON and YAML are accepted;
// configuration order in the file is the round-robin order.
func LoadRules(path string) (rules.Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return rules.Rules{}, fmt.Errorf("read rules %s: %w", path, err)
	}
	var r rules.Rules
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		r, err = DecodeRulesYAML(raw)
	default:
		r, err = DecodeRulesJSON(raw)
	}
	if err != nil {
		return rules.Rules{}, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

type rulesDocument struct {
	TrafficRules         json.RawMessage           `json:"traffic_rules"`
	Categories           map[string]rules.Category `json:"categories,omitempty"`
	MovementDescriptions map[string]string         `json:"movement_descriptions,omitempty"`
}

// DecodeRulesJSON decodes the upstream traffic_configuration document.
func DecodeRulesJSON(raw []byte) (rules.Rules, error) {
	_, schema, err := compiledSchemas()
	if err != nil {
		return rules.Rules{}, err
	}
	if err := validateAgainstSchema(schema, raw); err != nil {
		return rules.Rules{}, fmt.Errorf("%w: schema: %v", ErrInvalidRules, err)
	}
	var doc rulesDocument
	if err := strictUnmarshal(raw, &doc); err != nil {
		return rules.Rules{}, fmt.Errorf("%w: decode: %v", ErrInvalidRules, err)
	}
	configs, err := orderedTemplatesJSON(doc.TrafficRules)
	if err != nil {
		return rules.Rules{}, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return finishRules(configs, doc.Categories, doc.MovementDescriptions)
}

func orderedTemplatesJSON(raw json.RawMessage) ([]rules.Configuration, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("traffic_rules: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("traffic_rules must be an object")
	}
	var configs []rules.Configuration
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("traffic_rules: %w", err)
		}
		name, _ := keyTok.(string)
		var signal map[string]apiscenario.Light
		if err := dec.Decode(&signal); err != nil {
			return nil, fmt.Errorf("traffic_rules.%s: %w", name, err)
		}
		configs = append(configs, rules.Configuration{Name: name, Signal: signal})
	}
	return configs, nil
}

type yamlRulesDocument struct {
	TrafficRules         yaml.Node                 `yaml:"traffic_rules"`
	Categories           map[string]rules.Category `yaml:"categories"`
	MovementDescriptions map[string]string         `yaml:"movement_descriptions"`
}

// DecodeRulesYAML decodes the YAML form of the policy configuration.
func DecodeRulesYAML(raw []byte) (rules.Rules, error) {
	var doc yamlRulesDocument
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return rules.Rules{}, fmt.Errorf("%w: decode: %v", ErrInvalidRules, err)
	}
	if doc.TrafficRules.Kind != yaml.MappingNode {
		return rules.Rules{}, fmt.Errorf("%w: traffic_rules must be a mapping", ErrInvalidRules)
	}
	content := doc.TrafficRules.Content
	configs := make([]rules.Configuration, 0, len(content)/2)
	for i := 0; i+1 < len(content); i += 2 {
		name := content[i].Value
		var signal map[string]apiscenario.Light
		if err := content[i+1].Decode(&signal); err != nil {
			return rules.Rules{}, fmt.Errorf("%w: traffic_rules.%s: %v", ErrInvalidRules, name, err)
		}
		configs = append(configs, rules.Configuration{Name: name, Signal: signal})
	}
	return finishRules(configs, doc.Categories, doc.MovementDescriptions)
}

func finishRules(configs []rules.Configuration, categories map[string]rules.Category, descriptions map[string]string) (rules.Rules, error) {
	for name := range categories {
		found := false
		for i := range configs {
			if configs[i].Name == name {
				configs[i].Category = categories[name]
				found = true
			}
		}
		if !found {
			return rules.Rules{}, fmt.Errorf("%w: category for unknown configuration %s", ErrInvalidRules, name)
		}
	}
	r := rules.Rules{Configurations: configs, MovementDescriptions: descriptions}
	if err := r.Validate(); err != nil {
		return rules.Rules{}, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return r, nil
}
