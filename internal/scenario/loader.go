package scenario

import (
	"errors"
	"fmt"
	"os"

	apiscenario "github.com/tiger/intersection-signal-sim/api/scenario"
)

// ErrInvalidScenario marks malformed or incomplete scenario input.
var ErrInvalidScenario = errors.New("invalid scenario")

// LoadScenario reads and validates the scenario document at path.
func LoadScenario(path string) (apiscenario.Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return apiscenario.Scenario{}, fmt.Errorf("read scenario %s: %w", path, err)
	}
	s, err := DecodeScenario(raw)
	if err != nil {
		return apiscenario.Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// DecodeScenario validates raw against the scenario schema, decodes it
// strictly and checks the typed invariants.
func DecodeScenario(raw []byte) (apiscenario.Scenario, error) {
	schema, _, err := compiledSchemas()
	if err != nil {
		return apiscenario.Scenario{}, err
	}
	if err := validateAgainstSchema(schema, raw); err != nil {
		return apiscenario.Scenario{}, fmt.Errorf("%w: schema: %v", ErrInvalidScenario, err)
	}
	var s apiscenario.Scenario
	if err := strictUnmarshal(raw, &s); err != nil {
		return apiscenario.Scenario{}, fmt.Errorf("%w: decode: %v", ErrInvalidScenario, err)
	}
	if err := s.Validate(); err != nil {
		return apiscenario.Scenario{}, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	return s, nil
}
