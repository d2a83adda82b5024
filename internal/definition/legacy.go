// Legacy (type-keyed) definitions provide backward compatibility for
// workflows created without an explicit workflow_definition_id. They are
// first-class Definitions, loaded once at startup from embedded YAML and
// validated through the same Validate function as platform-owned
// definitions — never hardcoded Go literals, per SPEC_FULL.md §4.4.
package definition

import (
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/lyzr/orchestrator/internal/apperr"
)

//go:embed legacy_definitions.yaml
var legacyYAML []byte

// legacyDoc mirrors the embedded YAML's shape.
type legacyDoc struct {
	Definitions map[string][]legacyStageDoc `yaml:"definitions"`
}

type legacyStageDoc struct {
	Name       string `yaml:"name"`
	AgentType  string `yaml:"agent_type"`
	TimeoutMS  int64  `yaml:"timeout_ms"`
	MaxRetries int    `yaml:"max_retries"`
	OnSuccess  string `yaml:"on_success"`
	OnFailure  string `yaml:"on_failure"`
}

// LegacyTypes are the built-in workflow types spec.md §4.4 names, with
// their stage counts: app=8, feature=5, bugfix=3.
var LegacyTypes = []string{"app", "feature", "bugfix"}

// legacyDefinitionID deterministically derives a stable UUID for a legacy
// type so repeated boots reference the same definition identity.
func legacyDefinitionID(workflowType string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("legacy-definition:"+workflowType))
}

// LoadLegacyDefinitions parses the embedded legacy definitions and validates
// each one through Validate, exactly as any platform-owned definition would
// be. resolver may be nil to skip agent_type resolution (e.g. in tests that
// only exercise routing).
func LoadLegacyDefinitions(resolver AgentResolver) (map[string]*Definition, error) {
	var doc legacyDoc
	if err := yaml.Unmarshal(legacyYAML, &doc); err != nil {
		return nil, apperr.Fatal("LEGACY_DEFINITIONS_MALFORMED", "failed to parse embedded legacy definitions", err)
	}

	out := make(map[string]*Definition, len(doc.Definitions))
	for _, wfType := range LegacyTypes {
		stages, ok := doc.Definitions[wfType]
		if !ok {
			return nil, apperr.Fatal("LEGACY_DEFINITIONS_MISSING", fmt.Sprintf("embedded legacy definitions missing type %q", wfType), nil)
		}
		def := &Definition{
			ID:      legacyDefinitionID(wfType),
			Name:    "legacy-" + wfType,
			Version: "1.0.0",
			Stages:  make([]StageDefinition, 0, len(stages)),
		}
		for _, s := range stages {
			def.Stages = append(def.Stages, StageDefinition{
				Name:       s.Name,
				AgentType:  s.AgentType,
				TimeoutMS:  s.TimeoutMS,
				MaxRetries: s.MaxRetries,
				OnSuccess:  s.OnSuccess,
				OnFailure:  s.OnFailure,
			})
		}
		if err := Validate(def, resolver); err != nil {
			return nil, apperr.Fatal("LEGACY_DEFINITIONS_INVALID", fmt.Sprintf("embedded legacy definition %q failed validation", wfType), err)
		}
		out[wfType] = def
	}
	return out, nil
}
