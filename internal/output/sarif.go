// # internal/output/sarif.go
package output

import (
	"encoding/json"
	"fmt"
	"sort"

	"vrdf/internal/engine/shapes"
	"vrdf/internal/shared/version"
)

// SARIF v2.1.0 schema: https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json

const (
	sarifSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
	sarifVersion = "2.1.0"
)

type sarifReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Rules   []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	ShortDescription sarifMessage           `json:"shortDescription"`
	DefaultConfig    sarifRuleDefaultConfig `json:"defaultConfiguration"`
}

type sarifRuleDefaultConfig struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation  `json:"physicalLocation"`
	LogicalLocations []sarifLogicalLocation `json:"logicalLocations,omitempty"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifLogicalLocation struct {
	Name               string `json:"name"`
	FullyQualifiedName string `json:"fullyQualifiedName"`
	Kind               string `json:"kind"`
}

// GenerateSARIF reports shape violations of one dataset version. Each shape
// becomes a rule; the focus node is the logical location and the dataset
// reference (e.g. bldg@4) is the artifact.
func GenerateSARIF(ref string, violations []shapes.Violation, prefixes map[string]string) ([]byte, error) {
	seen := make(map[string]bool)
	rules := make([]sarifRule, 0)
	results := make([]sarifResult, 0, len(violations))

	for _, v := range violations {
		if !seen[v.Shape] {
			seen[v.Shape] = true
			rules = append(rules, sarifRule{
				ID:               v.Shape,
				Name:             v.Shape,
				ShortDescription: sarifMessage{Text: fmt.Sprintf("Constraints of shape %s", v.Shape)},
				DefaultConfig:    sarifRuleDefaultConfig{Level: "error"},
			})
		}
		focus := label(v.Focus, prefixes)
		results = append(results, sarifResult{
			RuleID: v.Shape,
			Level:  "error",
			Message: sarifMessage{Text: fmt.Sprintf("%s %s: %s",
				focus, label(v.Path, prefixes), v.Message)},
			Locations: []sarifLocation{{
				PhysicalLocation: sarifPhysicalLocation{ArtifactLocation: sarifArtifactLocation{URI: ref}},
				LogicalLocations: []sarifLogicalLocation{{
					Name:               focus,
					FullyQualifiedName: v.Focus.String(),
					Kind:               "resource",
				}},
			}},
		})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	report := sarifReport{
		Schema:  sarifSchema,
		Version: sarifVersion,
		Runs: []sarifRun{{
			Tool: sarifTool{Driver: sarifDriver{
				Name:    "vrdf",
				Version: version.Version,
				Rules:   rules,
			}},
			Results: results,
		}},
	}
	return json.MarshalIndent(report, "", "  ")
}
