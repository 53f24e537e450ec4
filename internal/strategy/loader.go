package strategy

import (
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/seenimoa/backtrail/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Parse decodes a strategy definition from JSON and validates it.
func Parse(data []byte) (*models.Strategy, error) {
	var s models.Strategy
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, models.NewValidationError("strategy JSON: %v", err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and parses a strategy definition file.
func Load(path string) (*models.Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Marshal serializes a strategy back to JSON.
func Marshal(s *models.Strategy) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
