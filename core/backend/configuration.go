// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"bytes"
	"fmt"

	"github.com/casbin/casbin/v3"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/resquery/core/access"
	"github.com/relabs-tech/resquery/core/query"
	"github.com/relabs-tech/resquery/core/schema"
)

// Configuration holds a complete query service configuration
type Configuration struct {
	MaxPaginationLimit int                        `json:"max_pagination_limit,omitempty" yaml:"max_pagination_limit,omitempty"`
	DefaultPageSize    int                        `json:"default_page_size,omitempty" yaml:"default_page_size,omitempty"`
	StrictDates        bool                       `json:"strict_dates,omitempty" yaml:"strict_dates,omitempty"`
	Resources          []query.ResourceDefinition `json:"resources" yaml:"resources"`
	Policies           []access.Policy            `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// ParseConfiguration parses a JSON or YAML configuration and validates it
// against the configuration schema. Documents starting with '{' are JSON.
func ParseConfiguration(data []byte) (*Configuration, error) {
	var config Configuration
	validator := schema.Default()

	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		if err := validator.ValidateBytes(trimmed, schema.ConfigurationID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(trimmed, &config); err != nil {
			return nil, fmt.Errorf("parse error in configuration: %w", err)
		}
		return &config, nil
	}

	var document interface{}
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("parse error in configuration: %w", err)
	}
	if document == nil {
		document = map[string]interface{}{}
	}
	if err := validator.ValidateStruct(document, schema.ConfigurationID); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse error in configuration: %w", err)
	}
	return &config, nil
}

// Settings returns base with the settings of the configuration applied
func (c *Configuration) Settings(base query.Settings) query.Settings {
	if c.MaxPaginationLimit > 0 {
		base.MaxPaginationLimit = c.MaxPaginationLimit
	}
	if c.DefaultPageSize > 0 {
		base.DefaultPageSize = c.DefaultPageSize
	}
	if c.StrictDates {
		base.StrictDates = true
	}
	return base.WithDefaults()
}

// Enforcer returns a casbin enforcer with the policies of the configuration,
// or nil if there are none
func (c *Configuration) Enforcer() (*casbin.Enforcer, error) {
	if len(c.Policies) == 0 {
		return nil, nil
	}
	return access.NewEnforcer(c.Policies)
}
