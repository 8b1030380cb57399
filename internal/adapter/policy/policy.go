package policy

import (
	"encoding/json"
	"fmt"

	"github.com/guillermoBallester/agentproxy/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// File is the operator-controlled policy document, written in YAML or JSON.
//
//	tables:
//	  orders:
//	    allow_ops: [select, insert]
//	    required_filters:
//	      - tenant_id                 # shorthand for {column: tenant_id, operator: "="}
//	      - column: region
//	        operator: "="
//	    deny_columns: [card_number]
//	    condition: request.actor.startsWith("agent:billing")
type File struct {
	Tables map[string]TableRules `yaml:"tables" json:"tables"`
}

// TableRules holds the access rules for one table as written in the file.
type TableRules struct {
	AllowOps        []string     `yaml:"allow_ops" json:"allow_ops"`
	RequiredFilters []FilterRule `yaml:"required_filters" json:"required_filters"`
	DenyColumns     []string     `yaml:"deny_columns" json:"deny_columns"`
	Condition       string       `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// FilterRule is one required filter. It accepts a plain column name or a
// {column, operator} mapping.
type FilterRule struct {
	Column   string `yaml:"column" json:"column"`
	Operator string `yaml:"operator" json:"operator"`
}

func (f *FilterRule) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		f.Column = value.Value
		return nil
	}
	type alias FilterRule
	var a alias
	if err := value.Decode(&a); err != nil {
		return fmt.Errorf("decoding required filter: %w", err)
	}
	*f = FilterRule(a)
	return nil
}

func (f *FilterRule) UnmarshalJSON(data []byte) error {
	var column string
	if err := json.Unmarshal(data, &column); err == nil {
		f.Column = column
		return nil
	}
	type alias FilterRule
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("decoding required filter: %w", err)
	}
	*f = FilterRule(a)
	return nil
}

// Compile validates the document and converts it into the immutable policy
// used by the rule evaluator. CEL conditions are compiled here so a broken
// expression fails at startup rather than on the first matching request.
func (f *File) Compile() (*domain.PolicyConfig, error) {
	cfg := &domain.PolicyConfig{Tables: make(map[string]domain.TablePolicy, len(f.Tables))}

	for name, rules := range f.Tables {
		if name == "" {
			return nil, fmt.Errorf("%w: tables contains an empty key", ErrPolicyInvalid)
		}

		var tp domain.TablePolicy
		for _, raw := range rules.AllowOps {
			op, err := domain.ParseOperation(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: tables[%q].allow_ops: %w", ErrPolicyInvalid, name, err)
			}
			tp.AllowOps = append(tp.AllowOps, op)
		}

		for i, fr := range rules.RequiredFilters {
			if fr.Column == "" {
				return nil, fmt.Errorf("%w: tables[%q].required_filters[%d]: column is required", ErrPolicyInvalid, name, i)
			}
			if fr.Operator == "" {
				fr.Operator = domain.DefaultFilterOperator
			}
			tp.RequiredFilters = append(tp.RequiredFilters, domain.RequiredFilter{Column: fr.Column, Operator: fr.Operator})
		}

		for i, col := range rules.DenyColumns {
			if col == "" {
				return nil, fmt.Errorf("%w: tables[%q].deny_columns[%d] is empty", ErrPolicyInvalid, name, i)
			}
		}
		tp.DenyColumns = append([]string(nil), rules.DenyColumns...)

		if rules.Condition != "" {
			cond, err := domain.NewCondition(rules.Condition)
			if err != nil {
				return nil, fmt.Errorf("%w: tables[%q].condition: %w", ErrPolicyInvalid, name, err)
			}
			tp.Condition = cond
		}

		cfg.Tables[name] = tp
	}

	return cfg, nil
}
