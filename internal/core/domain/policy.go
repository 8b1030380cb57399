package domain

import (
	"fmt"
	"strings"
)

// Operation is the closed set of statement kinds the pipeline can approve.
type Operation string

const (
	OpSelect Operation = "select"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ParseOperation accepts an operation name in any case.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	switch op {
	case OpSelect, OpInsert, OpUpdate, OpDelete:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q (allowed: select, insert, update, delete)", s)
}

// IsMutation reports whether the operation changes existing rows.
func (o Operation) IsMutation() bool {
	return o == OpUpdate || o == OpDelete
}

// DefaultFilterOperator is used when a required filter omits its operator.
const DefaultFilterOperator = "="

// RequiredFilter names a column that must be constrained in every statement
// touching the table. Operator is informational; presence is what is checked.
type RequiredFilter struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
}

// TablePolicy holds the access rules for one table.
type TablePolicy struct {
	AllowOps        []Operation      `json:"allow_ops"`
	RequiredFilters []RequiredFilter `json:"required_filters"`
	DenyColumns     []string         `json:"deny_columns"`
	Condition       *Condition       `json:"condition,omitempty"`
}

// Allows reports whether op passes the allow_ops rule. An empty list allows everything.
func (p TablePolicy) Allows(op Operation) bool {
	if len(p.AllowOps) == 0 {
		return true
	}
	for _, allowed := range p.AllowOps {
		if allowed == op {
			return true
		}
	}
	return false
}

// PolicyConfig maps table names to their policies. It is built once at
// startup and never mutated afterwards.
type PolicyConfig struct {
	Tables map[string]TablePolicy `json:"tables"`
}

// Lookup finds the policy for a table as the analyzer reported it. A
// qualified name that has no entry of its own falls back to its bare relation
// name, so "public.orders" is governed by a policy keyed "orders".
func (c *PolicyConfig) Lookup(table string) (TablePolicy, bool) {
	if c == nil || len(c.Tables) == 0 {
		return TablePolicy{}, false
	}
	if p, ok := c.Tables[table]; ok {
		return p, true
	}
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		p, ok := c.Tables[table[i+1:]]
		return p, ok
	}
	return TablePolicy{}, false
}
