package domain

import (
	"fmt"
	"strings"
)

// DefaultTenantColumn is the identifier a statement must mention to count as tenant-scoped.
const DefaultTenantColumn = "tenant_id"

// RuleEvaluator applies the global safety rules and the per-table policy to
// an analyzed statement. It is stateless apart from its configuration and
// safe for concurrent use.
//
// Filter and column presence is decided by literal substring containment in
// the statement text, not by inspecting the predicate tree. An identifier in
// a string literal or an unrelated clause therefore satisfies a required
// filter, and filters expressed through joins or subqueries are not told
// apart from real ones.
type RuleEvaluator struct {
	tenantColumn string
}

func NewRuleEvaluator(tenantColumn string) *RuleEvaluator {
	if tenantColumn == "" {
		tenantColumn = DefaultTenantColumn
	}
	return &RuleEvaluator{tenantColumn: tenantColumn}
}

// Evaluate runs the global rules, then the table policies. The first
// violation found is returned.
func (e *RuleEvaluator) Evaluate(req SQLRequest, parsed *ParsedQuery, policy *PolicyConfig) error {
	if err := e.EnforceRules(req, parsed); err != nil {
		return err
	}
	return e.EnforcePolicy(req, parsed, policy)
}

// EnforceRules applies the rules that hold regardless of policy configuration.
func (e *RuleEvaluator) EnforceRules(req SQLRequest, parsed *ParsedQuery) error {
	if parsed.Operation.IsMutation() && !parsed.HasWhere {
		return &Violation{Rule: ErrMissingWhereClause}
	}

	if len(parsed.Tables) > 0 &&
		req.Context.TenantID != TenantWildcard &&
		!strings.Contains(req.SQL, e.tenantColumn) {
		return &Violation{
			Rule:   ErrMissingTenantFilter,
			Detail: e.tenantColumn + " must be enforced",
		}
	}

	return nil
}

// EnforcePolicy checks every referenced table, in analyzer order, against its policy.
func (e *RuleEvaluator) EnforcePolicy(req SQLRequest, parsed *ParsedQuery, policy *PolicyConfig) error {
	for _, table := range parsed.Tables {
		tp, ok := policy.Lookup(table)
		if !ok {
			continue
		}
		if err := e.checkTable(req, parsed, table, tp); err != nil {
			return err
		}
	}
	return nil
}

func (e *RuleEvaluator) checkTable(req SQLRequest, parsed *ParsedQuery, table string, tp TablePolicy) error {
	if !tp.Allows(parsed.Operation) {
		return &Violation{
			Rule:   ErrOperationNotAllowed,
			Table:  table,
			Detail: fmt.Sprintf("%q", parsed.Operation),
		}
	}

	for _, f := range tp.RequiredFilters {
		if !strings.Contains(req.SQL, f.Column) {
			return &Violation{
				Rule:   ErrRequiredFilterMissing,
				Table:  table,
				Detail: fmt.Sprintf("column %q", f.Column),
			}
		}
	}

	for _, col := range tp.DenyColumns {
		if strings.Contains(req.SQL, col) {
			return &Violation{
				Rule:   ErrDeniedColumn,
				Table:  table,
				Detail: fmt.Sprintf("column %q", col),
			}
		}
	}

	if tp.Condition != nil {
		ok, err := tp.Condition.Eval(map[string]string{
			"actor":     req.Context.Actor,
			"tenant_id": req.Context.TenantID,
			"operation": string(parsed.Operation),
			"table":     table,
		})
		if err != nil {
			// Fail closed.
			return &Violation{Rule: ErrConditionNotMet, Table: table, Detail: err.Error()}
		}
		if !ok {
			return &Violation{Rule: ErrConditionNotMet, Table: table, Detail: tp.Condition.String()}
		}
	}

	return nil
}
