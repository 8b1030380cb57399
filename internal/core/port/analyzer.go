package port

import "github.com/guillermoBallester/agentproxy/internal/core/domain"

// StatementAnalyzer parses and classifies a single SQL statement.
type StatementAnalyzer interface {
	Analyze(sql string) (*domain.ParsedQuery, error)
}

// PolicyEvaluator decides whether an analyzed statement may run under a policy.
type PolicyEvaluator interface {
	Evaluate(req domain.SQLRequest, parsed *domain.ParsedQuery, policy *domain.PolicyConfig) error
}
