package policy

import (
	"context"

	"github.com/guillermoBallester/agentproxy/internal/core/domain"
	"github.com/guillermoBallester/agentproxy/internal/core/port"
)

// PolicyDescriber decorates a SchemaDescriber with the table policies, so an
// agent can see which operations and columns are off limits before it writes
// a statement.
type PolicyDescriber struct {
	inner  port.SchemaDescriber
	policy *domain.PolicyConfig
}

func NewPolicyDescriber(inner port.SchemaDescriber, pol *domain.PolicyConfig) *PolicyDescriber {
	return &PolicyDescriber{inner: inner, policy: pol}
}

func (p *PolicyDescriber) DescribeSchema(ctx context.Context) ([]port.TableSchema, error) {
	tables, err := p.inner.DescribeSchema(ctx)
	if err != nil {
		return nil, err
	}
	AnnotateSchema(tables, p.policy)
	return tables, nil
}
