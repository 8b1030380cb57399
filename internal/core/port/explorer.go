package port

import (
	"context"

	"github.com/guillermoBallester/agentproxy/internal/core/domain"
)

type ColumnSchema struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
	Denied     bool   `json:"denied,omitempty"`
}

// TableSchema describes one table of the backing store. Policy is filled in
// by the service when a table policy governs the table.
type TableSchema struct {
	Schema  string              `json:"schema,omitempty"`
	Name    string              `json:"name"`
	Columns []ColumnSchema      `json:"columns"`
	Policy  *domain.TablePolicy `json:"policy,omitempty"`
}

// QualifiedName returns schema.name, or name when the schema is empty.
func (t TableSchema) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// SchemaDescriber lists the tables an execution adapter can reach.
type SchemaDescriber interface {
	DescribeSchema(ctx context.Context) ([]TableSchema, error)
}
