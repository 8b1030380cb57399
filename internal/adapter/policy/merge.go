package policy

import (
	"slices"

	"github.com/guillermoBallester/agentproxy/internal/core/domain"
	"github.com/guillermoBallester/agentproxy/internal/core/port"
)

// AnnotateSchema attaches the governing table policy to each described table
// and flags denied columns. Tables are matched the same way the evaluator
// matches them: qualified name first, then the bare relation name.
func AnnotateSchema(tables []port.TableSchema, cfg *domain.PolicyConfig) {
	for i := range tables {
		tp, ok := cfg.Lookup(tables[i].QualifiedName())
		if !ok {
			continue
		}
		tables[i].Policy = &tp
		for j, col := range tables[i].Columns {
			if slices.Contains(tp.DenyColumns, col.Name) {
				tables[i].Columns[j].Denied = true
			}
		}
	}
}
