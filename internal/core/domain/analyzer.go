package domain

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// PgQueryAnalyzer classifies SQL statements using PostgreSQL's actual parser.
// Only SELECT, INSERT, UPDATE and DELETE are classified (whitelist approach);
// everything else is rejected.
type PgQueryAnalyzer struct{}

func NewPgQueryAnalyzer() *PgQueryAnalyzer {
	return &PgQueryAnalyzer{}
}

// Analyze parses sql, requires exactly one statement and classifies it.
func (a *PgQueryAnalyzer) Analyze(sql string) (*ParsedQuery, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return nil, ErrEmptyQuery
	}

	tree, err := pg_query.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}

	if len(tree.Stmts) == 0 {
		return nil, ErrEmptyQuery
	}

	if len(tree.Stmts) > 1 {
		return nil, ErrMultiStatement
	}

	stmt := tree.Stmts[0].Stmt
	if stmt == nil {
		return nil, ErrEmptyQuery
	}

	// Only the top-level statement may modify data.
	allowed := 0
	switch stmt.Node.(type) {
	case *pg_query.Node_InsertStmt, *pg_query.Node_UpdateStmt, *pg_query.Node_DeleteStmt:
		allowed = 1
	}
	if countModifying(stmt.ProtoReflect()) > allowed {
		return nil, fmt.Errorf("%w: nested data-modifying statements are not allowed", ErrUnsupportedStatement)
	}

	switch n := stmt.Node.(type) {
	case *pg_query.Node_SelectStmt:
		if n.SelectStmt.IntoClause != nil {
			return nil, fmt.Errorf("%w: SELECT INTO creates a table", ErrUnsupportedStatement)
		}
		return &ParsedQuery{
			Operation: OpSelect,
			Tables:    referencedTables(n.SelectStmt),
			HasWhere:  true,
		}, nil
	case *pg_query.Node_InsertStmt:
		return &ParsedQuery{
			Operation: OpInsert,
			Tables:    targetTable(n.InsertStmt.Relation),
			HasWhere:  true,
		}, nil
	case *pg_query.Node_UpdateStmt:
		return &ParsedQuery{
			Operation: OpUpdate,
			Tables:    targetTable(n.UpdateStmt.Relation),
			HasWhere:  n.UpdateStmt.WhereClause != nil,
		}, nil
	case *pg_query.Node_DeleteStmt:
		return &ParsedQuery{
			Operation: OpDelete,
			Tables:    targetTable(n.DeleteStmt.Relation),
			HasWhere:  n.DeleteStmt.WhereClause != nil,
		}, nil
	case *pg_query.Node_DropStmt,
		*pg_query.Node_AlterTableStmt,
		*pg_query.Node_TruncateStmt,
		*pg_query.Node_RenameStmt,
		*pg_query.Node_DropdbStmt:
		return nil, ErrDestructiveStatement
	default:
		return nil, ErrUnsupportedStatement
	}
}

// TableName joins the qualified parts of a relation with ".".
func TableName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{rv.Catalogname, rv.Schemaname, rv.Relname} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

func targetTable(rv *pg_query.RangeVar) []string {
	name := TableName(rv)
	if name == "" {
		return nil
	}
	return []string{name}
}

// referencedTables returns every relation a SELECT reads from, in source
// order and without duplicates. Joins, set operations, sub-selects in any
// clause and CTE bodies are all walked; CTE names themselves are dropped.
func referencedTables(sel *pg_query.SelectStmt) []string {
	var names []string
	ctes := make(map[string]bool)

	walkMessages(sel.ProtoReflect(), func(m protoreflect.Message) {
		switch n := m.Interface().(type) {
		case *pg_query.RangeVar:
			names = append(names, TableName(n))
		case *pg_query.CommonTableExpr:
			ctes[n.Ctename] = true
		}
	})

	seen := make(map[string]bool, len(names))
	tables := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" || seen[name] || ctes[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

// countModifying counts INSERT, UPDATE, DELETE and MERGE nodes reachable
// from m, including m itself.
func countModifying(m protoreflect.Message) int {
	n := 0
	walkMessages(m, func(m protoreflect.Message) {
		switch m.Interface().(type) {
		case *pg_query.InsertStmt, *pg_query.UpdateStmt, *pg_query.DeleteStmt, *pg_query.MergeStmt:
			n++
		}
	})
	return n
}

// walkMessages visits m and every message reachable from it, following
// fields in declaration order so results are deterministic.
func walkMessages(m protoreflect.Message, visit func(protoreflect.Message)) {
	visit(m)
	fields := m.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.Kind() != protoreflect.MessageKind || fd.IsMap() || !m.Has(fd) {
			continue
		}
		v := m.Get(fd)
		if fd.IsList() {
			list := v.List()
			for j := 0; j < list.Len(); j++ {
				walkMessages(list.Get(j).Message(), visit)
			}
			continue
		}
		walkMessages(v.Message(), visit)
	}
}
