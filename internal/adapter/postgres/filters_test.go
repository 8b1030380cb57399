package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaFilter(t *testing.T) {
	clause, args := schemaFilter(nil, "c.table_schema", 1)
	assert.Equal(t, "c.table_schema NOT IN ('pg_catalog', 'information_schema')", clause)
	assert.Nil(t, args)

	clause, args = schemaFilter([]string{"public", "billing"}, "c.table_schema", 3)
	assert.Equal(t, "c.table_schema IN ($3, $4)", clause)
	assert.Equal(t, []any{"public", "billing"}, args)
}
