package postgres

// queryDescribeColumns has one %s placeholder for the schema filter clause.
// Rows come ordered so that columns of one table are contiguous.
const queryDescribeColumns = `
	SELECT
		c.table_schema,
		c.table_name,
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES'
	FROM information_schema.columns c
	JOIN information_schema.tables t
		ON t.table_schema = c.table_schema AND t.table_name = c.table_name
	WHERE %s
		AND t.table_type IN ('BASE TABLE', 'VIEW')
	ORDER BY c.table_schema, c.table_name, c.ordinal_position`
