// ABOUTME: Tests for the read-only SQL guard
// ABOUTME: Table-driven coverage of allowed and blocked statement forms

package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsReadOnly(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{"simple select", "SELECT * FROM orders", true},
		{"lowercase select", "select id, total from orders where total > 100", true},
		{"cte", "WITH recent AS (SELECT * FROM orders) SELECT * FROM recent", true},
		{"trailing semicolon", "SELECT 1;", true},
		{"multiple selects", "SELECT 1; SELECT 2", true},
		{"leading whitespace", "   \n\tSELECT 1", true},
		{"insert", "INSERT INTO orders (id) VALUES (1)", false},
		{"update", "UPDATE orders SET total = 0", false},
		{"delete", "DELETE FROM orders", false},
		{"drop", "DROP TABLE orders", false},
		{"truncate", "TRUNCATE orders", false},
		{"create", "CREATE TABLE t (id int)", false},
		{"alter", "ALTER TABLE orders ADD COLUMN note text", false},
		{"merge", "MERGE INTO orders USING staging ON true", false},
		{"replace", "REPLACE INTO orders VALUES (1)", false},
		{"select then delete", "SELECT 1; DELETE FROM orders", false},
		{"empty", "", false},
		{"only semicolons", " ; ; ", false},
		{"explain is not whitelisted", "EXPLAIN SELECT 1", false},
		{"keyword prefix needs boundary", "selection FROM orders", false},
		{"withdrawal is not a cte", "withdrawal", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReadOnly(tt.sql), "sql: %s", tt.sql)
		})
	}
}
