// ABOUTME: Client-side guard that only lets read-only SQL through to the execute endpoint.
// ABOUTME: Every statement must start with SELECT or WITH; DML and DDL are blocked before any call.

package query

import (
	"regexp"
	"strings"
)

var (
	forbiddenPattern = regexp.MustCompile(`(?i)^(insert|update|delete|create|alter|drop|truncate|merge|replace)\b`)
	readOnlyPattern  = regexp.MustCompile(`(?i)^(select|with)\b`)
)

// IsReadOnly reports whether every statement in sql is a read-only query.
// Statements are split on semicolons; an input with no statements at all is
// not read-only.
func IsReadOnly(sql string) bool {
	var statements []string
	for _, stmt := range strings.Split(sql, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	if len(statements) == 0 {
		return false
	}

	for _, stmt := range statements {
		if forbiddenPattern.MatchString(stmt) || !readOnlyPattern.MatchString(stmt) {
			return false
		}
	}
	return true
}
