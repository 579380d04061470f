// Package validate performs local syntax pre-checks against the SQL grammar
// before any remote call. Invalid statements are rejected without touching
// the cache or the remote service.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver" // value expression driver
)

// Category is the human-oriented class of a validation failure.
type Category string

const (
	CategorySyntaxError          Category = "SyntaxError"
	CategoryUnsupportedStatement Category = "UnsupportedStatement"
)

// Error carries the failure category, the parser position when derivable,
// and a suggestion when a common mistake pattern is recognized.
type Error struct {
	Category   Category
	Line       int
	Column     int
	Detail     string
	Suggestion string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Category))
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d column %d", e.Line, e.Column)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Suggestion != "" {
		b.WriteString(" (")
		b.WriteString(e.Suggestion)
		b.WriteString(")")
	}
	return b.String()
}

// Validator parses statements against a fixed SQL dialect grammar.
type Validator struct {
	parser *parser.Parser
}

// New returns a Validator. The underlying parser is not safe for concurrent
// use; allocate one Validator per invocation.
func New() *Validator {
	return &Validator{parser: parser.New()}
}

// Validate parses sql and returns nil when the statement is well formed.
// Side-effect free; zero remote calls.
func (v *Validator) Validate(sql string) error {
	stmts, _, err := v.parser.Parse(sql, "", "")
	if err != nil {
		return parseError(sql, err)
	}
	if len(stmts) == 0 {
		return &Error{Category: CategorySyntaxError, Detail: "empty statement"}
	}
	for _, stmt := range stmts {
		if err := checkStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

// checkStatement rejects statement classes the remote service does not
// accept and catches SELECT-without-FROM, which the grammar permits only
// for constant projections.
func checkStatement(stmt ast.StmtNode) error {
	switch node := stmt.(type) {
	case *ast.SelectStmt:
		if node.From == nil && !constantProjection(node) {
			return &Error{
				Category:   CategorySyntaxError,
				Detail:     "SELECT has no FROM clause",
				Suggestion: "add a FROM clause or select only constant expressions",
			}
		}
	case *ast.SetOprStmt, *ast.InsertStmt, *ast.CreateTableStmt, *ast.DropTableStmt,
		*ast.CreateViewStmt, *ast.CreateDatabaseStmt, *ast.DropDatabaseStmt,
		*ast.ExplainStmt, *ast.ShowStmt, *ast.UseStmt:
		// Statement classes the service executes.
	case *ast.BeginStmt, *ast.CommitStmt, *ast.RollbackStmt:
		return &Error{
			Category: CategoryUnsupportedStatement,
			Detail:   "transaction control statements are not supported",
		}
	case *ast.GrantStmt, *ast.RevokeStmt:
		return &Error{
			Category: CategoryUnsupportedStatement,
			Detail:   "access control statements are not supported",
		}
	}
	return nil
}

func constantProjection(sel *ast.SelectStmt) bool {
	if sel.Fields == nil || len(sel.Fields.Fields) == 0 {
		return false
	}
	for _, field := range sel.Fields.Fields {
		if field.WildCard != nil {
			return false
		}
		switch field.Expr.(type) {
		case *ast.FuncCallExpr, *ast.FuncCastExpr, *ast.BinaryOperationExpr, *ast.UnaryOperationExpr:
		case ast.ValueExpr:
		default:
			return false
		}
	}
	return true
}

var positionPattern = regexp.MustCompile(`line (\d+) column (\d+)`)

func parseError(sql string, err error) *Error {
	detail := err.Error()
	verr := &Error{
		Category:   CategorySyntaxError,
		Detail:     detail,
		Suggestion: suggestFor(sql),
	}
	if m := positionPattern.FindStringSubmatch(detail); m != nil {
		fmt.Sscanf(m[1], "%d", &verr.Line)
		fmt.Sscanf(m[2], "%d", &verr.Column)
	}
	return verr
}

// suggestFor recognizes a small fixed table of common mistakes. It is a
// heuristic hint generator, not a semantic analyzer.
func suggestFor(sql string) string {
	upper := strings.ToUpper(sql)
	switch {
	case strings.Contains(upper, " FORM "):
		return "did you mean FROM instead of FORM?"
	case strings.Count(sql, "(") != strings.Count(sql, ")"):
		return "unbalanced parentheses"
	case strings.Contains(upper, ", FROM"):
		return "remove the trailing comma before FROM"
	case strings.HasSuffix(strings.TrimSpace(upper), "WHERE"):
		return "WHERE clause is missing a condition"
	case strings.HasPrefix(strings.TrimSpace(upper), "SELECT") && !strings.Contains(upper, "FROM"):
		return "SELECT statement may be missing its FROM clause"
	}
	return ""
}
