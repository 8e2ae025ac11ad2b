// Package rule implements the declarative approval-rule language: a small
// expression grammar parsed once at policy load into a typed tree and
// evaluated against a runtime context.
//
// Grammar (one level, no parentheses):
//
//	expr     := term (" and " term)* | term (" or " term)*
//	term     := path OP number | path " in " listName | path " contains " quoted
//	OP       := < | > | <= | >= | == | !=
package rule

import "strings"

// Op is a numeric comparison operator.
type Op string

const (
	OpLT Op = "<"
	OpGT Op = ">"
	OpLE Op = "<="
	OpGE Op = ">="
	OpEQ Op = "=="
	OpNE Op = "!="
)

// Expr is a parsed rule expression node.
type Expr interface {
	// Eval reports whether the expression holds for the given context.
	// Unresolvable fields never match; evaluation cannot fail.
	Eval(ctx Context) bool
}

// Comparison compares a dot-path field against a numeric literal.
type Comparison struct {
	Path  string
	Op    Op
	Value float64
}

// Membership tests whether a field's value is in a named list from the
// context's list registry. Unknown lists evaluate to false.
type Membership struct {
	Path string
	List string
}

// Contains tests whether a string field contains a literal substring.
type Contains struct {
	Path    string
	Literal string
}

// And is the conjunction of two terms.
type And struct {
	Left, Right Expr
}

// Or is the disjunction of two terms.
type Or struct {
	Left, Right Expr
}

func (c Comparison) Eval(ctx Context) bool {
	v, ok := ctx.Number(c.Path)
	if !ok {
		return false
	}
	switch c.Op {
	case OpLT:
		return v < c.Value
	case OpGT:
		return v > c.Value
	case OpLE:
		return v <= c.Value
	case OpGE:
		return v >= c.Value
	case OpEQ:
		return v == c.Value
	case OpNE:
		return v != c.Value
	}
	return false
}

func (m Membership) Eval(ctx Context) bool {
	v, ok := ctx.String(m.Path)
	if !ok {
		return false
	}
	for _, item := range ctx.List(m.List) {
		if item == v {
			return true
		}
	}
	return false
}

func (c Contains) Eval(ctx Context) bool {
	v, ok := ctx.String(c.Path)
	if !ok {
		return false
	}
	return strings.Contains(v, c.Literal)
}

func (a And) Eval(ctx Context) bool { return a.Left.Eval(ctx) && a.Right.Eval(ctx) }

func (o Or) Eval(ctx Context) bool { return o.Left.Eval(ctx) || o.Right.Eval(ctx) }
