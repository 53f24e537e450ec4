// Package expr implements the formula mini-language used by expr
// signals and conditions: arithmetic and comparisons over price columns,
// named parameters and indicator calls, with bar offsets ("close[-1]")
// and component access ("bb(20, 2).upper").
package expr

import (
	"fmt"
	"strings"
)

// Pos is a source position, 1-based line and column.
type Pos struct {
	Offset int
	Line   int
	Column int
}

// Node is an AST node.
type Node interface {
	Pos() Pos
	String() string
}

// NumberLiteral is a numeric constant.
type NumberLiteral struct {
	Position Pos
	Value    float64
	Raw      string
}

func (n *NumberLiteral) Pos() Pos       { return n.Position }
func (n *NumberLiteral) String() string { return n.Raw }

// Identifier is a bare name: a price column (close, hl2, ...) or a
// strategy parameter. Resolution order is column first, then parameter.
type Identifier struct {
	Position Pos
	Name     string
}

func (n *Identifier) Pos() Pos       { return n.Position }
func (n *Identifier) String() string { return n.Name }

// Call is an indicator invocation with positional numeric arguments and
// an optional component selector: "macd(12, 26, 9).histogram".
type Call struct {
	Position  Pos
	Name      string
	Args      []Node
	Component string
}

func (n *Call) Pos() Pos { return n.Position }
func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	s := n.Name + "(" + strings.Join(args, ", ") + ")"
	if n.Component != "" {
		s += "." + n.Component
	}
	return s
}

// OffsetExpr shifts a series back in time: "close[-1]" is the previous
// bar's close. Bars is non-negative; the first Bars values become NaN.
type OffsetExpr struct {
	Position Pos
	Expr     Node
	Bars     int
}

func (n *OffsetExpr) Pos() Pos       { return n.Position }
func (n *OffsetExpr) String() string { return fmt.Sprintf("%s[-%d]", n.Expr, n.Bars) }

// UnaryExpr is negation ("-") or logical "not".
type UnaryExpr struct {
	Position Pos
	Op       string
	Operand  Node
}

func (n *UnaryExpr) Pos() Pos { return n.Position }
func (n *UnaryExpr) String() string {
	if n.Op == "not" {
		return "not " + n.Operand.String()
	}
	return n.Op + n.Operand.String()
}

// BinaryExpr covers arithmetic, comparisons, "and" and "or".
type BinaryExpr struct {
	Position Pos
	Op       string
	Left     Node
	Right    Node
}

func (n *BinaryExpr) Pos() Pos { return n.Position }
func (n *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right)
}
