// Package formula evaluates the small typed expression trees used by field
// verifiers and by transformation-pipeline scoring and rewrite rules. The
// evaluator is a pure function: a node plus one scalar input yields a number
// or a string.
package formula

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
)

// NodeType discriminates the three recognised expression node kinds.
type NodeType string

const (
	// NodeValue returns a literal.
	NodeValue NodeType = "value"
	// NodeSelf returns the scalar input the formula is evaluated against.
	NodeSelf NodeType = "self"
	// NodeOperation applies an operator to child nodes.
	NodeOperation NodeType = "op"
)

// Op tags an operation node.
type Op string

const (
	OpAdd      Op = "add"
	OpSubtract Op = "subtract"
	OpMultiply Op = "multiply"
	OpDivide   Op = "divide"
	OpPower    Op = "pow"
	OpConcat   Op = "concat"
	OpSubstr   Op = "substr"
	OpToInt    Op = "to_int"
	OpToFloat  Op = "to_float"
	OpToString Op = "to_string"
)

// arities maps each operator to its minimum and maximum child count. A
// maximum of -1 means unbounded.
var arities = map[Op][2]int{
	OpAdd:      {2, 2},
	OpSubtract: {2, 2},
	OpMultiply: {2, 2},
	OpDivide:   {2, 2},
	OpPower:    {2, 2},
	OpConcat:   {2, -1},
	OpSubstr:   {3, 3},
	OpToInt:    {1, 1},
	OpToFloat:  {1, 1},
	OpToString: {1, 1},
}

// Node is one vertex of a formula expression tree.
type Node struct {
	Type     NodeType    `json:"type"`
	Value    interface{} `json:"value,omitempty"`
	Op       Op          `json:"op,omitempty"`
	Children []*Node     `json:"children,omitempty"`
}

// Evaluate computes the formula against the given scalar input. It returns a
// float64 or a string, failing with a malformed-formula error on unknown node
// kinds, unknown operators or arity mismatches.
func Evaluate(n *Node, input interface{}) (interface{}, error) {
	if n == nil {
		return nil, appErrors.Clone(appErrors.ErrMalformedFormula, "nil formula node")
	}
	switch n.Type {
	case NodeValue:
		return n.Value, nil
	case NodeSelf:
		return input, nil
	case NodeOperation:
		return evaluateOp(n, input)
	default:
		return nil, appErrors.Clone(appErrors.ErrMalformedFormula, fmt.Sprintf("unknown node type %q", n.Type))
	}
}

func evaluateOp(n *Node, input interface{}) (interface{}, error) {
	bounds, ok := arities[n.Op]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrMalformedFormula, fmt.Sprintf("unknown operator %q", n.Op))
	}
	if len(n.Children) < bounds[0] || (bounds[1] >= 0 && len(n.Children) > bounds[1]) {
		return nil, appErrors.Clone(appErrors.ErrMalformedFormula,
			fmt.Sprintf("operator %q expects %d-%d children, got %d", n.Op, bounds[0], bounds[1], len(n.Children)))
	}

	args := make([]interface{}, len(n.Children))
	for i, child := range n.Children {
		v, err := Evaluate(child, input)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch n.Op {
	case OpAdd, OpSubtract, OpMultiply, OpDivide, OpPower:
		return arith(n.Op, args[0], args[1])
	case OpConcat:
		out := ""
		for _, arg := range args {
			out += ToString(arg)
		}
		return out, nil
	case OpSubstr:
		return substr(args[0], args[1], args[2])
	case OpToInt:
		f, err := toNumber(args[0])
		if err != nil {
			return nil, err
		}
		return math.Floor(f), nil
	case OpToFloat:
		return toNumber(args[0])
	case OpToString:
		return ToString(args[0]), nil
	}
	return nil, appErrors.Clone(appErrors.ErrMalformedFormula, fmt.Sprintf("unknown operator %q", n.Op))
}

func arith(op Op, a, b interface{}) (interface{}, error) {
	x, err := toNumber(a)
	if err != nil {
		return nil, err
	}
	y, err := toNumber(b)
	if err != nil {
		return nil, err
	}
	switch op {
	case OpAdd:
		return x + y, nil
	case OpSubtract:
		return x - y, nil
	case OpMultiply:
		return x * y, nil
	case OpDivide:
		return x / y, nil
	case OpPower:
		return math.Pow(x, y), nil
	}
	return nil, appErrors.Clone(appErrors.ErrMalformedFormula, fmt.Sprintf("unknown arithmetic operator %q", op))
}

func substr(source, start, length interface{}) (interface{}, error) {
	s := ToString(source)
	from, err := toNumber(start)
	if err != nil {
		return nil, err
	}
	count, err := toNumber(length)
	if err != nil {
		return nil, err
	}
	lo := int(from)
	if lo < 0 {
		lo = 0
	}
	if lo > len(s) {
		lo = len(s)
	}
	hi := lo + int(count)
	if hi < lo {
		hi = lo
	}
	if hi > len(s) {
		hi = len(s)
	}
	return s[lo:hi], nil
}

func toNumber(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, appErrors.Clone(appErrors.ErrMalformedFormula, fmt.Sprintf("cannot coerce %q to a number", n))
		}
		return f, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, appErrors.Clone(appErrors.ErrMalformedFormula, fmt.Sprintf("cannot coerce %q to a number", n))
		}
		return f, nil
	case nil:
		return 0, appErrors.Clone(appErrors.ErrMalformedFormula, "cannot coerce null to a number")
	default:
		return 0, appErrors.Clone(appErrors.ErrMalformedFormula, fmt.Sprintf("cannot coerce %T to a number", v))
	}
}

// ToNumber coerces any evaluated result to a float64, failing with a
// malformed-formula error when the value has no numeric form.
func ToNumber(v interface{}) (float64, error) {
	return toNumber(v)
}

// ToString coerces any evaluated result to its string form. Whole floats
// print without a decimal point so concatenated ids stay stable.
func ToString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == math.Trunc(s) && !math.IsInf(s, 0) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
