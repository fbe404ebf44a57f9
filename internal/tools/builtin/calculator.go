package builtin

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"

	"github.com/shannon-ai/llm-gateway/internal/tools"
)

// calcFuncs is the closed set of callable functions. Anything not listed
// here is rejected during the AST walk.
var calcFuncs = map[string]func(args []float64) (float64, error){
	"abs":   unary(math.Abs),
	"sqrt":  unary(math.Sqrt),
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
	"log":   unary(math.Log),
	"log10": unary(math.Log10),
	"log2":  unary(math.Log2),
	"exp":   unary(math.Exp),
	"floor": unary(math.Floor),
	"ceil":  unary(math.Ceil),
	"round": unary(math.Round),
	"pow": func(args []float64) (float64, error) {
		if len(args) != 2 {
			return 0, fmt.Errorf("pow takes 2 arguments, got %d", len(args))
		}
		return math.Pow(args[0], args[1]), nil
	},
	"min": variadic(math.Min),
	"max": variadic(math.Max),
}

var calcConsts = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

func unary(fn func(float64) float64) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("function takes 1 argument, got %d", len(args))
		}
		return fn(args[0]), nil
	}
}

func variadic(fn func(float64, float64) float64) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("function takes at least 2 arguments, got %d", len(args))
		}
		acc := args[0]
		for _, v := range args[1:] {
			acc = fn(acc, v)
		}
		return acc, nil
	}
}

// Calculator evaluates arithmetic expressions by walking a parsed AST and
// permitting only literals, parentheses, unary and binary arithmetic, and a
// whitelist of functions. Attribute access, identifiers outside the
// whitelist, and every other node type are rejected, so expressions cannot
// reach the runtime.
type Calculator struct {
	md tools.Metadata
}

// NewCalculator returns the calculator tool.
func NewCalculator() *Calculator {
	return &Calculator{md: tools.Metadata{
		Name:        "calculator",
		Description: "Evaluates arithmetic expressions with standard mathematical functions",
		Category:    "compute",
		Version:     "1.0.0",
		Parameters: []tools.Parameter{
			{Name: "expression", Type: tools.TypeString, Required: true,
				Description: "Expression to evaluate, e.g. \"25*4 + sqrt(16)\""},
		},
	}}
}

func (c *Calculator) Metadata() *tools.Metadata { return &c.md }

func (c *Calculator) Execute(_ context.Context, _ *tools.SessionContext, args map[string]any) *tools.Result {
	expr, _ := args["expression"].(string)
	value, err := Evaluate(expr)
	if err != nil {
		return tools.Errorf("%v", err)
	}
	result := tools.Ok(value)
	result.Metadata = map[string]any{"expression": expr}
	return result
}

// Evaluate parses and evaluates one expression.
func Evaluate(expr string) (float64, error) {
	if expr == "" {
		return 0, fmt.Errorf("calculator: empty expression")
	}
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return 0, fmt.Errorf("calculator: invalid expression: %v", err)
	}
	return evalNode(node)
}

func evalNode(node ast.Expr) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		switch n.Kind {
		case token.INT, token.FLOAT:
			return strconv.ParseFloat(n.Value, 64)
		}
		return 0, fmt.Errorf("calculator: literal %s not allowed", n.Value)

	case *ast.ParenExpr:
		return evalNode(n.X)

	case *ast.UnaryExpr:
		v, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.SUB:
			return -v, nil
		case token.ADD:
			return v, nil
		}
		return 0, fmt.Errorf("calculator: operator %s not allowed", n.Op)

	case *ast.BinaryExpr:
		left, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		right, err := evalNode(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return left + right, nil
		case token.SUB:
			return left - right, nil
		case token.MUL:
			return left * right, nil
		case token.QUO:
			if right == 0 {
				return 0, fmt.Errorf("calculator: division by zero")
			}
			return left / right, nil
		case token.REM:
			if right == 0 {
				return 0, fmt.Errorf("calculator: division by zero")
			}
			return math.Mod(left, right), nil
		}
		return 0, fmt.Errorf("calculator: operator %s not allowed", n.Op)

	case *ast.Ident:
		if v, ok := calcConsts[n.Name]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("calculator: identifier %q not allowed", n.Name)

	case *ast.CallExpr:
		ident, ok := n.Fun.(*ast.Ident)
		if !ok {
			return 0, fmt.Errorf("calculator: only whitelisted function calls are allowed")
		}
		fn, ok := calcFuncs[ident.Name]
		if !ok {
			return 0, fmt.Errorf("calculator: function %q not allowed", ident.Name)
		}
		callArgs := make([]float64, 0, len(n.Args))
		for _, arg := range n.Args {
			v, err := evalNode(arg)
			if err != nil {
				return 0, err
			}
			callArgs = append(callArgs, v)
		}
		return fn(callArgs)
	}

	return 0, fmt.Errorf("calculator: expression element %T not allowed", node)
}
