// Package condition parses and evaluates alert predicates such as "price > 150".
//
// The grammar is deliberately narrow: `price <op> <number>` with op one of
// <, <=, >, >=, ==. Text outside the grammar never matches.
package condition

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var ErrMalformed = errors.New("malformed condition")

// Op is a comparison operator.
type Op string

const (
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
	OpEqual        Op = "=="
)

// Condition is one parsed predicate variant.
type Condition interface {
	Holds(price float64) bool
	String() string
}

// Comparison compares the current price against a fixed threshold.
type Comparison struct {
	Op        Op
	Threshold float64
}

func (c Comparison) Holds(price float64) bool {
	switch c.Op {
	case OpLess:
		return price < c.Threshold
	case OpLessEqual:
		return price <= c.Threshold
	case OpGreater:
		return price > c.Threshold
	case OpGreaterEqual:
		return price >= c.Threshold
	case OpEqual:
		// exact match, no tolerance
		return price == c.Threshold
	}
	return false
}

func (c Comparison) String() string {
	return fmt.Sprintf("price %s %s", c.Op, strconv.FormatFloat(c.Threshold, 'f', -1, 64))
}

var comparisonPattern = regexp.MustCompile(`^\s*price\s*(<=|>=|==|<|>)\s*([+-]?(?:\d+(?:\.\d*)?|\.\d+))\s*$`)

// Parse turns condition text into a Condition. Any text outside the grammar yields ErrMalformed.
func Parse(text string) (Condition, error) {
	m := comparisonPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, text)
	}
	threshold, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: threshold %q: %v", ErrMalformed, m[2], err)
	}
	return Comparison{Op: Op(m[1]), Threshold: threshold}, nil
}

// Evaluate reports whether text holds for price. Malformed text evaluates to false.
func Evaluate(text string, price float64) bool {
	c, err := Parse(text)
	if err != nil {
		return false
	}
	return c.Holds(price)
}
