package lp

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
)

// WriteLP serializes the problem in CPLEX LP format. Variables, constraints
// and objective terms are written in declaration order, so two problems built
// from identical inputs serialize byte-identically.
func WriteLP(w io.Writer, p *Problem) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "\\ Problem: %s\n", p.Name)
	fmt.Fprintln(bw, "Minimize")
	obj := formatExpr(p.Cost.Terms)
	if len(p.Cost.Terms) == 0 && len(p.vars) > 0 {
		// A feasibility-only problem still needs a well-formed objective.
		obj = " 0 " + p.vars[0].Name
	}
	fmt.Fprintf(bw, " obj:%s\n", obj)
	fmt.Fprintln(bw, "Subject To")
	for _, c := range p.constraints {
		// Fold the expression constant into the right-hand side.
		rhs := c.RHS - c.Expr.Const
		fmt.Fprintf(bw, " %s:%s %s %s\n", c.Name, formatExpr(c.Expr.Terms), c.Sense, formatNum(rhs))
	}
	fmt.Fprintln(bw, "Bounds")
	for _, v := range p.vars {
		switch {
		case math.IsInf(v.Lo, -1) && math.IsInf(v.Hi, 1):
			fmt.Fprintf(bw, " %s free\n", v.Name)
		case math.IsInf(v.Hi, 1):
			fmt.Fprintf(bw, " %s >= %s\n", v.Name, formatNum(v.Lo))
		case math.IsInf(v.Lo, -1):
			fmt.Fprintf(bw, " %s <= %s\n", v.Name, formatNum(v.Hi))
		default:
			fmt.Fprintf(bw, " %s <= %s <= %s\n", formatNum(v.Lo), v.Name, formatNum(v.Hi))
		}
	}
	fmt.Fprintln(bw, "End")
	return bw.Flush()
}

func formatExpr(terms []Term) string {
	if len(terms) == 0 {
		return " 0"
	}
	out := ""
	for i, t := range terms {
		coef := t.Coef
		sign := "+"
		if coef < 0 {
			sign = "-"
			coef = -coef
		}
		if i == 0 && sign == "+" {
			out += fmt.Sprintf(" %s %s", formatNum(coef), t.Var)
			continue
		}
		out += fmt.Sprintf(" %s %s %s", sign, formatNum(coef), t.Var)
	}
	return out
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'g', 12, 64)
}
