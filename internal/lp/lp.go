// Package lp holds a concrete linear-program representation: named bounded
// variables, linear constraint records and a cost expression. The model
// builder appends records in a fixed order so that identical inputs always
// produce an identical problem; the solver adapter serializes the problem for
// an external solver and checks candidate points against every record.
package lp

import (
	"fmt"
	"math"
	"sort"
)

type Sense int

const (
	LE Sense = iota
	GE
	EQ
)

func (s Sense) String() string {
	switch s {
	case LE:
		return "<="
	case GE:
		return ">="
	default:
		return "="
	}
}

// Var is a decision variable with inclusive bounds. Use math.Inf for
// unbounded sides.
type Var struct {
	Name string
	Lo   float64
	Hi   float64
}

type Term struct {
	Var  string
	Coef float64
}

// Expr is a linear expression sum(Coef_i * Var_i) + Const.
type Expr struct {
	Terms []Term
	Const float64
}

// Add appends coef*name to the expression, merging with an existing term for
// the same variable so constraint rows stay canonical.
func (e *Expr) Add(coef float64, name string) {
	if coef == 0 {
		return
	}
	for i := range e.Terms {
		if e.Terms[i].Var == name {
			e.Terms[i].Coef += coef
			return
		}
	}
	e.Terms = append(e.Terms, Term{Var: name, Coef: coef})
}

// Eval evaluates the expression at a point. Variables absent from the point
// count as zero, matching solvers that omit zero-valued columns.
func (e Expr) Eval(pt Point) float64 {
	v := e.Const
	for _, t := range e.Terms {
		v += t.Coef * pt[t.Var]
	}
	return v
}

// Constraint is one row: Expr Sense RHS.
type Constraint struct {
	Name  string
	Expr  Expr
	Sense Sense
	RHS   float64
}

// Problem is an ordered set of variables and constraints plus a cost
// expression to be minimized.
type Problem struct {
	Name        string
	vars        []Var
	varIndex    map[string]int
	constraints []Constraint
	rowIndex    map[string]struct{}
	Cost        Expr
}

func NewProblem(name string) *Problem {
	return &Problem{
		Name:     name,
		varIndex: map[string]int{},
		rowIndex: map[string]struct{}{},
	}
}

// AddVar declares a variable. Redeclaring a name is a programming error and
// fails loudly.
func (p *Problem) AddVar(name string, lo, hi float64) error {
	if _, ok := p.varIndex[name]; ok {
		return fmt.Errorf("variable %s declared twice", name)
	}
	if lo > hi {
		return fmt.Errorf("variable %s has lower bound %g above upper bound %g", name, lo, hi)
	}
	p.varIndex[name] = len(p.vars)
	p.vars = append(p.vars, Var{Name: name, Lo: lo, Hi: hi})
	return nil
}

func (p *Problem) Var(name string) (Var, bool) {
	i, ok := p.varIndex[name]
	if !ok {
		return Var{}, false
	}
	return p.vars[i], true
}

func (p *Problem) Vars() []Var { return p.vars }

func (p *Problem) Constraints() []Constraint { return p.constraints }

func (p *Problem) NumVars() int { return len(p.vars) }

func (p *Problem) NumRows() int { return len(p.constraints) }

// AddConstraint appends a row. Every referenced variable must already be
// declared; dangling references are configuration bugs surfaced immediately.
func (p *Problem) AddConstraint(c Constraint) error {
	if c.Name == "" {
		return fmt.Errorf("constraint without a name")
	}
	if _, ok := p.rowIndex[c.Name]; ok {
		return fmt.Errorf("constraint %s declared twice", c.Name)
	}
	for _, t := range c.Expr.Terms {
		if _, ok := p.varIndex[t.Var]; !ok {
			return fmt.Errorf("constraint %s references undeclared variable %s", c.Name, t.Var)
		}
	}
	p.rowIndex[c.Name] = struct{}{}
	p.constraints = append(p.constraints, c)
	return nil
}

// AddCost adds coef*name to the minimized cost expression.
func (p *Problem) AddCost(coef float64, name string) {
	p.Cost.Add(coef, name)
}

// Point is a candidate assignment of variable values.
type Point map[string]float64

// Violation reports a constraint or bound broken at a point.
type Violation struct {
	Row    string  `json:"row"`
	Detail string  `json:"detail"`
	Amount float64 `json:"amount"`
}

// Check evaluates every bound and constraint at pt with the given tolerance
// and returns all violations. An empty slice means the point is feasible.
func (p *Problem) Check(pt Point, tol float64) []Violation {
	var out []Violation
	for _, v := range p.vars {
		x := pt[v.Name]
		if !math.IsInf(v.Lo, -1) && x < v.Lo-tol {
			out = append(out, Violation{
				Row:    v.Name,
				Detail: fmt.Sprintf("value %g below lower bound %g", x, v.Lo),
				Amount: v.Lo - x,
			})
		}
		if !math.IsInf(v.Hi, 1) && x > v.Hi+tol {
			out = append(out, Violation{
				Row:    v.Name,
				Detail: fmt.Sprintf("value %g above upper bound %g", x, v.Hi),
				Amount: x - v.Hi,
			})
		}
	}
	for _, c := range p.constraints {
		lhs := c.Expr.Eval(pt)
		var slack float64
		switch c.Sense {
		case LE:
			slack = lhs - c.RHS
		case GE:
			slack = c.RHS - lhs
		case EQ:
			slack = math.Abs(lhs - c.RHS)
		}
		if slack > tol {
			out = append(out, Violation{
				Row:    c.Name,
				Detail: fmt.Sprintf("lhs %g %s rhs %g violated", lhs, c.Sense, c.RHS),
				Amount: slack,
			})
		}
	}
	return out
}

// UnknownVars returns point variables that are not declared in the problem,
// sorted for stable error messages.
func (p *Problem) UnknownVars(pt Point) []string {
	var out []string
	for name := range pt {
		if _, ok := p.varIndex[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
