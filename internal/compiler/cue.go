package compiler

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/deduce/internal/ir"
)

// File is the content of one .cue source: relation schemas, a program, or
// a multi-statement script.
//
//	relation: friends: {
//		keys: {fr: "Int", to: "Int"}
//	}
//
//	rules: [
//		{head: "l1", args: ["to"], body: [{stored: "friends", bind: {fr: 1, to: "to"}}]},
//		{head: "?", args: ["to"], body: [{rule: "l1", args: ["to"]}]},
//	]
//
// Strings in term position are variables ("x"), parameters ("$x") or the
// wildcard ("_"); string constants are written {const: "text"}.
type File struct {
	Relations []ir.RelationSchema
	Program   *ir.Program
	Script    *ir.Script
}

// LoadFile reads and compiles a .cue file.
func LoadFile(path string) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return LoadSource(path, src)
}

// LoadSource compiles CUE source text. filename is used in positions.
func LoadSource(filename string, src []byte) (*File, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	f := &File{}
	if rel := v.LookupPath(cue.ParsePath("relation")); rel.Exists() {
		schemas, err := CompileRelations(rel)
		if err != nil {
			return nil, err
		}
		f.Relations = schemas
	}
	if rules := v.LookupPath(cue.ParsePath("rules")); rules.Exists() {
		prog, err := CompileProgram(v)
		if err != nil {
			return nil, err
		}
		f.Program = prog
	}
	if stmts := v.LookupPath(cue.ParsePath("script")); stmts.Exists() {
		script, err := CompileScript(stmts)
		if err != nil {
			return nil, err
		}
		f.Script = script
	}
	if f.Relations == nil && f.Program == nil && f.Script == nil {
		return nil, &CompileError{Field: "file", Message: "no relation, rules or script found", Pos: v.Pos()}
	}
	return f, nil
}

// CompileRelations parses a struct of relation schemas keyed by name.
// Column order follows declaration order.
func CompileRelations(v cue.Value) ([]ir.RelationSchema, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.RelationSchema
	for iter.Next() {
		schema := ir.RelationSchema{Name: iter.Selector().Unquoted()}
		rv := iter.Value()

		keys, err := parseColumns(rv, "keys")
		if err != nil {
			return nil, err
		}
		values, err := parseColumns(rv, "values")
		if err != nil {
			return nil, err
		}
		schema.Keys = keys
		schema.Values = values
		out = append(out, schema)
	}
	return out, nil
}

func parseColumns(v cue.Value, field string) ([]ir.Column, error) {
	cv := v.LookupPath(cue.ParsePath(field))
	if !cv.Exists() {
		return nil, nil
	}
	iter, err := cv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var cols []ir.Column
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		ct, err := ir.ParseColumnType(s)
		if err != nil {
			return nil, &CompileError{Field: field + "." + iter.Selector().Unquoted(), Message: err.Error(), Pos: iter.Value().Pos()}
		}
		cols = append(cols, ir.Column{Name: iter.Selector().Unquoted(), Type: ct})
	}
	return cols, nil
}

// CompileScript parses a list of statements. Each element is a program
// struct (with rules) or the string "::compact".
func CompileScript(v cue.Value) (*ir.Script, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	script := &ir.Script{}
	for iter.Next() {
		sv := iter.Value()
		if s, err := sv.String(); err == nil {
			if s != "::compact" {
				return nil, &CompileError{Field: "script", Message: fmt.Sprintf("unknown directive %q", s), Pos: sv.Pos()}
			}
			script.Statements = append(script.Statements, ir.CompactDirective{})
			continue
		}
		prog, err := CompileProgram(sv)
		if err != nil {
			return nil, err
		}
		script.Statements = append(script.Statements, *prog)
	}
	return script, nil
}

// CompileProgram parses a program struct: rules plus optional entry,
// order, limit, offset, put and rm directives.
func CompileProgram(v cue.Value) (*ir.Program, error) {
	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return nil, &CompileError{Field: "rules", Message: "rules are required", Pos: v.Pos()}
	}
	iter, err := rulesVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	prog := &ir.Program{}
	for iter.Next() {
		r, err := parseRule(iter.Value())
		if err != nil {
			return nil, err
		}
		prog.Rules = append(prog.Rules, r)
	}

	if ev := v.LookupPath(cue.ParsePath("entry")); ev.Exists() {
		if prog.Entry, err = ev.String(); err != nil {
			return nil, formatCUEError(err)
		}
	}
	if ov := v.LookupPath(cue.ParsePath("order")); ov.Exists() {
		cols, err := stringList(ov)
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			if strings.HasPrefix(c, "-") {
				prog.Sort = append(prog.Sort, ir.SortKey{Column: c[1:], Desc: true})
				continue
			}
			prog.Sort = append(prog.Sort, ir.SortKey{Column: strings.TrimPrefix(c, "+")})
		}
	}
	if lv := v.LookupPath(cue.ParsePath("limit")); lv.Exists() {
		n, err := lv.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		prog.Limit = int(n)
	}
	if ov := v.LookupPath(cue.ParsePath("offset")); ov.Exists() {
		n, err := ov.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		prog.Offset = int(n)
	}

	for _, m := range []struct {
		field string
		op    ir.MutationOp
	}{{"put", ir.MutationPut}, {"rm", ir.MutationRm}} {
		mv := v.LookupPath(cue.ParsePath(m.field))
		if !mv.Exists() {
			continue
		}
		if prog.Mutation != nil {
			return nil, &CompileError{Field: m.field, Message: "only one mutation per program", Pos: mv.Pos()}
		}
		mut, err := parseMutation(mv, m.op)
		if err != nil {
			return nil, err
		}
		prog.Mutation = mut
	}
	return prog, nil
}

func parseMutation(v cue.Value, op ir.MutationOp) (*ir.Mutation, error) {
	m := &ir.Mutation{Op: op}
	rel, err := v.LookupPath(cue.ParsePath("relation")).String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	m.Relation = rel
	if m.Keys, err = stringList(v.LookupPath(cue.ParsePath("keys"))); err != nil {
		return nil, err
	}
	if vv := v.LookupPath(cue.ParsePath("values")); vv.Exists() {
		if m.Values, err = stringList(vv); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func parseRule(v cue.Value) (ir.Rule, error) {
	var r ir.Rule
	name, err := v.LookupPath(cue.ParsePath("head")).String()
	if err != nil {
		return r, &CompileError{Field: "head", Message: "rule head name is required", Pos: v.Pos()}
	}
	r.Head.Name = name

	args, err := stringList(v.LookupPath(cue.ParsePath("args")))
	if err != nil {
		return r, err
	}
	for _, a := range args {
		ha, err := parseHeadArg(a)
		if err != nil {
			return r, &CompileError{Field: "args", Message: err.Error(), Pos: v.Pos()}
		}
		r.Head.Args = append(r.Head.Args, ha)
	}

	if fv := v.LookupPath(cue.ParsePath("facts")); fv.Exists() {
		rows, err := fv.List()
		if err != nil {
			return r, formatCUEError(err)
		}
		r.Facts = [][]ir.Expr{}
		for rows.Next() {
			cells, err := rows.Value().List()
			if err != nil {
				return r, formatCUEError(err)
			}
			var row []ir.Expr
			for cells.Next() {
				e, err := parseExpr(cells.Value())
				if err != nil {
					return r, err
				}
				row = append(row, e)
			}
			r.Facts = append(r.Facts, row)
		}
		return r, nil
	}

	bv := v.LookupPath(cue.ParsePath("body"))
	if !bv.Exists() {
		return r, &CompileError{Field: "body", Message: "rule needs a body or facts", Pos: v.Pos()}
	}
	atoms, err := bv.List()
	if err != nil {
		return r, formatCUEError(err)
	}
	for atoms.Next() {
		a, err := parseAtom(atoms.Value())
		if err != nil {
			return r, err
		}
		r.Body = append(r.Body, a)
	}
	return r, nil
}

// parseHeadArg accepts "x" or "reducer(x)".
func parseHeadArg(s string) (ir.HeadArg, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return ir.HeadArg{Var: strings.TrimSpace(s)}, nil
	}
	if !strings.HasSuffix(s, ")") {
		return ir.HeadArg{}, fmt.Errorf("malformed head argument %q", s)
	}
	red, err := ir.ParseReducer(strings.TrimSpace(s[:open]))
	if err != nil {
		return ir.HeadArg{}, err
	}
	return ir.HeadArg{Var: strings.TrimSpace(s[open+1 : len(s)-1]), Reducer: red}, nil
}

func parseAtom(v cue.Value) (ir.Atom, error) {
	lookup := func(name string) cue.Value { return v.LookupPath(cue.ParsePath(name)) }

	if sv := lookup("stored"); sv.Exists() {
		rel, err := sv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		atom := ir.StoredAtom{Relation: rel}
		if bv := lookup("bind"); bv.Exists() {
			iter, err := bv.Fields()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for iter.Next() {
				term, err := parseExpr(iter.Value())
				if err != nil {
					return nil, err
				}
				atom.Bindings = append(atom.Bindings, ir.Binding{Column: iter.Selector().Unquoted(), Term: term})
			}
		}
		return atom, nil
	}
	if rv := lookup("rule"); rv.Exists() {
		name, err := rv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		atom := ir.RuleAtom{Name: name}
		if av := lookup("args"); av.Exists() {
			iter, err := av.List()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for iter.Next() {
				e, err := parseExpr(iter.Value())
				if err != nil {
					return nil, err
				}
				atom.Args = append(atom.Args, e)
			}
		}
		return atom, nil
	}
	if nv := lookup("not"); nv.Exists() {
		inner, err := parseAtom(nv)
		if err != nil {
			return nil, err
		}
		return ir.NegatedAtom{Atom: inner}, nil
	}
	if fv := lookup("filter"); fv.Exists() {
		e, err := parseExpr(fv)
		if err != nil {
			return nil, err
		}
		return ir.FilterAtom{Expr: e}, nil
	}
	if uv := lookup("unify"); uv.Exists() {
		name, err := uv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		e, err := parseExpr(lookup("expr"))
		if err != nil {
			return nil, err
		}
		return ir.UnifyAtom{Var: name, Expr: e}, nil
	}
	return nil, &CompileError{Field: "body", Message: "atom must have one of stored, rule, not, filter or unify", Pos: v.Pos()}
}

// parseExpr converts a CUE value to an expression.
func parseExpr(v cue.Value) (ir.Expr, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: "expr", Message: "expression is missing", Pos: v.Pos()}
	}
	switch v.IncompleteKind() {
	case cue.NullKind:
		return ir.C(ir.Null{}), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.C(ir.Bool(b)), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.C(ir.Int(n)), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.C(ir.Float(f)), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if strings.HasPrefix(s, "$") {
			return ir.P(s[1:]), nil
		}
		return ir.V(s), nil
	case cue.StructKind:
		return parseCompound(v)
	}
	return nil, &CompileError{Field: "expr", Message: fmt.Sprintf("unsupported value of kind %s", v.IncompleteKind()), Pos: v.Pos()}
}

func parseCompound(v cue.Value) (ir.Expr, error) {
	lookup := func(name string) cue.Value { return v.LookupPath(cue.ParsePath(name)) }

	if cv := lookup("const"); cv.Exists() {
		s, err := cv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.C(ir.String(s)), nil
	}
	if tv := lookup("try"); tv.Exists() {
		parts, err := exprList(tv)
		if err != nil {
			return nil, err
		}
		if len(parts) != 2 {
			return nil, &CompileError{Field: "try", Message: "try takes a condition and a default", Pos: tv.Pos()}
		}
		return ir.Try{Cond: parts[0], Default: parts[1]}, nil
	}
	if nv := lookup("is_null"); nv.Exists() {
		x, err := parseExpr(nv)
		if err != nil {
			return nil, err
		}
		return ir.NullTest{X: x}, nil
	}
	if iv := lookup("is_in"); iv.Exists() {
		x, err := parseExpr(iv)
		if err != nil {
			return nil, err
		}
		list, err := exprList(lookup("list"))
		if err != nil {
			return nil, err
		}
		return ir.In{X: x, List: list}, nil
	}
	if ov := lookup("op"); ov.Exists() {
		name, err := ov.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		args, err := exprList(lookup("args"))
		if err != nil {
			return nil, err
		}
		if name == "neg" || ((name == "not" || name == "!") && len(args) == 1) || (name == "-" && len(args) == 1) {
			if len(args) != 1 {
				return nil, &CompileError{Field: "op", Message: name + " takes one argument", Pos: ov.Pos()}
			}
			op := ir.OpNeg
			if name == "not" || name == "!" {
				op = ir.OpNot
			}
			return ir.Unary{Op: op, X: args[0]}, nil
		}
		op, err := ir.ParseOp(name)
		if err != nil {
			return nil, &CompileError{Field: "op", Message: err.Error(), Pos: ov.Pos()}
		}
		if len(args) < 2 {
			return nil, &CompileError{Field: "op", Message: name + " takes two or more arguments", Pos: ov.Pos()}
		}
		// Fold left: {op: "+", args: [a, b, c]} is (a + b) + c
		e := ir.Expr(ir.B(op, args[0], args[1]))
		for _, a := range args[2:] {
			e = ir.B(op, e, a)
		}
		return e, nil
	}
	return nil, &CompileError{Field: "expr", Message: "struct expression needs const, op, try, is_null or is_in", Pos: v.Pos()}
}

func exprList(v cue.Value) ([]ir.Expr, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.Expr
	for iter.Next() {
		e, err := parseExpr(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func stringList(v cue.Value) ([]string, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
