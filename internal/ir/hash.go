package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainProgram  = "deduce/program/v1"
	DomainRelation = "deduce/relation/v1"
	DomainDatabase = "deduce/database/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ProgramHash identifies a program by a typed encoding of its rules and
// directives. Two programs with the same hash compile to the same plan
// against the same catalog. Every term carries its kind and every constant
// its type, so a variable named "1" and the constant 1, or Int(1) and
// Float(1.0), hash differently.
func ProgramHash(p Program) string {
	canonical, err := MarshalCanonical(programDoc(p))
	if err != nil {
		// programDoc only builds maps, lists and strings.
		panic(fmt.Sprintf("ProgramHash: %v", err))
	}
	return hashWithDomain(DomainProgram, canonical)
}

func programDoc(p Program) map[string]any {
	rules := make([]any, len(p.Rules))
	for i, r := range p.Rules {
		rules[i] = ruleDoc(r)
	}
	sortKeys := make([]any, len(p.Sort))
	for i, k := range p.Sort {
		sortKeys[i] = map[string]any{"column": k.Column, "desc": k.Desc}
	}
	doc := map[string]any{
		"rules":  rules,
		"entry":  p.EntryRelation(),
		"sort":   sortKeys,
		"limit":  p.Limit,
		"offset": p.Offset,
	}
	if m := p.Mutation; m != nil {
		doc["mutation"] = map[string]any{
			"op":       m.Op.String(),
			"relation": m.Relation,
			"keys":     m.Keys,
			"values":   m.Values,
		}
	}
	return doc
}

func ruleDoc(r Rule) map[string]any {
	args := make([]any, len(r.Head.Args))
	for i, a := range r.Head.Args {
		args[i] = map[string]any{"var": a.Var, "reducer": a.Reducer.String()}
	}
	doc := map[string]any{"head": r.Head.Name, "args": args}
	if r.IsFact() {
		rows := make([]any, len(r.Facts))
		for i, row := range r.Facts {
			rows[i] = exprsDoc(row)
		}
		doc["facts"] = rows
		return doc
	}
	body := make([]any, len(r.Body))
	for i, a := range r.Body {
		body[i] = atomDoc(a)
	}
	doc["body"] = body
	return doc
}

func atomDoc(a Atom) map[string]any {
	switch x := a.(type) {
	case StoredAtom:
		bindings := make([]any, len(x.Bindings))
		for i, b := range x.Bindings {
			bindings[i] = map[string]any{"column": b.Column, "term": exprDoc(b.Term)}
		}
		return map[string]any{"kind": "stored", "relation": x.Relation, "bindings": bindings}
	case RuleAtom:
		return map[string]any{"kind": "rule", "name": x.Name, "args": exprsDoc(x.Args)}
	case NegatedAtom:
		return map[string]any{"kind": "not", "atom": atomDoc(x.Atom)}
	case FilterAtom:
		return map[string]any{"kind": "filter", "expr": exprDoc(x.Expr)}
	case UnifyAtom:
		return map[string]any{"kind": "unify", "var": x.Var, "expr": exprDoc(x.Expr)}
	}
	return map[string]any{"kind": fmt.Sprintf("%T", a)}
}

func exprsDoc(es []Expr) []any {
	out := make([]any, len(es))
	for i, e := range es {
		out[i] = exprDoc(e)
	}
	return out
}

func exprDoc(e Expr) map[string]any {
	switch x := e.(type) {
	case nil:
		return map[string]any{"kind": "none"}
	case Var:
		return map[string]any{"kind": "var", "name": x.Name}
	case Param:
		return map[string]any{"kind": "param", "name": x.Name}
	case Const:
		v := x.Value
		if v == nil {
			v = Null{}
		}
		return map[string]any{"kind": "const", "type": v.Kind().String(), "value": v.String()}
	case Binary:
		return map[string]any{"kind": "binary", "op": x.Op.String(), "left": exprDoc(x.Left), "right": exprDoc(x.Right)}
	case Unary:
		return map[string]any{"kind": "unary", "op": x.Op.String(), "x": exprDoc(x.X)}
	case In:
		return map[string]any{"kind": "in", "x": exprDoc(x.X), "list": exprsDoc(x.List)}
	case NullTest:
		return map[string]any{"kind": "is_null", "x": exprDoc(x.X)}
	case Try:
		return map[string]any{"kind": "try", "cond": exprDoc(x.Cond), "default": exprDoc(x.Default)}
	}
	return map[string]any{"kind": fmt.Sprintf("%T", e)}
}

// RelationHash computes a digest over a relation's schema and rows.
// Rows must already be in canonical (sorted) order; the digest is used to
// verify that a backup restores identical contents.
func RelationHash(schema RelationSchema, rows []Tuple) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"schema": schema,
		"rows":   rows,
	})
	if err != nil {
		return "", fmt.Errorf("RelationHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRelation, canonical), nil
}

// DatabaseHash combines per-relation digests, keyed by relation name, into
// one digest for a whole database state.
func DatabaseHash(relations map[string]string) (string, error) {
	m := make(map[string]any, len(relations))
	for name, h := range relations {
		m[name] = h
	}
	canonical, err := MarshalCanonical(m)
	if err != nil {
		return "", fmt.Errorf("DatabaseHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDatabase, canonical), nil
}
