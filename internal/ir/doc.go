// Package ir provides the shared data model of the deduce engine.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps IR the foundational
// layer with no circular dependencies.
//
// Contents:
//   - Value: sealed scalar type (Null, Bool, Int, Float, String) with a total order
//   - RelationSchema and Tuple: stored relation shapes
//   - Program, Rule, Atom, Expr: the rule representation handed to the compiler
//   - Error: the structured error taxonomy shared by every layer
//
// All JSON tags use snake_case.
package ir
