// Package harness runs YAML scenarios against a fresh database and checks
// query results, errors and final stored state.
//
// A scenario names a CUE schema file, seeds stored relations with inline
// rows, then runs a list of steps. Each step evaluates a CUE program or
// script with parameters and states the rows or the error it expects.
// Assertions check stored relations after the last step:
//
//	name: three_hops
//	description: nodes three edges from the start
//	schema: friends.cue
//	data:
//	  friends:
//	    headers: [fr, to]
//	    rows: [[1, 2], [2, 3], [3, 4]]
//	steps:
//	  - name: hops
//	    program: three_hops.cue
//	    params: {start: 1}
//	    expect:
//	      headers: [to]
//	      rows: [[4]]
//	assertions:
//	  - type: relation_count
//	    relation: friends
//	    count: 3
//
// Paths resolve relative to the scenario file. RunWithGolden also compares
// the step results against testdata/golden/<name>.golden.
package harness
