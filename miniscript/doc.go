// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package miniscript compiles spending policies into typed script fragments and
produces witnesses satisfying them.

Fragments

A program is a tree of fragments (AstElem).  Every fragment maps to a fixed
script template and carries a set of correctness types describing what it
leaves on the stack:

	E  pushes nonzero when satisfied and exactly zero when dissatisfied
	W  like E, but operates one element below the top of the stack
	Q  pushes a public key for a following CHECKSIG
	F  pushes nonzero when satisfied and cannot be dissatisfied
	V  leaves nothing and aborts the script unless satisfied
	T  pushes nonzero when satisfied, usable as a whole script

Only fragments of type T form complete programs.  Constructors check the types
of their children, so a tree that exists is well typed.  Scripts parse back to
the fragment tree they were serialized from.

Compilation

Compile searches, for every policy node and every correctness type, the
fragment with the lowest expected cost: script size plus the satisfaction and
dissatisfaction witness sizes weighted by how likely each is to be needed.
Results are memoized per node and probability pair.

Satisfaction

Satisfy builds a witness from a Satisfier, which supplies signatures,
preimages and the age of the spent output.  Disjunctions pick the smaller of
the satisfiable branches and thresholds satisfy exactly k of their legs.
Failures are returned as *SatisfyError values carrying the failing fragment
and, for disjunctions and thresholds, the failures of the children.

Errors

Failures to build or parse a program are of type Error with an ErrorCode
describing the cause.  Use IsErrorCode to test for a specific code.
*/
package miniscript
