/*
Package compiler drives the slate compilation pipeline.

Program Text ->
	tokenize ->
Token Stream (token) ->
	parse ->
Abstract Syntax Tree (ast) ->
	analyze ->
Typed Tree ->
	safety check ->
Audited Tree ->
	generate ->
Intermediate Representation (ir)

Every stage collects diagnostics instead of stopping at the first
problem, and checking stages keep running as long as something usable
parsed, so one run reports parse, type and safety findings together.
Code generation runs only on a clean unit. Backends take the ir module
from here.
*/
package compiler
