/*
Package oakleaf is a runtime engine for a BASIC-family interpreter.

Oakleaf strives to be a small and dependable execution core for
structured BASIC dialects (PROC/FN, WHILE and REPEAT loops, LOCAL
variables, byte/word/float/string indirection). Package structure is
as follows:

■ strheap: Package strheap implements the string heap, a size-class
allocator with free-list coalescing that backs every string value.

■ symtab: Package symtab implements symbol tables, scopes and the
binding cache which turns tokenized variable references into located,
typed lvalues.

■ evalstack: Package evalstack implements the unified evaluation stack,
holding expression temporaries and control-flow frames alike.

■ prog: Package prog models the tokenized program and its addressing
scheme.

■ basic: Package basic and its subpackages provide the collaborators
around the engine: a scanner, a statement executor and an interactive
shell.

The base package contains data types which are used throughout all the
other packages.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © 2023–2026 The Oakleaf Authors

*/
package oakleaf
