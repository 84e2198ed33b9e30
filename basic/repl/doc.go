/*
Package repl/main provides an interactive console for the Oakleaf BASIC
engine. Numbered lines edit the stored program; unnumbered lines execute
immediately against the live workspace. RUN tokenizes and executes the
stored program, loading the libraries it names.


License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © 2023–2026 The Oakleaf Authors

*/
package main

import (
	"github.com/npillmayer/schuko/tracing"
)

// tracer traces with key 'oakleaf.repl'
func tracer() tracing.Trace {
	return tracing.Select("oakleaf.repl")
}
