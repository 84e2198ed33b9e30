package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pterm/pterm"

	"github.com/npillmayer/schuko/gtrace"
	"github.com/npillmayer/schuko/tracing"
	"github.com/npillmayer/schuko/tracing/gologadapter"

	"github.com/oakleafbasic/oakleaf"
	"github.com/oakleafbasic/oakleaf/basic/exec"
	"github.com/oakleafbasic/oakleaf/basic/scan"
	"github.com/oakleafbasic/oakleaf/prog"
)

/*
License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © 2023–2026 The Oakleaf Authors

*/

// main starts the interactive console. Users enter numbered program lines,
// console commands (RUN, LIST, NEW, LOAD, VARS) or immediate statements.
func main() {
	initDisplay()
	gtrace.SyntaxTracer = gologadapter.New()
	tlevel := flag.String("trace", "Error", "Trace level [Debug|Info|Error]")
	loadf := flag.String("load", "", "Program to load on startup")
	flag.Parse()
	tracer().SetTraceLevel(tracing.TraceLevelFromString(*tlevel))
	pterm.Info.Println("Welcome to Oakleaf BASIC")
	//
	sc, err := scan.New()
	if err != nil {
		tracer().Errorf(err.Error())
		os.Exit(3)
	}
	rl, err := readline.New("oak> ")
	if err != nil {
		tracer().Errorf(err.Error())
		os.Exit(3)
	}
	console := &Console{
		scanner: sc,
		repl:    rl,
		lines:   make(map[int]string),
	}
	if *loadf != "" {
		if err := console.load(*loadf); err != nil {
			pterm.Error.Println(err.Error())
		}
	}
	tracer().Infof("Quit with <ctrl>D")
	console.REPL()
}

// We use pterm for moderately fancy output.
func initDisplay() {
	pterm.EnableDebugMessages()
	pterm.Info.Prefix = pterm.Prefix{
		Text:  "  >>",
		Style: pterm.NewStyle(pterm.BgCyan, pterm.FgBlack),
	}
	pterm.Error.Prefix = pterm.Prefix{
		Text:  "  Error",
		Style: pterm.NewStyle(pterm.BgRed, pterm.FgBlack),
	}
}

// Console is the interactive session state: the stored program as numbered
// source lines, plus the engine of the last RUN, which immediate statements
// execute against.
type Console struct {
	scanner *scan.Scanner
	repl    *readline.Instance
	lines   map[int]string
	eng     *exec.Interp
}

// REPL starts interactive mode.
func (c *Console) REPL() {
	for {
		line, err := c.repl.Readline()
		if err != nil { // io.EOF
			break
		}
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		quit, err := c.Execute(line)
		if err != nil {
			pterm.Error.Println(err.Error())
			continue
		}
		if quit {
			break
		}
	}
	println("Good bye!")
}

// Execute handles one console input line.
func (c *Console) Execute(line string) (bool, error) {
	if n, rest, ok := splitLineNumber(line); ok {
		c.edit(n, rest)
		return false, nil
	}
	cmd := strings.ToUpper(firstWord(line))
	switch cmd {
	case "BYE", "QUIT":
		return true, nil
	case "NEW":
		c.lines = make(map[int]string)
		c.eng = nil
		return false, nil
	case "LIST":
		c.list()
		return false, nil
	case "RUN":
		return false, c.run()
	case "LOAD":
		return false, c.load(strings.TrimSpace(line[len(cmd):]))
	case "VARS":
		c.vars(strings.TrimSpace(line[len(cmd):]))
		return false, nil
	}
	return false, c.immediate(line)
}

// splitLineNumber recognizes a numbered program line.
func splitLineNumber(line string) (int, string, bool) {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(line[:i])
	if err != nil {
		return 0, "", false
	}
	return n, strings.TrimSpace(line[i:]), true
}

func firstWord(line string) string {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i]
	}
	return line
}

// edit stores, replaces or (for an empty rest) deletes a program line.
func (c *Console) edit(n int, rest string) {
	if rest == "" {
		delete(c.lines, n)
		return
	}
	c.lines[n] = rest
}

func (c *Console) sortedLineNumbers() []int {
	nums := make([]int, 0, len(c.lines))
	for n := range c.lines {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

func (c *Console) list() {
	for _, n := range c.sortedLineNumbers() {
		fmt.Printf("%5d %s\n", n, c.lines[n])
	}
}

// source renders the stored program back into scannable text.
func (c *Console) source() string {
	var sb strings.Builder
	for _, n := range c.sortedLineNumbers() {
		fmt.Fprintf(&sb, "%d %s\n", n, c.lines[n])
	}
	return sb.String()
}

// load reads a program file into the line store, numbering unnumbered
// lines by tens.
func (c *Console) load(filename string) error {
	if filename == "" {
		return fmt.Errorf("LOAD needs a file name")
	}
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	c.lines = make(map[int]string)
	auto := 0
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimRight(line, "\r"); strings.TrimSpace(line) == "" {
			continue
		}
		if n, rest, ok := splitLineNumber(line); ok {
			c.edit(n, rest)
			auto = n
			continue
		}
		auto += 10
		c.edit(auto, strings.TrimSpace(line))
	}
	tracer().Infof("loaded %d lines from %s", len(c.lines), filename)
	return nil
}

// run tokenizes the stored program, attaches the libraries it names and
// executes it on a fresh engine.
func (c *Console) run() error {
	p, err := c.scanner.Tokenize("main", c.source())
	if err != nil {
		return err
	}
	if err := c.attachLibraries(p); err != nil {
		return err
	}
	c.eng = exec.New(p, os.Stdout, exec.Options{})
	return c.eng.Run()
}

// attachLibraries loads and tokenizes every file a LIBRARY statement names.
func (c *Console) attachLibraries(p *prog.Program) error {
	for i := 0; i < p.Len(); i++ {
		if p.At(oakleaf.Addr(i)).Code != prog.TLibrary {
			continue
		}
		if i+1 >= p.Len() || p.At(oakleaf.Addr(i+1)).Code != prog.TString {
			return fmt.Errorf("LIBRARY needs a quoted file name")
		}
		filename := p.At(oakleaf.Addr(i + 1)).Text
		data, err := ioutil.ReadFile(filename)
		if err != nil {
			return err
		}
		lib, err := c.scanner.Tokenize(filename, string(data))
		if err != nil {
			return err
		}
		p.Attach(lib)
		tracer().Infof("attached library %s", filename)
	}
	return nil
}

// immediate executes an unnumbered statement against the engine of the
// last RUN, so entered variables and defined procedures are reachable.
func (c *Console) immediate(line string) error {
	direct, err := c.scanner.Tokenize("direct", line)
	if err != nil {
		return err
	}
	if c.eng == nil {
		p, err := c.scanner.Tokenize("main", c.source())
		if err != nil {
			return err
		}
		c.eng = exec.New(p, os.Stdout, exec.Options{})
	}
	return c.eng.RunDirect(direct)
}

// vars lists the global variables matching a prefix.
func (c *Console) vars(prefix string) {
	if c.eng == nil {
		pterm.Info.Println("no workspace yet, RUN first")
		return
	}
	names := c.eng.Symbols().Globals.List(prefix)
	if len(names) == 0 {
		pterm.Info.Println("no matching variables")
		return
	}
	for _, nm := range names {
		pterm.Println(nm)
	}
}
