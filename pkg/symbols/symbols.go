// Package symbols maps instruction addresses to source positions and
// function names, and resolves function names and source lines back to
// addresses, using the DWARF debug data embedded in the target binary.
package symbols

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sort"
	"strings"

	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/stackprobe/sdb/pkg/logflags"
)

// lineCacheSize bounds the PC to source line cache. Unwinding and stop
// reporting resolve the same small set of addresses repeatedly.
const lineCacheSize = 256

// OpenError indicates the target binary could not be opened at all.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("could not open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// FormatError indicates the target binary carries no debug data the
// debugger can use, or data it cannot parse. A session cannot proceed
// without symbols, so this is fatal at startup.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("could not load debugging symbols from %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

type funcRange struct {
	name      string
	low, high uint64
}

type lineEntry struct {
	pc   uint64
	file string
	line int
}

// Table holds the symbol and line information of one target binary.
// It implements the proc.Resolver interface.
type Table struct {
	path string

	funcs  map[string]uint64
	ranges []funcRange

	lines  []lineEntry
	byLine map[int]uint64

	names *trie.Trie
	cache *lru.Cache
	log   *logrus.Entry
}

// New parses the ELF and DWARF data of the binary at path and builds
// the lookup tables.
func New(path string) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		if _, ok := err.(*elf.FormatError); ok {
			return nil, &FormatError{Path: path, Err: err}
		}
		return nil, &OpenError{Path: path, Err: err}
	}
	defer f.Close()

	data, err := f.DWARF()
	if err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}

	cache, err := lru.New(lineCacheSize)
	if err != nil {
		return nil, err
	}

	t := &Table{
		path:   path,
		funcs:  make(map[string]uint64),
		byLine: make(map[int]uint64),
		names:  trie.New(),
		cache:  cache,
		log:    logflags.SymbolsLogger(),
	}

	if err := t.loadFunctions(data); err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}
	if err := t.loadLines(data); err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}

	sort.Slice(t.ranges, func(i, j int) bool { return t.ranges[i].low < t.ranges[j].low })
	sort.Slice(t.lines, func(i, j int) bool { return t.lines[i].pc < t.lines[j].pc })

	t.log.WithFields(logrus.Fields{"funcs": len(t.funcs), "lines": len(t.lines)}).Debug("symbol table loaded")
	return t, nil
}

func (t *Table) loadFunctions(data *dwarf.Data) error {
	reader := data.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}

		name, ok := entry.Val(dwarf.AttrName).(string)
		if !ok {
			continue
		}
		low, ok := entry.Val(dwarf.AttrLowpc).(uint64)
		if !ok {
			continue
		}
		high := lowHigh(low, entry.Val(dwarf.AttrHighpc))

		t.funcs[name] = low
		t.ranges = append(t.ranges, funcRange{name: name, low: low, high: high})
		t.names.Add(name, low)
	}
	return nil
}

// lowHigh normalizes the DWARF high pc attribute, which is encoded
// either as an address or as an offset from the low pc.
func lowHigh(low uint64, highAttr interface{}) uint64 {
	switch high := highAttr.(type) {
	case uint64:
		return high
	case int64:
		return low + uint64(high)
	}
	return low
}

func (t *Table) loadLines(data *dwarf.Data) error {
	reader := data.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			continue
		}

		// Line number specs refer to the target's own sources, so only
		// the main compile unit feeds the line-to-address map. Other
		// units (the runtime, vendored packages) still feed the
		// address-to-line table used by unwinding and stop reports.
		cuName, _ := entry.Val(dwarf.AttrName).(string)
		mainUnit := cuName == "main"

		lr, err := data.LineReader(entry)
		if err != nil {
			return err
		}
		if lr == nil {
			continue
		}

		var le dwarf.LineEntry
		for {
			err := lr.Next(&le)
			if err == dwarf.ErrUnknownPC {
				continue
			}
			if err != nil {
				break
			}
			if le.EndSequence || !le.IsStmt || le.File == nil {
				continue
			}

			t.lines = append(t.lines, lineEntry{pc: le.Address, file: le.File.Name, line: le.Line})
			if mainUnit {
				if pc, ok := t.byLine[le.Line]; !ok || le.Address < pc {
					t.byLine[le.Line] = le.Address
				}
			}
		}
		reader.SkipChildren()
	}
	return nil
}

// Path returns the path of the binary the table was built from.
func (t *Table) Path() string {
	return t.path
}

// FunctionForPC resolves an instruction address to the name of the
// function containing it.
func (t *Table) FunctionForPC(pc uint64) (string, bool) {
	i := sort.Search(len(t.ranges), func(i int) bool { return t.ranges[i].low > pc })
	if i == 0 {
		return "", false
	}
	r := t.ranges[i-1]
	if pc >= r.low && pc < r.high {
		return r.name, true
	}
	return "", false
}

// LineForPC resolves an instruction address to the source position of
// the statement containing it.
func (t *Table) LineForPC(pc uint64) (string, int, bool) {
	if v, ok := t.cache.Get(pc); ok {
		le := v.(lineEntry)
		return le.file, le.line, true
	}

	// The address must fall inside a known function, otherwise the
	// nearest preceding line entry may belong to unrelated code.
	if _, ok := t.FunctionForPC(pc); !ok {
		return "", 0, false
	}

	i := sort.Search(len(t.lines), func(i int) bool { return t.lines[i].pc > pc })
	if i == 0 {
		return "", 0, false
	}
	le := t.lines[i-1]
	t.cache.Add(pc, le)
	return le.file, le.line, true
}

// PCForFunction resolves a function name to its entry address. A name
// without a package qualifier also matches a qualified function with
// that base name, so "main" finds "main.main".
func (t *Table) PCForFunction(name string) (uint64, bool) {
	if pc, ok := t.funcs[name]; ok {
		return pc, true
	}
	if !strings.Contains(name, ".") {
		suffix := "." + name
		for fn, pc := range t.funcs {
			if strings.HasSuffix(fn, suffix) {
				return pc, true
			}
		}
	}
	return 0, false
}

// PCForLine resolves a source line number to the address of its first
// statement.
func (t *Table) PCForLine(line int) (uint64, bool) {
	pc, ok := t.byLine[line]
	return pc, ok
}

// Functions returns all known function names, sorted.
func (t *Table) Functions() []string {
	keys := t.names.Keys()
	sort.Strings(keys)
	return keys
}

// FunctionsWithPrefix returns the function names starting with the
// given prefix, used for terminal tab completion.
func (t *Table) FunctionsWithPrefix(prefix string) []string {
	return t.names.PrefixSearch(prefix)
}

// Suggest performs a fuzzy search for names resembling the given one,
// used to hint at typos in breakpoint specifications.
func (t *Table) Suggest(name string) []string {
	matches := t.names.FuzzySearch(name)
	if len(matches) > 3 {
		matches = matches[:3]
	}
	return matches
}
