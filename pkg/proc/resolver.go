package proc

// Resolver is the narrow symbol query interface the engine consumes.
// It is constructed once per debug session from the target binary's
// embedded debug data; the symbols package provides the
// implementation.
type Resolver interface {
	// FunctionForPC resolves an instruction address to the name of the
	// function containing it.
	FunctionForPC(pc uint64) (string, bool)
	// LineForPC resolves an instruction address to a source position.
	LineForPC(pc uint64) (file string, line int, ok bool)
	// PCForFunction resolves a function name to its entry address.
	PCForFunction(name string) (uint64, bool)
	// PCForLine resolves a source line number to the address of its
	// first statement.
	PCForLine(line int) (uint64, bool)
}
