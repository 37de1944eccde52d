package proc

import "fmt"

// Stackframe represents one frame of the call chain reconstructed
// during an unwind. Frames are ephemeral display values.
type Stackframe struct {
	PC       uint64
	Function string
	File     string
	Line     int
}

func (f Stackframe) String() string {
	if f.File == "" {
		return fmt.Sprintf("%#x in %s", f.PC, f.Function)
	}
	return fmt.Sprintf("%#x in %s at %s:%d", f.PC, f.Function, f.File, f.Line)
}

// UnknownFunctionError is returned when an instruction address on the
// unwind path does not resolve to any known function. It indicates
// missing or corrupted symbol data; the walk stops rather than
// silently truncating.
type UnknownFunctionError struct {
	PC uint64
}

func (e UnknownFunctionError) Error() string {
	return fmt.Sprintf("no known function at %#x", e.PC)
}

// stackIterator walks saved frame-pointer linkage. It is a lazy,
// finite, non-restartable sequence: each frame's return address is
// read at fp+WordSize and the saved caller frame pointer at fp, per
// the standard frame-pointer calling convention. The walk terminates
// after emitting the frame whose function is the entry function.
type stackIterator struct {
	inf      *Inferior
	res      Resolver
	entryFn  string
	maxDepth int

	pc, fp uint64
	depth  int

	frame Stackframe
	err   error
	atend bool
}

func newStackIterator(inf *Inferior, res Resolver, pc, fp uint64, entryFn string, maxDepth int) *stackIterator {
	return &stackIterator{
		inf:      inf,
		res:      res,
		entryFn:  entryFn,
		maxDepth: maxDepth,
		pc:       pc,
		fp:       fp,
	}
}

// Next advances the iterator, returning false when the walk is over.
// Check Err after Next returns false.
func (it *stackIterator) Next() bool {
	if it.atend || it.err != nil {
		return false
	}
	if it.depth >= it.maxDepth {
		it.err = fmt.Errorf("backtrace exceeds %d frames, frame pointer data is likely corrupt", it.maxDepth)
		return false
	}

	fn, ok := it.res.FunctionForPC(it.pc)
	if !ok {
		it.err = UnknownFunctionError{PC: it.pc}
		return false
	}
	file, line, _ := it.res.LineForPC(it.pc)

	it.frame = Stackframe{PC: it.pc, Function: fn, File: file, Line: line}
	it.depth++

	if fn == it.entryFn {
		it.atend = true
		return true
	}

	ret, err := it.inf.ReadWord(it.fp + WordSize)
	if err != nil {
		it.err = fmt.Errorf("could not read return address: %v", err)
		it.atend = true
		return true
	}
	savedfp, err := it.inf.ReadWord(it.fp)
	if err != nil {
		it.err = fmt.Errorf("could not read saved frame pointer: %v", err)
		it.atend = true
		return true
	}

	it.pc, it.fp = ret, savedfp
	return true
}

// Frame returns the frame the iterator is currently positioned at.
func (it *stackIterator) Frame() Stackframe {
	return it.frame
}

// Err returns the error encountered during the walk, if any.
func (it *stackIterator) Err() error {
	return it.err
}

// Stacktrace reconstructs the call chain from the current stop,
// walking saved frame pointers until the frame resolving to entryFn
// has been emitted. The walk fails if any address along the way does
// not resolve to a function.
func (inf *Inferior) Stacktrace(res Resolver, entryFn string, maxDepth int) ([]Stackframe, error) {
	regs, err := inf.Registers()
	if err != nil {
		return nil, err
	}

	it := newStackIterator(inf, res, regs.PC(), regs.FP(), entryFn, maxDepth)
	frames := make([]Stackframe, 0, 8)
	for it.Next() {
		frames = append(frames, it.Frame())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}
