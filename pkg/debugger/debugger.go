// Package debugger provides the session layer tying process control,
// breakpoints, symbols and stack unwinding together.
package debugger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/stackprobe/sdb/pkg/config"
	"github.com/stackprobe/sdb/pkg/locspec"
	"github.com/stackprobe/sdb/pkg/logflags"
	"github.com/stackprobe/sdb/pkg/proc"
	"github.com/stackprobe/sdb/pkg/symbols"
)

// ErrNoInferior is returned by operations that need a running target
// when there is none.
var ErrNoInferior = errors.New("nothing running")

// Session holds all the state of one debugging session: the target
// path, its symbol table, the requested breakpoints and the currently
// traced process, if any. It is passed explicitly through every
// operation; there are no package globals.
//
// A Session owns at most one live traced child at any time. Restarting
// fully tears down the previous child before spawning the next.
type Session struct {
	target string
	syms   *symbols.Table
	conf   *config.Config

	inferior *proc.Inferior
	store    *proc.BreakpointStore

	// pending is the full set of requested breakpoint addresses. It
	// survives process restarts; the store only tracks what is patched
	// into the currently live child.
	pending map[uint64]struct{}

	log *logrus.Entry
}

// New returns a session for the given target binary.
func New(target string, syms *symbols.Table, conf *config.Config) *Session {
	return &Session{
		target:  target,
		syms:    syms,
		conf:    conf,
		store:   proc.NewBreakpointStore(),
		pending: make(map[uint64]struct{}),
		log:     logflags.DebuggerLogger(),
	}
}

// Target returns the path of the binary being debugged.
func (d *Session) Target() string {
	return d.target
}

// Symbols returns the symbol table of the target.
func (d *Session) Symbols() *symbols.Table {
	return d.syms
}

// Running reports whether a traced child currently exists.
func (d *Session) Running() bool {
	return d.inferior != nil
}

// Run starts (or restarts) the target with the given arguments,
// installs all requested breakpoints against the fresh process and
// continues it until the first stop.
func (d *Session) Run(args []string) (proc.Status, error) {
	d.dispose()

	inf, err := proc.Launch(d.target, args)
	if err != nil {
		return nil, err
	}
	d.inferior = inf
	d.log.WithField("pid", inf.Pid()).Info("target launched")

	if err := d.store.InstallAll(d.pendingAddrs(), inf); err != nil {
		d.dispose()
		return nil, fmt.Errorf("could not install breakpoints: %v", err)
	}

	return d.resume()
}

// Attach takes over an already running process and installs the
// requested breakpoints against it.
func (d *Session) Attach(pid int) error {
	d.dispose()

	inf, err := proc.Attach(pid)
	if err != nil {
		return err
	}
	d.inferior = inf
	d.log.WithField("pid", pid).Info("attached to target")

	if err := d.store.InstallAll(d.pendingAddrs(), inf); err != nil {
		d.dispose()
		return fmt.Errorf("could not install breakpoints: %v", err)
	}
	return nil
}

// Continue resumes the stopped target until the next trap, exit or
// fatal signal. Breakpoints requested while the target was stopped are
// installed before resuming.
func (d *Session) Continue() (proc.Status, error) {
	if d.inferior == nil {
		return nil, ErrNoInferior
	}
	if err := d.store.InstallAll(d.pendingAddrs(), d.inferior); err != nil {
		return nil, fmt.Errorf("could not install breakpoints: %v", err)
	}
	return d.resume()
}

// StepInstruction executes one machine instruction of the stopped
// target, stepping over an installed breakpoint correctly.
func (d *Session) StepInstruction() (proc.Status, error) {
	if d.inferior == nil {
		return nil, ErrNoInferior
	}
	status, err := d.inferior.StepOnce(d.store)
	if err != nil {
		d.checkInvariant(err)
		return nil, err
	}
	d.observe(status)
	return status, nil
}

func (d *Session) resume() (proc.Status, error) {
	status, err := d.inferior.Continue(d.store)
	if err != nil {
		d.checkInvariant(err)
		return nil, fmt.Errorf("failed to continue: %v", err)
	}
	d.observe(status)
	return status, nil
}

// observe disposes of the inferior when a terminal status is seen.
func (d *Session) observe(status proc.Status) {
	switch status.(type) {
	case proc.Exited, proc.Signaled:
		d.log.WithField("status", status.String()).Info("target gone")
		d.dispose()
	}
}

// checkInvariant aborts the program on wait outcomes the tracing
// protocol does not allow. Guessing at the state of a half-known
// inferior is worse than dying.
func (d *Session) checkInvariant(err error) {
	var uerr proc.UnexpectedWaitStatusError
	if errors.As(err, &uerr) {
		d.log.Logger.Level = logrus.DebugLevel
		d.log.Fatalf("internal error: %v", uerr)
	}
}

// dispose tears down the current inferior, if any, folding the
// installed breakpoint addresses back into the pending set. Original
// byte values are discarded with the process that owned them.
func (d *Session) dispose() {
	for _, addr := range d.store.Forget() {
		d.pending[addr] = struct{}{}
	}
	if d.inferior == nil {
		return
	}
	if err := d.inferior.Kill(); err != nil {
		d.log.WithError(err).Warn("could not kill inferior")
	}
	d.inferior = nil
}

func (d *Session) pendingAddrs() []uint64 {
	addrs := make([]uint64, 0, len(d.pending))
	for addr := range d.pending {
		addrs = append(addrs, addr)
	}
	return addrs
}

// SetBreakpoint resolves the given breakpoint specification and adds
// it to the session. When a target is running the trap is patched in
// immediately; otherwise it takes effect on the next run. The resolved
// address is returned.
func (d *Session) SetBreakpoint(spec string) (uint64, error) {
	loc, err := locspec.Parse(spec)
	if err != nil {
		return 0, err
	}

	addr, err := loc.Resolve(d.syms)
	if err != nil {
		if fl, ok := loc.(*locspec.FuncLocationSpec); ok {
			if suggestions := d.syms.Suggest(fl.Name); len(suggestions) > 0 {
				return 0, fmt.Errorf("%v (did you mean %v?)", err, suggestions)
			}
		}
		return 0, err
	}

	if _, ok := d.pending[addr]; ok {
		return 0, proc.BreakpointExistsError{Addr: addr}
	}

	d.pending[addr] = struct{}{}
	if d.inferior != nil {
		if err := d.store.Install(addr, d.inferior); err != nil {
			delete(d.pending, addr)
			return 0, err
		}
	}

	d.log.WithField("addr", fmt.Sprintf("%#x", addr)).Debug("breakpoint set")
	return addr, nil
}

// ClearBreakpoint removes the breakpoint described by spec, restoring
// the patched byte if a target is running.
func (d *Session) ClearBreakpoint(spec string) (uint64, error) {
	loc, err := locspec.Parse(spec)
	if err != nil {
		return 0, err
	}
	addr, err := loc.Resolve(d.syms)
	if err != nil {
		return 0, err
	}

	if _, ok := d.pending[addr]; !ok && !d.store.IsInstalled(addr) {
		return 0, fmt.Errorf("no breakpoint at %#x", addr)
	}

	delete(d.pending, addr)
	if d.inferior != nil {
		if err := d.store.Restore(addr, d.inferior); err != nil {
			return 0, err
		}
	}
	return addr, nil
}

// Breakpoints returns every requested breakpoint address, sorted.
func (d *Session) Breakpoints() []uint64 {
	addrs := d.pendingAddrs()
	for _, addr := range d.store.Installed() {
		if _, ok := d.pending[addr]; !ok {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Backtrace reconstructs the call chain of the stopped target down to
// the entry function.
func (d *Session) Backtrace() ([]proc.Stackframe, error) {
	if d.inferior == nil {
		return nil, ErrNoInferior
	}
	return d.inferior.Stacktrace(d.syms, d.conf.EntryFunction, d.conf.MaxBacktraceDepth)
}

// Detach detaches from the current target, leaving it running without
// patched breakpoints.
func (d *Session) Detach() error {
	if d.inferior == nil {
		return ErrNoInferior
	}
	for _, addr := range d.store.Installed() {
		if err := d.store.Restore(addr, d.inferior); err != nil {
			return fmt.Errorf("could not remove breakpoint at %#x before detach: %v", addr, err)
		}
		d.pending[addr] = struct{}{}
	}
	err := d.inferior.Detach()
	d.inferior = nil
	return err
}

// TerminateSession kills and reaps the current target, if any. The
// requested breakpoint set is retained for a later run.
func (d *Session) TerminateSession() {
	d.dispose()
}

// FormatStop renders a stop report. Source information is included
// when the stop address resolves; an address with no known symbol
// degrades to the raw hex form rather than failing, unlike backtrace
// which treats missing symbols as an error.
func (d *Session) FormatStop(st proc.Stopped) string {
	if !d.conf.ShowSource {
		return st.String()
	}

	// At a breakpoint stop the reported instruction pointer is one
	// byte past the trap; resolve the trap address instead.
	lookupPC := st.PC
	if d.store.IsInstalled(st.PC - 1) {
		lookupPC = st.PC - 1
	}

	fn, ok := d.syms.FunctionForPC(lookupPC)
	if !ok {
		return st.String()
	}
	if file, line, ok := d.syms.LineForPC(lookupPC); ok {
		return fmt.Sprintf("%s in %s at %s:%d", st.String(), fn, file, line)
	}
	return fmt.Sprintf("%s in %s", st.String(), fn)
}
