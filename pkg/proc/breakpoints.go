package proc

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/stackprobe/sdb/pkg/logflags"
)

// breakInstruction is the one-byte INT 3 trap opcode used to implement
// software breakpoints on amd64.
const breakInstruction byte = 0xCC

// BreakpointStore maintains the mapping between trap-patched addresses
// and the original bytes they displaced. It is the single source of
// truth for what the original byte at an installed address was: an
// address is present in the store if and only if the trap byte
// currently occupies that byte in the inferior's memory.
type BreakpointStore struct {
	originals map[uint64]byte
	log       *logrus.Entry
}

// BreakpointExistsError is returned when trying to install a
// breakpoint at an address that already has one.
type BreakpointExistsError struct {
	Addr uint64
}

func (e BreakpointExistsError) Error() string {
	return fmt.Sprintf("breakpoint already installed at %#x", e.Addr)
}

// NewBreakpointStore returns an empty store.
func NewBreakpointStore() *BreakpointStore {
	return &BreakpointStore{
		originals: make(map[uint64]byte),
		log:       logflags.InferiorLogger(),
	}
}

// Install patches the trap opcode into the inferior at addr and
// records the displaced byte. The ptrace memory primitives operate at
// word granularity, so the patch is a read-modify-write over the
// aligned word containing addr.
func (s *BreakpointStore) Install(addr uint64, inf *Inferior) error {
	if _, ok := s.originals[addr]; ok {
		return BreakpointExistsError{Addr: addr}
	}

	aligned := addr &^ (WordSize - 1)
	shift := (addr - aligned) * 8

	word, err := inf.ReadWord(aligned)
	if err != nil {
		return err
	}
	orig := byte(word >> shift)

	patched := word&^(uint64(0xff)<<shift) | uint64(breakInstruction)<<shift
	if err := inf.WriteWord(aligned, patched); err != nil {
		return err
	}

	s.originals[addr] = orig
	s.log.WithFields(logrus.Fields{"addr": fmt.Sprintf("%#x", addr), "orig": fmt.Sprintf("%#x", orig)}).Debug("breakpoint installed")
	return nil
}

// InstallAll installs every address from addrs that is not already
// installed. Breakpoints set while the inferior was stopped take
// effect before it is resumed.
func (s *BreakpointStore) InstallAll(addrs []uint64, inf *Inferior) error {
	for _, addr := range addrs {
		if s.IsInstalled(addr) {
			continue
		}
		if err := s.Install(addr, inf); err != nil {
			return err
		}
	}
	return nil
}

// Restore writes the recorded original byte back over the trap opcode
// at addr and removes the address from the store. Restoring an address
// with no installed breakpoint is a no-op.
func (s *BreakpointStore) Restore(addr uint64, inf *Inferior) error {
	orig, ok := s.originals[addr]
	if !ok {
		return nil
	}

	aligned := addr &^ (WordSize - 1)
	shift := (addr - aligned) * 8

	word, err := inf.ReadWord(aligned)
	if err != nil {
		return err
	}

	restored := word&^(uint64(0xff)<<shift) | uint64(orig)<<shift
	if err := inf.WriteWord(aligned, restored); err != nil {
		return err
	}

	delete(s.originals, addr)
	s.log.WithField("addr", fmt.Sprintf("%#x", addr)).Debug("breakpoint restored")
	return nil
}

// IsInstalled reports whether a breakpoint is currently patched in at
// addr.
func (s *BreakpointStore) IsInstalled(addr uint64) bool {
	_, ok := s.originals[addr]
	return ok
}

// Installed returns the sorted set of currently installed addresses.
func (s *BreakpointStore) Installed() []uint64 {
	addrs := make([]uint64, 0, len(s.originals))
	for addr := range s.originals {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Forget drops all recorded breakpoints and returns their addresses so
// they can be re-armed against a future process. The original byte
// values are discarded: a freshly loaded image may differ, so they are
// never reused across processes.
func (s *BreakpointStore) Forget() []uint64 {
	addrs := s.Installed()
	s.originals = make(map[uint64]byte)
	return addrs
}
