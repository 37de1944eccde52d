// Package locspec implements code to parse a string into a breakpoint
// location specification.
//
// Location spec examples:
//
// locStr ::= *<address> | <line> | <function>
//   - *<address> is a raw instruction address in hexadecimal, with an
//     optional 0x prefix: *0x1000 and *1000 both mean address 4096
//   - <line> is a bare non-negative decimal source line number
//   - anything else is taken as a function name
package locspec

import (
	"fmt"
	"strconv"
	"strings"
)

// LocationSpec is a parsed location spec string. It is one of
// AddrLocationSpec, LineLocationSpec or FuncLocationSpec.
type LocationSpec interface {
	// Resolve maps the spec to a concrete instruction address through
	// the given resolver.
	Resolve(res Resolver) (uint64, error)
}

// Resolver is the subset of symbol queries location resolution needs.
type Resolver interface {
	PCForFunction(name string) (uint64, bool)
	PCForLine(line int) (uint64, bool)
}

// AddrLocationSpec represents a raw address used as a location spec.
type AddrLocationSpec struct {
	Addr uint64
}

// LineLocationSpec represents a source line number.
type LineLocationSpec struct {
	Line int
}

// FuncLocationSpec represents a function in the target program.
type FuncLocationSpec struct {
	Name string
}

// Parse turns locStr into a parsed LocationSpec.
func Parse(locStr string) (LocationSpec, error) {
	if locStr == "" {
		return nil, fmt.Errorf("malformed breakpoint location: empty string")
	}

	if strings.HasPrefix(locStr, "*") {
		addrStr := strings.TrimPrefix(locStr, "*")
		addrStr = strings.TrimPrefix(strings.TrimPrefix(addrStr, "0x"), "0X")
		addr, err := strconv.ParseUint(addrStr, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed breakpoint address %q: %v", locStr, err)
		}
		return &AddrLocationSpec{Addr: addr}, nil
	}

	if line, err := strconv.ParseUint(locStr, 10, 64); err == nil {
		return &LineLocationSpec{Line: int(line)}, nil
	}

	return &FuncLocationSpec{Name: locStr}, nil
}

// Resolve returns the raw address unchanged.
func (spec *AddrLocationSpec) Resolve(res Resolver) (uint64, error) {
	return spec.Addr, nil
}

// Resolve maps the line number to the address of its first statement.
func (spec *LineLocationSpec) Resolve(res Resolver) (uint64, error) {
	pc, ok := res.PCForLine(spec.Line)
	if !ok {
		return 0, fmt.Errorf("could not find an address for line %d", spec.Line)
	}
	return pc, nil
}

// Resolve maps the function name to its entry address.
func (spec *FuncLocationSpec) Resolve(res Resolver) (uint64, error) {
	pc, ok := res.PCForFunction(spec.Name)
	if !ok {
		return 0, fmt.Errorf("could not find a function named %s", spec.Name)
	}
	return pc, nil
}
