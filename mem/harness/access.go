package harness

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// AccessKind is the operation a core performs.
type AccessKind uint8

// Access kinds, named by their trace letter.
const (
	Read AccessKind = iota
	Write
	Fetch
	NonAllocatingStore
)

var accessLetters = [...]string{"R", "W", "F", "N"}

func (k AccessKind) String() string {
	if int(k) < len(accessLetters) {
		return accessLetters[k]
	}

	return fmt.Sprintf("AccessKind(%d)", uint8(k))
}

// An Access is one line of a trace.
type Access struct {
	Kind    AccessKind
	Address uint64
	Core    int
}

func (a Access) String() string {
	return fmt.Sprintf("%s %#x %d", a.Kind, a.Address, a.Core)
}

// ErrTrace is wrapped by every trace parsing error.
var ErrTrace = errors.New("bad trace")

// ParseTrace reads one access per line in the form "R|W|F|N <addr> <core>".
// Addresses may be decimal or 0x-prefixed hex. Blank lines and lines starting
// with '#' are skipped.
func ParseTrace(r io.Reader) ([]Access, error) {
	var accesses []Access

	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		access, err := parseAccess(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrTrace, lineNo, err)
		}

		accesses = append(accesses, access)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return accesses, nil
}

func parseAccess(line string) (Access, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Access{}, fmt.Errorf("want 3 fields, got %d", len(fields))
	}

	kind, err := parseKind(fields[0])
	if err != nil {
		return Access{}, err
	}

	addr, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		return Access{}, fmt.Errorf("address %q: %v", fields[1], err)
	}

	core, err := strconv.Atoi(fields[2])
	if err != nil || core < 0 {
		return Access{}, fmt.Errorf("core %q is not a core number", fields[2])
	}

	return Access{Kind: kind, Address: addr, Core: core}, nil
}

func parseKind(s string) (AccessKind, error) {
	for i, l := range accessLetters {
		if strings.EqualFold(s, l) {
			return AccessKind(i), nil
		}
	}

	return 0, fmt.Errorf("unknown access %q", s)
}

// SplitByCore groups accesses by core, keeping the order within each core.
// Accesses of cores at or beyond numCores are rejected.
func SplitByCore(accesses []Access, numCores int) ([][]Access, error) {
	perCore := make([][]Access, numCores)

	for _, a := range accesses {
		if a.Core >= numCores {
			return nil, fmt.Errorf("%w: %s: only %d cores", ErrTrace, a,
				numCores)
		}

		perCore[a.Core] = append(perCore[a.Core], a)
	}

	return perCore, nil
}
