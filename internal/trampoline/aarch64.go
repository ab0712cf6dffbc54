package trampoline

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
)

var archARM64 = &arch{
	name:        "arm64",
	patchLen:    4,
	branchRange: 1<<27 - 1<<16,
	branch:      arm64Branch,
	absJump:     arm64AbsJump,
	measure:     arm64Measure,
	relocate:    arm64Relocate,
}

// arm64Branch encodes B imm26.
func arm64Branch(from, to uintptr) ([]byte, error) {
	off := int64(to) - int64(from)
	if off%4 != 0 || off < -(1<<27) || off >= 1<<27 {
		return nil, fmt.Errorf("b imm26 from %#x cannot reach %#x", from, to)
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, 0x14000000|uint32(off>>2)&0x03ffffff)
	return b, nil
}

// arm64AbsJump encodes LDR X16, #8; BR X16; .quad to. X16 is the IP0
// scratch register the procedure call standard lets veneers clobber.
func arm64AbsJump(to uintptr) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:], 0x58000050)
	binary.LittleEndian.PutUint32(b[4:], 0xd61f0200)
	binary.LittleEndian.PutUint64(b[8:], uint64(to))
	return b
}

func arm64Measure(code []byte, need int) (int, error) {
	if len(code) < need {
		return 0, fmt.Errorf("%w: prologue truncated", errUndecodable)
	}
	return need, nil
}

// isHint matches the HINT space (NOP, BTI, PACIASP, ...), which is position
// independent.
func isHint(word uint32) bool {
	return word&0xfffff01f == 0xd503201f
}

func arm64Relocate(code []byte, from, to uintptr) ([]byte, error) {
	out := make([]byte, 0, len(code))
	for off := 0; off+4 <= len(code); off += 4 {
		word := binary.LittleEndian.Uint32(code[off:])
		if !isHint(word) {
			inst, err := arm64asm.Decode(code[off:])
			if err != nil {
				return nil, fmt.Errorf("%w: +%d: %v", errNotRelocatable, off, err)
			}
			for _, a := range inst.Args {
				if a == nil {
					break
				}
				if _, ok := a.(arm64asm.PCRel); ok {
					return nil, fmt.Errorf("%w: pc-relative %v at +%d", errNotRelocatable, inst.Op, off)
				}
			}
		}
		out = append(out, code[off:off+4]...)
	}
	return out, nil
}
