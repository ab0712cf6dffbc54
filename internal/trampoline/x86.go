package trampoline

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/arch/x86/x86asm"
)

var archAMD64 = &arch{
	name:        "amd64",
	patchLen:    5,
	branchRange: 1<<31 - 1<<20,
	branch:      amd64Branch,
	absJump:     amd64AbsJump,
	measure:     amd64Measure,
	relocate:    amd64Relocate,
}

// amd64Branch encodes JMP rel32.
func amd64Branch(from, to uintptr) ([]byte, error) {
	rel := int64(to) - int64(from) - 5
	if rel < math.MinInt32 || rel > math.MaxInt32 {
		return nil, fmt.Errorf("jmp rel32 from %#x cannot reach %#x", from, to)
	}
	b := make([]byte, 5)
	b[0] = 0xe9
	binary.LittleEndian.PutUint32(b[1:], uint32(int32(rel)))
	return b, nil
}

// amd64AbsJump encodes JMP [RIP+0] followed by the 64-bit destination. No
// register is clobbered.
func amd64AbsJump(to uintptr) []byte {
	b := []byte{
		0xff, 0x25, 0x00, 0x00, 0x00, 0x00,
		0, 0, 0, 0, 0, 0, 0, 0,
	}
	binary.LittleEndian.PutUint64(b[6:], uint64(to))
	return b
}

func isEndbr(code []byte) bool {
	return len(code) >= 4 && code[0] == 0xf3 && code[1] == 0x0f && code[2] == 0x1e &&
		(code[3] == 0xfa || code[3] == 0xfb)
}

func endsFlow(op x86asm.Op) bool {
	switch op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.UD2, x86asm.HLT:
		return true
	}
	return false
}

func amd64Measure(code []byte, need int) (int, error) {
	off := 0
	for off < need {
		if off >= len(code) {
			return 0, fmt.Errorf("%w: prologue truncated at +%d", errUndecodable, off)
		}
		if isEndbr(code[off:]) {
			off += 4
			continue
		}
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: +%d: %v", errUndecodable, off, err)
		}
		off += inst.Len
		if off < need && endsFlow(inst.Op) {
			return 0, fmt.Errorf("%w: %v at +%d", errTooShort, inst.Op, off-inst.Len)
		}
	}
	return off, nil
}

// amd64Relocate copies whole instructions, re-targeting 32-bit PC-relative
// displacements (rel32 branches and RIP-relative operands). Shorter
// PC-relative forms cannot be widened in place and are refused.
func amd64Relocate(code []byte, from, to uintptr) ([]byte, error) {
	out := make([]byte, 0, len(code))
	for off := 0; off < len(code); {
		if isEndbr(code[off:]) {
			out = append(out, code[off:off+4]...)
			off += 4
			continue
		}
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: +%d: %v", errNotRelocatable, off, err)
		}
		buf := append([]byte(nil), code[off:off+inst.Len]...)
		switch inst.PCRel {
		case 0:
		case 4:
			disp := int32(binary.LittleEndian.Uint32(buf[inst.PCRelOff:]))
			dest := int64(from) + int64(off+inst.Len) + int64(disp)
			moved := dest - (int64(to) + int64(len(out)+inst.Len))
			if moved < math.MinInt32 || moved > math.MaxInt32 {
				return nil, fmt.Errorf("%w: %v at +%d cannot reach %#x", errNotRelocatable, inst.Op, off, dest)
			}
			binary.LittleEndian.PutUint32(buf[inst.PCRelOff:], uint32(int32(moved)))
		default:
			return nil, fmt.Errorf("%w: %d-byte pc-relative %v at +%d", errNotRelocatable, inst.PCRel, inst.Op, off)
		}
		out = append(out, buf...)
		off += inst.Len
	}
	return out, nil
}
