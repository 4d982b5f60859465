/*
Copyright (C) 2019-2020 Andreas T Jonsson

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

package cpu

import (
	"github.com/8086emu/core/emulator/memory"
)

// zero16 backs LEA's segment-override trick in exec.go: LEA installs it as
// the segment override so the ModR/M lookup resolves against segment 0,
// which makes the resolved pointer equal the bare effective offset.
var zero16 uint16

// instructionState is the decode scratch for the instruction currently
// being fetched. Its prefix tags are reset at the top of every parseOpcode
// call (§3: prefix tags "MUST be cleared at the top of every instruction
// fetch"); trap is the one field carried from one step to the next.
type instructionState struct {
	opcode, modRegRM, repeatMode byte

	isWide, rmToReg bool
	decodeAt        uint16
	segOverride     *uint16

	// trap latches TF from the end of the previous instruction; a
	// pending trap fires INT 1 before the next opcode is fetched (§4.3
	// combined with the single-step debug-interrupt behavior carried
	// over from the source).
	trap bool
}

func (p *CPU) getReg() byte {
	return (p.modRegRM >> 3) & 7
}

func (p *CPU) regLocation() dataLocation {
	return dataLocation(p.getReg()) | registerLocation
}

func (p *CPU) segLocation() dataLocation {
	return dataLocation(p.getReg()) | segmentLocation
}

func (p *CPU) rmLocation() dataLocation {
	idx := p.modRegRM & 0xC7
	f := modRMLookup[idx]
	return f(p)
}

func (p *CPU) peekOpcodeStream() byte {
	return p.ReadByte(memory.NewPointer(p.CS, p.IP))
}

func (p *CPU) readOpcodeStream() byte {
	v := p.peekOpcodeStream()
	p.IP++
	return v
}

func (p *CPU) readOpcodeImm16() uint16 {
	v := p.ReadWord(memory.NewPointer(p.CS, p.IP))
	p.IP += 2
	return v
}

func (p *CPU) readModRegRM() {
	p.modRegRM = p.readOpcodeStream()
}

func (p *CPU) parseOperands() (dataLocation, dataLocation) {
	p.readModRegRM()
	reg, rm := p.regLocation(), p.rmLocation()
	if p.rmToReg {
		return reg, rm
	}
	return rm, reg
}

// parseOpcode consumes prefix bytes (segment override, REP/REPNE, LOCK)
// in a loop, then reads the opcode byte itself. The loop has no count
// limit: it runs until the first byte that is not a prefix, and a later
// prefix of the same kind replaces an earlier one. §9's "after_prefix"
// back-edge is this loop: prefix bytes advance IP but are never
// instructions in their own right.
func (p *CPU) parseOpcode() {
	p.segOverride = nil
	p.repeatMode = 0
	p.decodeAt = p.IP

	var op byte
loop:
	for {
		op = p.readOpcodeStream()
		switch op {
		case 0x26: // ES:
			p.segOverride = &p.ES
		case 0x2E: // CS:
			p.segOverride = &p.CS
		case 0x36: // SS:
			p.segOverride = &p.SS
		case 0x3E: // DS:
			p.segOverride = &p.DS
		case 0xF0: // LOCK, ignored: single-threaded (§1 out of scope)
		case 0xF2, 0xF3: // REPNE/REPNZ, REP/REPE/REPZ
			p.repeatMode = op
		default:
			break loop
		}
		p.stats.NumPrefixBytes++
	}

	p.opcode = op
	p.isWide = op&1 != 0
	p.rmToReg = op&2 != 0
}

func signExtend16(v byte) uint16 {
	if v&0x80 != 0 {
		return uint16(v) | 0xFF00
	}
	return uint16(v)
}

func signExtend32(v uint16) uint32 {
	if v&0x8000 != 0 {
		return uint32(v) | 0xFFFF0000
	}
	return uint32(v)
}

func (p *CPU) stackTop() memory.Pointer {
	return memory.NewPointer(p.SS, p.SP)
}

func (p *CPU) push16(v uint16) {
	p.SP -= 2
	p.WriteWord(p.stackTop(), v)
}

func (p *CPU) pop16() uint16 {
	v := p.ReadWord(p.stackTop())
	p.SP += 2
	return v
}

func (p *CPU) updateFlagsSZP8(res byte) {
	p.SF = res&0x80 != 0
	p.ZF = res == 0
	p.PF = parityLookup[res]
}

func (p *CPU) updateFlagsSZP16(res uint16) {
	p.SF = res&0x8000 != 0
	p.ZF = res == 0
	p.PF = parityLookup[res&0xFF]
}

func opXCHG(a, b *uint16) {
	*a, *b = *b, *a
}

// getSeg returns the segment a memory reference should use: the pending
// override if one is in effect for this instruction, otherwise the
// architectural default the caller passes in.
func (p *CPU) getSeg(seg uint16) uint16 {
	if p.segOverride != nil {
		return *p.segOverride
	}
	return seg
}

// divisionByZero rewinds IP to the start of the faulting instruction and
// raises INT 0, per §7: "Do not modify AX/DX before dispatching."
func (p *CPU) divisionByZero() {
	p.IP = p.decodeAt
	p.doInterrupt(0)
}

// doInterrupt runs the architectural INT dispatch sequence: push FLAGS,
// push CS, push IP, load CS:IP from the vector table at 4*n, clear T and I
// (§4.3). This is unconditional, regardless of whether an InterruptHost is
// installed: a host that wants to intercept the service routine does so by
// planting the synthetic host-interrupt stub opcode (§6) at the vector
// target, not by short-circuiting this sequence. See exec.go's
// hostInterruptStubOpcode case.
func (p *CPU) doInterrupt(n int) {
	p.stats.NumInterrupts++
	p.LastInterrupt = byte(n)

	p.push16(p.FlagsWord())
	p.push16(p.CS)
	p.push16(p.IP)

	vector := memory.Pointer(n * 4)
	p.IP = p.ReadWord(vector)
	p.CS = p.ReadWord(vector + 2)
	p.TF, p.IF = false, false
}
