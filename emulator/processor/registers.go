/*
Copyright (c) 2019-2021 Andreas T Jonsson

This software is provided 'as-is', without any express or implied
warranty. In no event will the authors be held liable for any damages
arising from the use of this software.

Permission is granted to anyone to use this software for any purpose,
including commercial applications, and to alter it and redistribute it
freely, subject to the following restrictions:

1. The origin of this software must not be misrepresented; you must not
   claim that you wrote the original software. If you use this software
   in a product, an acknowledgment in the product documentation would be
   appreciated but is not required.
2. Altered source versions must be plainly marked as such, and must not be
   misrepresented as being the original software.
3. This notice may not be removed or altered from any source distribution.
*/

package processor

// Registers holds the full 8086 architectural state: the eight general and
// segment registers, the instruction pointer, and the nine status/control
// flags as discrete booleans. The flags are only ever materialized into the
// 16-bit FLAGS layout by FlagsWord/SetFlagsWord, on PUSHF/POPF/INT/IRET,
// and by their low-byte forms FlagsByte/SetFlagsByte, on LAHF/SAHF.
type Registers struct {
	AX, CX, DX, BX,
	SP, BP, SI, DI,
	ES, CS, SS, DS uint16

	IP uint16

	CF, PF, AF, ZF, SF, OF, DF, IF, TF bool

	// LastInterrupt is the vector of the most recently taken INT, kept
	// around so an InterruptHost called from the 0x6C stub opcode can
	// see which vector fired without decoding the pushed frame itself.
	LastInterrupt byte

	// Debug is set when the core hits a condition (an undecodable
	// opcode under FaultTerminate) that a host running with a debugger
	// attached would want to break on.
	Debug bool
}

// Reset clears every register and flag to its power-on state.
func (r *Registers) Reset() {
	*r = Registers{}
}

func (r *Registers) AL() byte { return byte(r.AX) }
func (r *Registers) AH() byte { return byte(r.AX >> 8) }

func (r *Registers) SetAL(v byte) { r.AX = r.AX&0xFF00 | uint16(v) }
func (r *Registers) SetAH(v byte) { r.AX = r.AX&0x00FF | uint16(v)<<8 }

func (r *Registers) BL() byte { return byte(r.BX) }
func (r *Registers) BH() byte { return byte(r.BX >> 8) }

func (r *Registers) SetBL(v byte) { r.BX = r.BX&0xFF00 | uint16(v) }
func (r *Registers) SetBH(v byte) { r.BX = r.BX&0x00FF | uint16(v)<<8 }

func (r *Registers) CL() byte { return byte(r.CX) }
func (r *Registers) CH() byte { return byte(r.CX >> 8) }

func (r *Registers) SetCL(v byte) { r.CX = r.CX&0xFF00 | uint16(v) }
func (r *Registers) SetCH(v byte) { r.CX = r.CX&0x00FF | uint16(v)<<8 }

func (r *Registers) DL() byte { return byte(r.DX) }
func (r *Registers) DH() byte { return byte(r.DX >> 8) }

func (r *Registers) SetDL(v byte) { r.DX = r.DX&0xFF00 | uint16(v) }
func (r *Registers) SetDH(v byte) { r.DX = r.DX&0x00FF | uint16(v)<<8 }

// FlagsWord materializes the nine tracked flags into the 16-bit FLAGS
// layout used by PUSHF and by interrupt dispatch. Reserved bits are set to
// their architectural constant values on the 8086: bit 1 is always 1, bits
// 12-15 read as 1.
func (r *Registers) FlagsWord() uint16 {
	var f uint16 = 0x0002 | 0xF000
	if r.CF {
		f |= 1 << 0
	}
	if r.PF {
		f |= 1 << 2
	}
	if r.AF {
		f |= 1 << 4
	}
	if r.ZF {
		f |= 1 << 6
	}
	if r.SF {
		f |= 1 << 7
	}
	if r.TF {
		f |= 1 << 8
	}
	if r.IF {
		f |= 1 << 9
	}
	if r.DF {
		f |= 1 << 10
	}
	if r.OF {
		f |= 1 << 11
	}
	return f
}

// SetFlagsWord decomposes a 16-bit FLAGS word, as popped by POPF/IRET, into
// the nine tracked booleans. Reserved bits are discarded.
func (r *Registers) SetFlagsWord(f uint16) {
	r.CF = f&(1<<0) != 0
	r.PF = f&(1<<2) != 0
	r.AF = f&(1<<4) != 0
	r.ZF = f&(1<<6) != 0
	r.SF = f&(1<<7) != 0
	r.TF = f&(1<<8) != 0
	r.IF = f&(1<<9) != 0
	r.DF = f&(1<<10) != 0
	r.OF = f&(1<<11) != 0
}

// FlagsByte materializes only the low byte of FLAGS (C,2,P,0,A,0,Z,S), as
// used by LAHF.
func (r *Registers) FlagsByte() byte {
	return byte(r.FlagsWord())
}

// SetFlagsByte decomposes the low byte of FLAGS, as used by SAHF. The high
// four flags (T,I,D,O) are left untouched.
func (r *Registers) SetFlagsByte(f byte) {
	r.CF = f&(1<<0) != 0
	r.PF = f&(1<<2) != 0
	r.AF = f&(1<<4) != 0
	r.ZF = f&(1<<6) != 0
	r.SF = f&(1<<7) != 0
}
