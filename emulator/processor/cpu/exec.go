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

// The opcode dispatcher. execute handles one non-repeated instruction;
// doRepeat wraps it for the string opcodes a REP/REPNE prefix applies to.
// IP already reflects every byte consumed by the time a case returns,
// since readOpcodeStream/readOpcodeImm16/readModRegRM advance it as they
// go (§4.3's "IP += _bc" is therefore implicit rather than a separate
// step); control-transfer cases overwrite IP (and CS, for far transfers)
// directly, which is exactly the override §3 calls for.
package cpu

import (
	"github.com/8086emu/core/emulator/memory"
	"github.com/8086emu/core/emulator/processor"
)

func (p *CPU) execute() error {
	op := p.opcode
	carryIn := op > 0x0F && op < 0x20 && p.CF

	switch op {

	// 0x0x - 0x3x: ADD/OR/ADC/SBB/AND/SUB/XOR/CMP between r/m and r, plus
	// the interleaved segment PUSH/POP and decimal-adjust opcodes.

	case 0x00, 0x02, 0x10, 0x12: // ADD/ADC r/m8,r8
		dest, src := p.parseOperands()
		res, f := addByte(dest.readByte(p), src.readByte(p), carryIn)
		dest.writeByte(p, res)
		p.applyAdd(f)
	case 0x01, 0x03, 0x11, 0x13: // ADD/ADC r/m16,r16
		dest, src := p.parseOperands()
		res, f := addWord(dest.readWord(p), src.readWord(p), carryIn)
		dest.writeWord(p, res)
		p.applyAdd(f)
	case 0x04, 0x14: // ADD/ADC AL,d8
		res, f := addByte(p.AL(), p.readOpcodeStream(), carryIn)
		p.SetAL(res)
		p.applyAdd(f)
	case 0x05, 0x15: // ADD/ADC AX,d16
		res, f := addWord(p.AX, p.readOpcodeImm16(), carryIn)
		p.AX = res
		p.applyAdd(f)
	case 0x06: // PUSH ES
		p.push16(p.ES)
	case 0x07: // POP ES
		p.ES = p.pop16()
	case 0x08, 0x0A: // OR r/m8,r8
		dest, src := p.parseOperands()
		res := dest.readByte(p) | src.readByte(p)
		dest.writeByte(p, res)
		p.applyLogic(logicByte(res))
	case 0x09, 0x0B: // OR r/m16,r16
		dest, src := p.parseOperands()
		res := dest.readWord(p) | src.readWord(p)
		dest.writeWord(p, res)
		p.applyLogic(logicWord(res))
	case 0x0C: // OR AL,d8
		res := p.AL() | p.readOpcodeStream()
		p.SetAL(res)
		p.applyLogic(logicByte(res))
	case 0x0D: // OR AX,d16
		p.AX |= p.readOpcodeImm16()
		p.applyLogic(logicWord(p.AX))
	case 0x0E: // PUSH CS
		p.push16(p.CS)
	case 0x0F: // undocumented POP CS; 0x0F becomes a two-byte escape from the 80186 on
		if !p.ext80186 {
			p.CS = p.pop16()
		}

	case 0x16: // PUSH SS
		p.push16(p.SS)
	case 0x17: // POP SS
		p.SS = p.pop16()
	case 0x18, 0x1A: // SBB r/m8,r8
		dest, src := p.parseOperands()
		res, f := subByte(dest.readByte(p), src.readByte(p), carryIn)
		dest.writeByte(p, res)
		p.applyAdd(f)
	case 0x19, 0x1B: // SBB r/m16,r16
		dest, src := p.parseOperands()
		res, f := subWord(dest.readWord(p), src.readWord(p), carryIn)
		dest.writeWord(p, res)
		p.applyAdd(f)
	case 0x1C: // SBB AL,d8
		res, f := subByte(p.AL(), p.readOpcodeStream(), carryIn)
		p.SetAL(res)
		p.applyAdd(f)
	case 0x1D: // SBB AX,d16
		res, f := subWord(p.AX, p.readOpcodeImm16(), carryIn)
		p.AX = res
		p.applyAdd(f)
	case 0x1E: // PUSH DS
		p.push16(p.DS)
	case 0x1F: // POP DS
		p.DS = p.pop16()

	case 0x20, 0x22: // AND r/m8,r8
		dest, src := p.parseOperands()
		res := dest.readByte(p) & src.readByte(p)
		dest.writeByte(p, res)
		p.applyLogic(logicByte(res))
	case 0x21, 0x23: // AND r/m16,r16
		dest, src := p.parseOperands()
		res := dest.readWord(p) & src.readWord(p)
		dest.writeWord(p, res)
		p.applyLogic(logicWord(res))
	case 0x24: // AND AL,d8
		res := p.AL() & p.readOpcodeStream()
		p.SetAL(res)
		p.applyLogic(logicByte(res))
	case 0x25: // AND AX,d16
		p.AX &= p.readOpcodeImm16()
		p.applyLogic(logicWord(p.AX))
	case 0x27: // DAA
		p.decimalAdjust(true)
	case 0x28, 0x2A: // SUB r/m8,r8
		dest, src := p.parseOperands()
		res, f := subByte(dest.readByte(p), src.readByte(p), false)
		dest.writeByte(p, res)
		p.applyAdd(f)
	case 0x29, 0x2B: // SUB r/m16,r16
		dest, src := p.parseOperands()
		res, f := subWord(dest.readWord(p), src.readWord(p), false)
		dest.writeWord(p, res)
		p.applyAdd(f)
	case 0x2C: // SUB AL,d8
		res, f := subByte(p.AL(), p.readOpcodeStream(), false)
		p.SetAL(res)
		p.applyAdd(f)
	case 0x2D: // SUB AX,d16
		res, f := subWord(p.AX, p.readOpcodeImm16(), false)
		p.AX = res
		p.applyAdd(f)
	case 0x2F: // DAS
		p.decimalAdjust(false)

	case 0x30, 0x32: // XOR r/m8,r8
		dest, src := p.parseOperands()
		res := dest.readByte(p) ^ src.readByte(p)
		dest.writeByte(p, res)
		p.applyLogic(logicByte(res))
	case 0x31, 0x33: // XOR r/m16,r16
		dest, src := p.parseOperands()
		res := dest.readWord(p) ^ src.readWord(p)
		dest.writeWord(p, res)
		p.applyLogic(logicWord(res))
	case 0x34: // XOR AL,d8
		res := p.AL() ^ p.readOpcodeStream()
		p.SetAL(res)
		p.applyLogic(logicByte(res))
	case 0x35: // XOR AX,d16
		p.AX ^= p.readOpcodeImm16()
		p.applyLogic(logicWord(p.AX))
	case 0x37: // AAA
		p.asciiAdjust(true)
	case 0x38, 0x3A: // CMP r/m8,r8
		dest, src := p.parseOperands()
		_, f := subByte(dest.readByte(p), src.readByte(p), false)
		p.applyAdd(f)
	case 0x39, 0x3B: // CMP r/m16,r16
		dest, src := p.parseOperands()
		_, f := subWord(dest.readWord(p), src.readWord(p), false)
		p.applyAdd(f)
	case 0x3C: // CMP AL,d8
		_, f := subByte(p.AL(), p.readOpcodeStream(), false)
		p.applyAdd(f)
	case 0x3D: // CMP AX,d16
		_, f := subWord(p.AX, p.readOpcodeImm16(), false)
		p.applyAdd(f)
	case 0x3F: // AAS
		p.asciiAdjust(false)

	// 0x4x: INC/DEC of the eight word registers. C is untouched.

	case 0x40, 0x41, 0x42, 0x43, 0x44, 0x45, 0x46, 0x47:
		reg := dataLocation(op-0x40) | registerLocation
		res, f := incWord(reg.readWord(p))
		reg.writeWord(p, res)
		p.applyIncDec(f)
	case 0x48, 0x49, 0x4A, 0x4B, 0x4C, 0x4D, 0x4E, 0x4F:
		reg := dataLocation(op-0x48) | registerLocation
		res, f := decWord(reg.readWord(p))
		reg.writeWord(p, res)
		p.applyIncDec(f)

	// 0x5x: PUSH/POP of the eight word registers.

	case 0x50, 0x51, 0x52, 0x53, 0x54, 0x55, 0x56, 0x57:
		p.push16((dataLocation(op-0x50) | registerLocation).readWord(p))
	case 0x58, 0x59, 0x5A, 0x5B, 0x5C, 0x5D, 0x5E, 0x5F:
		(dataLocation(op-0x58) | registerLocation).writeWord(p, p.pop16())

	// 0x6x: 80186 extensions, gated behind ext80186 (§1 Non-goals).

	case 0x60: // PUSHA
		if !p.ext80186 {
			return p.invalidOpcode()
		}
		sp := p.SP
		p.push16(p.AX)
		p.push16(p.CX)
		p.push16(p.DX)
		p.push16(p.BX)
		p.push16(sp)
		p.push16(p.BP)
		p.push16(p.SI)
		p.push16(p.DI)
	case 0x61: // POPA
		if !p.ext80186 {
			return p.invalidOpcode()
		}
		p.DI = p.pop16()
		p.SI = p.pop16()
		p.BP = p.pop16()
		p.pop16() // discard the pushed SP
		p.BX = p.pop16()
		p.DX = p.pop16()
		p.CX = p.pop16()
		p.AX = p.pop16()
	case 0x62: // BOUND
		if !p.ext80186 {
			return p.invalidOpcode()
		}
		p.readModRegRM()
		idx := signExtend32(p.regLocation().readWord(p))
		addr := p.rmLocation().getAddress()
		if idx < signExtend32(p.ReadWord(addr.Pointer())) || idx > signExtend32(p.ReadWord(addr.AddInt(2).Pointer())) {
			p.doInterrupt(5)
		}
	case 0x6C: // hostInterruptStubOpcode: the §6 pseudo-opcode a host plants
		// at an interrupt vector's target to intercept that service
		// routine. The architectural push+jump already ran in doInterrupt
		// before this byte was ever fetched; this just hands control to
		// the callback with the vector that got us here. The source's own
		// choice of byte (0x69) is taken on this core by the 80186 IMUL
		// gate, so this uses a different otherwise-undecoded byte instead,
		// per §6's "implementations MAY use any unused opcode byte".
		if p.interruptHost == nil {
			return p.invalidOpcode()
		}
		if err := p.interruptHost.Interrupt(p.LastInterrupt); err != nil {
			return p.invalidOpcode()
		}
	case 0x69, 0x6B: // IMUL r/m16,imm8/imm16
		if !p.ext80186 {
			return p.invalidOpcode()
		}
		p.readModRegRM()
		dest := p.rmLocation()
		a := signExtend32(dest.readWord(p))
		var b uint32
		if op == 0x69 {
			b = signExtend32(signExtend16(p.readOpcodeStream()))
		} else {
			b = signExtend32(p.readOpcodeImm16())
		}
		res := a * b
		res16 := uint16(res)
		upper := uint16(res >> 16)
		dest.writeWord(p, res16)
		p.updateFlagsSZP16(res16)
		if res16&0x8000 != 0 {
			p.CF = upper != 0xFFFF
		} else {
			p.CF = upper != 0
		}
		p.OF = p.CF

	// 0x7x: 16 conditional short jumps.

	case 0x70:
		p.jmpRel8Cond(p.OF)
	case 0x71:
		p.jmpRel8Cond(!p.OF)
	case 0x72:
		p.jmpRel8Cond(p.CF)
	case 0x73:
		p.jmpRel8Cond(!p.CF)
	case 0x74:
		p.jmpRel8Cond(p.ZF)
	case 0x75:
		p.jmpRel8Cond(!p.ZF)
	case 0x76:
		p.jmpRel8Cond(p.CF || p.ZF)
	case 0x77:
		p.jmpRel8Cond(!p.CF && !p.ZF)
	case 0x78:
		p.jmpRel8Cond(p.SF)
	case 0x79:
		p.jmpRel8Cond(!p.SF)
	case 0x7A:
		p.jmpRel8Cond(p.PF)
	case 0x7B:
		p.jmpRel8Cond(!p.PF)
	case 0x7C:
		p.jmpRel8Cond(p.SF != p.OF)
	case 0x7D:
		p.jmpRel8Cond(p.SF == p.OF)
	case 0x7E:
		p.jmpRel8Cond(p.SF != p.OF || p.ZF)
	case 0x7F:
		p.jmpRel8Cond(!p.ZF && p.SF == p.OF)

	// 0x8x

	case 0x80, 0x82: // ALU r/m8,imm8
		return p.grp1byte()
	case 0x81, 0x83: // ALU r/m16,imm16 (0x83 sign-extends the imm8)
		return p.grp1word()
	case 0x84: // TEST r/m8,r8
		p.readModRegRM()
		p.applyLogic(logicByte(p.rmLocation().readByte(p) & p.regLocation().readByte(p)))
	case 0x85: // TEST r/m16,r16
		p.readModRegRM()
		p.applyLogic(logicWord(p.rmLocation().readWord(p) & p.regLocation().readWord(p)))
	case 0x86: // XCHG r8,r/m8
		p.readModRegRM()
		dst, src := p.regLocation(), p.rmLocation()
		d, s := dst.readByte(p), src.readByte(p)
		dst.writeByte(p, s)
		src.writeByte(p, d)
	case 0x87: // XCHG r16,r/m16
		p.readModRegRM()
		dst, src := p.regLocation(), p.rmLocation()
		d, s := dst.readWord(p), src.readWord(p)
		dst.writeWord(p, s)
		src.writeWord(p, d)
	case 0x88, 0x8A: // MOV r/m8,r8
		dest, src := p.parseOperands()
		dest.writeByte(p, src.readByte(p))
	case 0x89, 0x8B: // MOV r/m16,r16
		dest, src := p.parseOperands()
		dest.writeWord(p, src.readWord(p))
	case 0x8C: // MOV r/m16,sr
		p.readModRegRM()
		p.rmLocation().writeWord(p, p.segLocation().readWord(p))
	case 0x8D: // LEA r16,r/m16 - computes the address but never touches memory
		p.readModRegRM()
		p.segOverride = &zero16
		addr := p.rmLocation().getPointer()
		p.regLocation().writeWord(p, uint16(addr))
	case 0x8E: // MOV sr,r/m16 - always word width, regardless of the w bit
		p.readModRegRM()
		p.segLocation().writeWord(p, p.rmLocation().readWord(p))
	case 0x8F: // POP r/m16
		p.readModRegRM()
		p.rmLocation().writeWord(p, p.pop16())

	// 0x9x

	case 0x90: // NOP
	case 0x91:
		opXCHG(&p.AX, &p.CX)
	case 0x92:
		opXCHG(&p.AX, &p.DX)
	case 0x93:
		opXCHG(&p.AX, &p.BX)
	case 0x94:
		opXCHG(&p.AX, &p.SP)
	case 0x95:
		opXCHG(&p.AX, &p.BP)
	case 0x96:
		opXCHG(&p.AX, &p.SI)
	case 0x97:
		opXCHG(&p.AX, &p.DI)
	case 0x98: // CBW
		p.AX = signExtend16(p.AL())
	case 0x99: // CWD
		if p.AX&0x8000 != 0 {
			p.DX = 0xFFFF
		} else {
			p.DX = 0
		}
	case 0x9A: // far CALL
		ip := p.readOpcodeImm16()
		cs := p.readOpcodeImm16()
		p.push16(p.CS)
		p.push16(p.IP)
		p.IP, p.CS = ip, cs
	case 0x9B: // WAIT
	case 0x9C: // PUSHF
		p.push16(p.FlagsWord())
	case 0x9D: // POPF
		p.SetFlagsWord(p.pop16())
	case 0x9E: // SAHF
		p.SetFlagsByte(p.AH())
	case 0x9F: // LAHF
		p.SetAH(p.FlagsByte())

	// 0xAx

	case 0xA0: // MOV AL,[a16]
		p.SetAL(p.ReadByte(memory.NewPointer(p.getSeg(p.DS), p.readOpcodeImm16())))
	case 0xA1: // MOV AX,[a16]
		p.AX = p.ReadWord(memory.NewPointer(p.getSeg(p.DS), p.readOpcodeImm16()))
	case 0xA2: // MOV [a16],AL
		p.WriteByte(memory.NewPointer(p.getSeg(p.DS), p.readOpcodeImm16()), p.AL())
	case 0xA3: // MOV [a16],AX
		p.WriteWord(memory.NewPointer(p.getSeg(p.DS), p.readOpcodeImm16()), p.AX)
	case 0xA4: // MOVSB
		p.WriteByte(memory.NewPointer(p.ES, p.DI), p.ReadByte(memory.NewPointer(p.getSeg(p.DS), p.SI)))
		p.updateDISI()
	case 0xA5: // MOVSW
		p.WriteWord(memory.NewPointer(p.ES, p.DI), p.ReadWord(memory.NewPointer(p.getSeg(p.DS), p.SI)))
		p.updateDISI()
	case 0xA6: // CMPSB
		_, f := subByte(p.ReadByte(memory.NewPointer(p.getSeg(p.DS), p.SI)), p.ReadByte(memory.NewPointer(p.ES, p.DI)), false)
		p.applyAdd(f)
		p.updateDISI()
	case 0xA7: // CMPSW
		_, f := subWord(p.ReadWord(memory.NewPointer(p.getSeg(p.DS), p.SI)), p.ReadWord(memory.NewPointer(p.ES, p.DI)), false)
		p.applyAdd(f)
		p.updateDISI()
	case 0xA8: // TEST AL,d8
		p.applyLogic(logicByte(p.AL() & p.readOpcodeStream()))
	case 0xA9: // TEST AX,d16
		p.applyLogic(logicWord(p.AX & p.readOpcodeImm16()))
	case 0xAA: // STOSB
		p.WriteByte(memory.NewPointer(p.ES, p.DI), p.AL())
		p.updateDI()
	case 0xAB: // STOSW
		p.WriteWord(memory.NewPointer(p.ES, p.DI), p.AX)
		p.updateDI()
	case 0xAC: // LODSB
		p.SetAL(p.ReadByte(memory.NewPointer(p.getSeg(p.DS), p.SI)))
		p.updateSI()
	case 0xAD: // LODSW
		p.AX = p.ReadWord(memory.NewPointer(p.getSeg(p.DS), p.SI))
		p.updateSI()
	case 0xAE: // SCASB
		_, f := subByte(p.AL(), p.ReadByte(memory.NewPointer(p.ES, p.DI)), false)
		p.applyAdd(f)
		p.updateDI()
	case 0xAF: // SCASW
		_, f := subWord(p.AX, p.ReadWord(memory.NewPointer(p.ES, p.DI)), false)
		p.applyAdd(f)
		p.updateDI()

	// 0xBx: MOV immediate into each byte or word register.

	case 0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB6, 0xB7:
		(dataLocation(op-0xB0) | registerLocation).writeByte(p, p.readOpcodeStream())
	case 0xB8, 0xB9, 0xBA, 0xBB, 0xBC, 0xBD, 0xBE, 0xBF:
		(dataLocation(op-0xB8) | registerLocation).writeWord(p, p.readOpcodeImm16())

	// 0xCx

	case 0xC0: // SHL-group r/m8,imm8 (80186)
		if !p.ext80186 {
			return p.invalidOpcode()
		}
		p.readModRegRM()
		dest := p.rmLocation()
		dest.writeByte(p, p.shiftOrRotate8(p.getReg(), dest.readByte(p), p.readOpcodeStream()))
	case 0xC1: // SHL-group r/m16,imm8 (80186)
		if !p.ext80186 {
			return p.invalidOpcode()
		}
		p.readModRegRM()
		dest := p.rmLocation()
		dest.writeWord(p, p.shiftOrRotate16(p.getReg(), dest.readWord(p), p.readOpcodeStream()))
	case 0xC2: // RET imm16
		ip := p.pop16()
		p.SP += p.readOpcodeImm16()
		p.IP = ip
	case 0xC3: // RET
		p.IP = p.pop16()
	case 0xC4: // LES r16,m32
		p.readModRegRM()
		addr := p.rmLocation().getAddress()
		p.regLocation().writeWord(p, p.ReadWord(addr.Pointer()))
		p.ES = p.ReadWord(addr.AddInt(2).Pointer())
	case 0xC5: // LDS r16,m32
		p.readModRegRM()
		addr := p.rmLocation().getAddress()
		p.regLocation().writeWord(p, p.ReadWord(addr.Pointer()))
		p.DS = p.ReadWord(addr.AddInt(2).Pointer())
	case 0xC6: // MOV r/m8,imm8
		p.readModRegRM()
		p.rmLocation().writeByte(p, p.readOpcodeStream())
	case 0xC7: // MOV r/m16,imm16
		p.readModRegRM()
		p.rmLocation().writeWord(p, p.readOpcodeImm16())
	case 0xC8, 0xC9: // ENTER/LEAVE (80186) - not modeled even under ext80186
		return p.invalidOpcode()
	case 0xCA: // far RET imm16
		sp := p.readOpcodeImm16()
		p.IP = p.pop16()
		p.CS = p.pop16()
		p.SP += sp
	case 0xCB: // far RET
		p.IP = p.pop16()
		p.CS = p.pop16()
	case 0xCC: // INT 3
		p.doInterrupt(3)
	case 0xCD: // INT imm8
		p.doInterrupt(int(p.readOpcodeStream()))
	case 0xCE: // INTO
		if p.OF {
			p.doInterrupt(4)
		}
	case 0xCF: // IRET
		p.IP = p.pop16()
		p.CS = p.pop16()
		p.SetFlagsWord(p.pop16())

	// 0xDx: shift/rotate group, decimal-ASCII, SALC/XLAT.

	case 0xD0: // rotate group r/m8,1
		p.readModRegRM()
		dest := p.rmLocation()
		dest.writeByte(p, p.shiftOrRotate8(p.getReg(), dest.readByte(p), 1))
	case 0xD1: // rotate group r/m16,1
		p.readModRegRM()
		dest := p.rmLocation()
		dest.writeWord(p, p.shiftOrRotate16(p.getReg(), dest.readWord(p), 1))
	case 0xD2: // rotate group r/m8,CL
		p.readModRegRM()
		dest := p.rmLocation()
		dest.writeByte(p, p.shiftOrRotate8(p.getReg(), dest.readByte(p), p.CL()))
	case 0xD3: // rotate group r/m16,CL
		p.readModRegRM()
		dest := p.rmLocation()
		dest.writeWord(p, p.shiftOrRotate16(p.getReg(), dest.readWord(p), p.CL()))
	case 0xD4: // AAM; imm8==0 is undefined, and the source leaves AX/flags
		// untouched rather than trapping, so this does too.
		a, b := p.AL(), p.readOpcodeStream()
		if b != 0 {
			p.SetAH(a / b)
			p.SetAL(a % b)
			p.updateFlagsSZP16(p.AX)
		}
	case 0xD5: // AAD
		b := p.readOpcodeStream()
		p.AX = (uint16(p.AL()) + uint16(p.AH())*uint16(b)) & 0xFF
		p.updateFlagsSZP16(p.AX)
	case 0xD6: // undocumented SALC, unless 80186 extensions make this XLAT
		if !p.ext80186 {
			if p.CF {
				p.SetAL(0xFF)
			} else {
				p.SetAL(0)
			}
			break
		}
		fallthrough
	case 0xD7: // XLAT
		p.SetAL(p.ReadByte(memory.NewPointer(p.getSeg(p.DS), p.BX+uint16(p.AL()))))
	case 0xD8, 0xD9, 0xDA, 0xDB, 0xDC, 0xDD, 0xDE, 0xDF: // ESC - consume the operand, no x87 coprocessor
		_, src := p.parseOperands()
		src.readByte(p)

	// 0xEx

	case 0xE0: // LOOPNE/LOOPNZ
		p.CX--
		p.jmpRel8Cond(p.CX != 0 && !p.ZF)
	case 0xE1: // LOOPE/LOOPZ
		p.CX--
		p.jmpRel8Cond(p.CX != 0 && p.ZF)
	case 0xE2: // LOOP
		p.CX--
		p.jmpRel8Cond(p.CX != 0)
	case 0xE3: // JCXZ
		p.jmpRel8Cond(p.CX == 0)
	case 0xE4: // IN AL,imm8
		p.SetAL(p.InByte(uint16(p.readOpcodeStream())))
	case 0xE5: // IN AX,imm8
		p.AX = p.InWord(uint16(p.readOpcodeStream()))
	case 0xE6: // OUT imm8,AL
		p.OutByte(uint16(p.readOpcodeStream()), p.AL())
	case 0xE7: // OUT imm8,AX
		p.OutWord(uint16(p.readOpcodeStream()), p.AX)
	case 0xE8: // near CALL
		p.push16(p.jmpRel16())
	case 0xE9: // near JMP rel16
		p.jmpRel16()
	case 0xEA: // far JMP
		ip := p.readOpcodeImm16()
		p.CS = p.readOpcodeImm16()
		p.IP = ip
	case 0xEB: // short JMP rel8
		p.jmpRel8()
	case 0xEC: // IN AL,DX
		p.SetAL(p.InByte(p.DX))
	case 0xED: // IN AX,DX
		p.AX = p.InWord(p.DX)
	case 0xEE: // OUT DX,AL
		p.OutByte(p.DX, p.AL())
	case 0xEF: // OUT DX,AX
		p.OutWord(p.DX, p.AX)

	// 0xFx

	case 0xF4: // HLT
		p.IP = p.decodeAt
		p.diag.Halt(p.CS, p.IP)
		if p.haltHost != nil {
			p.haltHost.Halt()
		}
		return processor.ErrCPUHalt
	case 0xF5: // CMC
		p.CF = !p.CF
	case 0xF6: // TEST/NOT/NEG/MUL/IMUL/DIV/IDIV r/m8
		return p.grp3byte()
	case 0xF7: // TEST/NOT/NEG/MUL/IMUL/DIV/IDIV r/m16
		return p.grp3word()
	case 0xF8: // CLC
		p.CF = false
	case 0xF9: // STC
		p.CF = true
	case 0xFA: // CLI
		p.IF = false
	case 0xFB: // STI
		p.IF = true
	case 0xFC: // CLD
		p.DF = false
	case 0xFD: // STD
		p.DF = true
	case 0xFE: // INC/DEC r/m8
		return p.grp4()
	case 0xFF: // INC/DEC/CALL/JMP/PUSH r/m16
		return p.grp5()
	default:
		return p.invalidOpcode()
	}

	return nil
}

// grp1byte handles the 0x80/0x82 immediate ALU group at byte width: reg
// selects ADD/OR/ADC/SBB/AND/SUB/XOR/CMP (§4.3 0x80..0x83). The open
// question in the distillation about the XOR case not writing back does
// not reproduce here: every case but CMP commits its result.
func (p *CPU) grp1byte() error {
	p.readModRegRM()
	dest := p.rmLocation()
	a, b := dest.readByte(p), p.readOpcodeStream()

	var res byte
	var f aluFlags
	reg := p.getReg()
	switch reg {
	case 0:
		res, f = addByte(a, b, false)
	case 1:
		res, f = a|b, logicByte(a|b)
	case 2:
		res, f = addByte(a, b, p.CF)
	case 3:
		res, f = subByte(a, b, p.CF)
	case 4:
		res, f = a&b, logicByte(a&b)
	case 5:
		res, f = subByte(a, b, false)
	case 6:
		res, f = a^b, logicByte(a^b)
	case 7: // CMP: discard the result, keep the flags
		_, f = subByte(a, b, false)
		p.applyAdd(f)
		return nil
	default:
		return p.invalidOpcode()
	}

	dest.writeByte(p, res)
	if reg == 1 || reg == 4 || reg == 6 {
		p.applyLogic(f)
	} else {
		p.applyAdd(f)
	}
	return nil
}

// grp1word is grp1byte at word width. Opcode 0x83 sign-extends its imm8
// to 16 bits before applying it; 0x81 reads a full imm16.
func (p *CPU) grp1word() error {
	p.readModRegRM()
	dest := p.rmLocation()
	a := dest.readWord(p)

	var b uint16
	if p.opcode == 0x83 {
		b = signExtend16(p.readOpcodeStream())
	} else {
		b = p.readOpcodeImm16()
	}

	var res uint16
	var f aluFlags
	reg := p.getReg()
	switch reg {
	case 0:
		res, f = addWord(a, b, false)
	case 1:
		res, f = a|b, logicWord(a|b)
	case 2:
		res, f = addWord(a, b, p.CF)
	case 3:
		res, f = subWord(a, b, p.CF)
	case 4:
		res, f = a&b, logicWord(a&b)
	case 5:
		res, f = subWord(a, b, false)
	case 6:
		res, f = a^b, logicWord(a^b)
	case 7:
		_, f = subWord(a, b, false)
		p.applyAdd(f)
		return nil
	default:
		return p.invalidOpcode()
	}

	dest.writeWord(p, res)
	if reg == 1 || reg == 4 || reg == 6 {
		p.applyLogic(f)
	} else {
		p.applyAdd(f)
	}
	return nil
}

func (p *CPU) grp3byte() error {
	p.readModRegRM()
	operand := p.rmLocation()

	switch p.getReg() {
	case 0, 1: // TEST r/m8,imm8
		a, b := operand.readByte(p), p.readOpcodeStream()
		p.applyLogic(logicByte(a & b))
	case 2: // NOT
		operand.writeByte(p, ^operand.readByte(p))
	case 3: // NEG
		res, f := subByte(0, operand.readByte(p), false)
		operand.writeByte(p, res)
		p.applyAdd(f)
	case 4: // MUL AL * r/m8 -> AX
		b := operand.readByte(p)
		p.AX = uint16(p.AL()) * uint16(b)
		p.updateFlagsSZP8(p.AL())
		p.CF = p.AH() != 0
		p.OF = p.CF
	case 5: // IMUL AL * r/m8 -> AX (signed)
		b := operand.readByte(p)
		p.AX = signExtend16(p.AL()) * signExtend16(b)
		p.updateFlagsSZP8(p.AL())
		if p.AL()&0x80 != 0 {
			p.CF = p.AH() != 0xFF
		} else {
			p.CF = p.AH() != 0
		}
		p.OF = p.CF
	case 6: // DIV AX / r/m8
		p.divByte(p.AX, operand.readByte(p))
	case 7: // IDIV AX / r/m8
		p.idivByte(p.AX, operand.readByte(p))
	default:
		return p.invalidOpcode()
	}
	return nil
}

func (p *CPU) grp3word() error {
	p.readModRegRM()
	operand := p.rmLocation()

	switch p.getReg() {
	case 0, 1: // TEST r/m16,imm16
		a, b := operand.readWord(p), p.readOpcodeImm16()
		p.applyLogic(logicWord(a & b))
	case 2: // NOT
		operand.writeWord(p, ^operand.readWord(p))
	case 3: // NEG
		res, f := subWord(0, operand.readWord(p), false)
		operand.writeWord(p, res)
		p.applyAdd(f)
	case 4: // MUL AX * r/m16 -> DX:AX
		b := operand.readWord(p)
		res := uint32(p.AX) * uint32(b)
		p.DX, p.AX = uint16(res>>16), uint16(res)
		p.updateFlagsSZP16(p.AX)
		p.CF = p.DX != 0
		p.OF = p.CF
	case 5: // IMUL AX * r/m16 -> DX:AX (signed)
		b := operand.readWord(p)
		res := signExtend32(p.AX) * signExtend32(b)
		p.DX, p.AX = uint16(res>>16), uint16(res)
		p.updateFlagsSZP16(p.AX)
		if p.AX&0x8000 != 0 {
			p.CF = p.DX != 0xFFFF
		} else {
			p.CF = p.DX != 0
		}
		p.OF = p.CF
	case 6: // DIV DX:AX / r/m16
		p.divWord(uint32(p.DX)<<16|uint32(p.AX), operand.readWord(p))
	case 7: // IDIV DX:AX / r/m16
		p.idivWord(uint32(p.DX)<<16|uint32(p.AX), operand.readWord(p))
	default:
		return p.invalidOpcode()
	}
	return nil
}

// grp4 is the 0xFE group: INC/DEC r/m8 only. C is preserved (§4.2).
func (p *CPU) grp4() error {
	p.readModRegRM()
	dest := p.rmLocation()
	v := dest.readByte(p)

	var res byte
	var f aluFlags
	switch p.getReg() {
	case 0:
		res, f = incByte(v)
	case 1:
		res, f = decByte(v)
	default:
		return p.invalidOpcode()
	}
	dest.writeByte(p, res)
	p.applyIncDec(f)
	return nil
}

// grp5 is the 0xFF group: INC/DEC r/m16, near/far CALL/JMP indirect,
// and PUSH r/m16.
func (p *CPU) grp5() error {
	p.readModRegRM()
	dest := p.rmLocation()
	v := dest.readWord(p)

	switch p.getReg() {
	case 0:
		res, f := incWord(v)
		dest.writeWord(p, res)
		p.applyIncDec(f)
	case 1:
		res, f := decWord(v)
		dest.writeWord(p, res)
		p.applyIncDec(f)
	case 2: // near CALL r/m16
		p.push16(p.IP)
		p.IP = v
	case 3: // far CALL r/m16
		p.push16(p.CS)
		p.push16(p.IP)
		p.IP = v
		p.CS = p.ReadWord(dest.getAddress().AddInt(2).Pointer())
	case 4: // near JMP r/m16
		p.IP = v
	case 5: // far JMP r/m16
		p.IP = v
		p.CS = p.ReadWord(dest.getAddress().AddInt(2).Pointer())
	case 6: // PUSH r/m16
		p.push16(v)
	default:
		return p.invalidOpcode()
	}
	return nil
}

func (p *CPU) divByte(a uint16, b byte) {
	if b == 0 {
		p.divisionByZero()
		return
	}
	if res := a / uint16(b); res > 0xFF {
		p.divisionByZero()
	} else {
		p.SetAL(byte(res))
		p.SetAH(byte(a % uint16(b)))
	}
}

// idivByte follows fake86's cpu.c: convert to unsigned, divide, reapply
// the sign, and trap if the unsigned quotient doesn't fit in AL.
func (p *CPU) idivByte(a uint16, b byte) {
	if b == 0 {
		p.divisionByZero()
		return
	}

	d := signExtend16(b)
	sign := (a^d)&0x8000 != 0
	if a >= 0x8000 {
		a = (^a + 1) & 0xFFFF
	}
	if d >= 0x8000 {
		d = (^d + 1) & 0xFFFF
	}

	q, r := a/d, a%d
	if q&0xFF00 != 0 {
		p.divisionByZero()
		return
	}
	if sign {
		q = (^q + 1) & 0xFF
		r = (^r + 1) & 0xFF
	}
	p.SetAL(byte(q))
	p.SetAH(byte(r))
}

func (p *CPU) divWord(a uint32, b uint16) {
	if b == 0 {
		p.divisionByZero()
		return
	}
	if res := a / uint32(b); res > 0xFFFF {
		p.divisionByZero()
	} else {
		p.AX, p.DX = uint16(res), uint16(a%uint32(b))
	}
}

func (p *CPU) idivWord(a uint32, b uint16) {
	if b == 0 {
		p.divisionByZero()
		return
	}

	d := signExtend32(b)
	sign := (a^d)&0x80000000 != 0
	if a >= 0x80000000 {
		a = (^a + 1) & 0xFFFFFFFF
	}
	if d >= 0x80000000 {
		d = (^d + 1) & 0xFFFFFFFF
	}

	q, r := a/d, a%d
	if q&0xFFFF0000 != 0 {
		p.divisionByZero()
		return
	}
	if sign {
		q = (^q + 1) & 0xFFFF
		r = (^r + 1) & 0xFFFF
	}
	p.AX, p.DX = uint16(q), uint16(r)
}

// decimalAdjust implements DAA (add=true) and DAS (add=false) at exactly
// the per-nibble precision original_source/i8086.cxx uses.
func (p *CPU) decimalAdjust(add bool) {
	al := p.AL()
	if al&0xF > 9 || p.AF {
		if add {
			p.SetAL(al + 6)
		} else {
			p.SetAL(al - 6)
		}
		p.AF = true
	} else {
		p.AF = false
	}

	al = p.AL()
	if al&0xF0 > 0x90 || p.CF {
		if add {
			p.SetAL(al + 0x60)
		} else {
			p.SetAL(al - 0x60)
		}
		p.CF = true
	} else {
		p.CF = false
	}
	p.updateFlagsSZP8(p.AL())
}

// asciiAdjust implements AAA (add=true) and AAS (add=false).
func (p *CPU) asciiAdjust(add bool) {
	al := p.AL()
	if al&0xF > 9 || p.AF {
		if add {
			p.SetAL(al + 6)
			p.SetAH(p.AH() + 1)
		} else {
			p.SetAL(al - 6)
			p.SetAH(p.AH() - 1)
		}
		p.AF, p.CF = true, true
	} else {
		p.AF, p.CF = false, false
	}
	al = p.AL() & 0xF
	p.SetAL(al)
	p.updateFlagsSZP8(al)
}

func (p *CPU) jmpRel8() uint16 {
	diff := uint16(int8(p.readOpcodeStream()))
	ip := p.IP
	p.IP += diff
	return ip
}

func (p *CPU) jmpRel16() uint16 {
	diff := p.readOpcodeImm16()
	ip := p.IP
	p.IP += diff
	return ip
}

// jmpRel8Cond always consumes the displacement byte, taking the jump only
// when cond holds (§8 property 7: IP advances by 2 either way before the
// displacement is applied on a taken jump).
func (p *CPU) jmpRel8Cond(cond bool) {
	if cond {
		p.jmpRel8()
	} else {
		p.readOpcodeStream()
	}
}

// invalidOpcode reports the offending byte and either terminates the loop
// (FaultTerminate) or raises INT 6 and resumes the guest (FaultInterrupt),
// per §7's "implementations should make this choice configurable".
func (p *CPU) invalidOpcode() error {
	p.diag.InvalidOpcode(p.CS, p.decodeAt, p.opcode)
	if p.faultMode == processor.FaultInterrupt {
		p.IP = p.decodeAt
		p.doInterrupt(6)
		return nil
	}
	p.Debug = true
	return &processor.InvalidOpcodeError{Opcode: p.opcode, CS: p.CS, IP: p.decodeAt}
}

// repeatableString reports whether the current opcode is one the REP
// family applies to, and whether it is a compare-like primitive (CMPS/
// SCAS) that additionally breaks on the Z flag.
func (p *CPU) repeatableString() (repeatable, comparing bool) {
	switch p.opcode {
	case 0xA4, 0xA5, 0xAA, 0xAB, 0xAC, 0xAD:
		return true, false
	case 0xA6, 0xA7, 0xAE, 0xAF:
		return true, true
	}
	return false, false
}

// doRepeat runs the REP/REPE/REPNE-prefixed form of a string opcode: the
// body loops while CX != 0, decrementing CX after every iteration, with
// CMPS/SCAS additionally breaking when Z matches the prefix's expected
// value (§4.3). A repeat prefix in front of a non-string opcode is
// silently ignored (§7) and the instruction runs once.
//
// REPNE (0xF2) on MOVS/STOS/LODS behaves exactly like REP (0xF3) - at
// least one DOS-era linker emits it that way, and the source preserves
// the quirk rather than rejecting it (§9).
func (p *CPU) doRepeat() error {
	repeatable, comparing := p.repeatableString()
	if !repeatable {
		p.repeatMode = 0
		return p.execute()
	}

	opcodeAt := p.IP
	for p.CX > 0 {
		p.IP = opcodeAt
		if err := p.execute(); err != nil {
			return err
		}
		p.CX--

		if comparing && ((p.repeatMode == 0xF2 && p.ZF) || (p.repeatMode == 0xF3 && !p.ZF)) {
			break
		}
	}
	return nil
}

func (p *CPU) updateDI() {
	n := uint16(1)
	if p.isWide {
		n = 2
	}
	if p.DF {
		p.DI -= n
	} else {
		p.DI += n
	}
}

func (p *CPU) updateSI() {
	n := uint16(1)
	if p.isWide {
		n = 2
	}
	if p.DF {
		p.SI -= n
	} else {
		p.SI += n
	}
}

func (p *CPU) updateDISI() {
	p.updateDI()
	p.updateSI()
}
