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

package cpu

import (
	"errors"
	"testing"

	"github.com/8086emu/core/emulator/memory"
	"github.com/8086emu/core/emulator/processor"
)

// newTestCPU builds a CPU over a fresh 1 MiB image with the given program
// loaded at CS:IP 0x0000:0x0000 and SS:SP set to a stack well away from it.
func newTestCPU(program []byte) *CPU {
	mem := &memory.Image{}
	mem.Load(memory.NewPointer(0, 0), program)
	p := NewCPU(mem)
	p.SP = 0x0400
	return p
}

func mustRun(t *testing.T, p *CPU, maxInstructions int) int {
	t.Helper()
	n, err := p.Emulate(maxInstructions)
	if err != nil {
		t.Fatalf("Emulate: %v", err)
	}
	return n
}

// Scenario 1 (§8): MOV AX,0x1234; ADD AX,0x0001; HLT.
func TestImmediateArithmetic(t *testing.T) {
	p := newTestCPU([]byte{0xB8, 0x34, 0x12, 0x05, 0x01, 0x00, 0xF4})
	mustRun(t, p, 3)

	if p.AX != 0x1235 {
		t.Errorf("AX = 0x%04X, want 0x1235", p.AX)
	}
	if p.CF || p.OF || p.ZF || p.SF {
		t.Errorf("flags: C=%v O=%v Z=%v S=%v, want all false", p.CF, p.OF, p.ZF, p.SF)
	}
	if !p.PF {
		t.Error("PF = false, want true (0x35 has four set bits)")
	}
}

// Scenario 2 (§8): MOV AX,1; SUB AX,1; JZ +4; MOV AX,0xAAAA; HLT; MOV AX,0x5555; HLT.
// The displacement is 4 so the taken jump skips both the MOV and its HLT.
func TestFlagSensitiveBranch(t *testing.T) {
	p := newTestCPU([]byte{
		0xB8, 0x01, 0x00,
		0x2D, 0x01, 0x00,
		0x74, 0x04,
		0xB8, 0xAA, 0xAA, 0xF4,
		0xB8, 0x55, 0x55, 0xF4,
	})
	mustRun(t, p, 4)

	if p.AX != 0x5555 {
		t.Errorf("AX = 0x%04X, want 0x5555", p.AX)
	}
	if !p.ZF {
		t.Error("ZF = false, want true")
	}
}

// Scenario 3 (§8): REP MOVSB from 0x0100 to 0x0200, four bytes, D=0.
func TestStringMoveWithRep(t *testing.T) {
	p := newTestCPU([]byte{0xF3, 0xA4, 0xF4})
	p.SI, p.DI, p.CX = 0x0100, 0x0200, 4
	p.WriteByte(memory.NewPointer(0, 0x0100), 0xDE)
	p.WriteByte(memory.NewPointer(0, 0x0101), 0xAD)
	p.WriteByte(memory.NewPointer(0, 0x0102), 0xBE)
	p.WriteByte(memory.NewPointer(0, 0x0103), 0xEF)

	mustRun(t, p, 1)

	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	for i, b := range want {
		if got := p.ReadByte(memory.NewPointer(0, 0x0200+uint16(i))); got != b {
			t.Errorf("mem[0x%04X] = 0x%02X, want 0x%02X", 0x0200+i, got, b)
		}
	}
	if p.CX != 0 {
		t.Errorf("CX = %d, want 0", p.CX)
	}
	if p.SI != 0x0104 {
		t.Errorf("SI = 0x%04X, want 0x0104", p.SI)
	}
	if p.DI != 0x0204 {
		t.Errorf("DI = 0x%04X, want 0x0204", p.DI)
	}
}

// REPNE on MOVSB must behave exactly like REP: the source's preserved
// quirk (§9) because some DOS-era linkers emit it.
func TestRepneOnMovsBehavesLikeRep(t *testing.T) {
	p := newTestCPU([]byte{0xF2, 0xA4, 0xF4})
	p.SI, p.DI, p.CX = 0x0100, 0x0200, 2
	p.WriteByte(memory.NewPointer(0, 0x0100), 0x11)
	p.WriteByte(memory.NewPointer(0, 0x0101), 0x22)

	mustRun(t, p, 1)

	if p.CX != 0 {
		t.Errorf("CX = %d, want 0", p.CX)
	}
	if got := p.ReadByte(memory.NewPointer(0, 0x0201)); got != 0x22 {
		t.Errorf("mem[0x201] = 0x%02X, want 0x22", got)
	}
}

// REP CMPSB must break as soon as Z stops matching the prefix's
// expectation, even if CX has not reached zero.
func TestRepeCmpsBreaksOnMismatch(t *testing.T) {
	p := newTestCPU([]byte{0xF3, 0xA6, 0xF4}) // REPE CMPSB
	p.SI, p.DI, p.CX = 0x0100, 0x0200, 4
	for i, b := range []byte{1, 2, 3, 4} {
		p.WriteByte(memory.NewPointer(0, 0x0100+uint16(i)), b)
	}
	for i, b := range []byte{1, 2, 9, 4} {
		p.WriteByte(memory.NewPointer(0, 0x0200+uint16(i)), b)
	}

	mustRun(t, p, 1)

	// Two matches, then a mismatch at index 2 breaks the loop.
	if p.CX != 1 {
		t.Errorf("CX = %d, want 1 (two matches then a mismatch)", p.CX)
	}
	if p.ZF {
		t.Error("ZF = true, want false after the mismatching compare")
	}
}

// Scenario 4 (§8): AX=0x0100, BL=0; DIV BL; HLT. Divide-by-zero must
// raise INT 0 without touching AX/DX and must not execute the HLT. The
// program is loaded well clear of the vector table at absolute 0 so the
// test can plant a known vector for INT 0 and check the core actually
// loaded CS:IP from it, instead of trivially matching whatever bytes the
// program happens to share that address with.
func TestDivisionByZeroTraps(t *testing.T) {
	mem := &memory.Image{}
	mem.WriteWord(memory.Pointer(0), 0x4321) // INT 0 vector: IP
	mem.WriteWord(memory.Pointer(2), 0x0042) // INT 0 vector: CS
	mem.Load(memory.NewPointer(0x1000, 0), []byte{0xF6, 0xF3, 0xF4}) // DIV BL ; HLT

	p := NewCPU(mem)
	p.SP = 0x0400
	p.CS = 0x1000
	p.AX = 0x0100
	p.SetBL(0)
	sp0 := p.SP

	mustRun(t, p, 1)

	if want := sp0 - 6; p.SP != want {
		t.Errorf("SP = 0x%04X, want 0x%04X (three words pushed)", p.SP, want)
	}
	if p.IP != 0x4321 || p.CS != 0x0042 {
		t.Errorf("CS:IP = %04X:%04X, want 0042:4321 (the planted vector)", p.CS, p.IP)
	}
	if p.AX != 0x0100 {
		t.Errorf("AX = 0x%04X, want unchanged 0x0100", p.AX)
	}
}

// AAM with a zero immediate is architecturally undefined; this core
// leaves AX and the flags untouched rather than trapping, matching
// original_source/i8086.cxx rather than DIV/IDIV's divide-by-zero path.
func TestAAMZeroImmediateLeavesStateUnchanged(t *testing.T) {
	p := newTestCPU([]byte{0xD4, 0x00, 0xF4}) // AAM 0 ; HLT
	p.AX = 0x1234
	p.ZF = true
	sp0 := p.SP

	mustRun(t, p, 1)

	if p.AX != 0x1234 {
		t.Errorf("AX = 0x%04X, want unchanged 0x1234", p.AX)
	}
	if !p.ZF {
		t.Error("ZF changed, want unchanged")
	}
	if p.SP != sp0 {
		t.Errorf("SP = 0x%04X, want unchanged 0x%04X (no interrupt raised)", p.SP, sp0)
	}
}

// doInterrupt must push FLAGS/CS/IP and load CS:IP from the vector table
// unconditionally, even when an InterruptHost is installed: §6's only
// sanctioned interception point is the host planting the pseudo-opcode
// stub (0x6C) at the vector target, fetched only after that push+jump has
// already landed there.
func TestInterruptHostInterceptsViaPseudoOpcodeStub(t *testing.T) {
	var gotVector byte
	host := interruptFunc(func(v byte) error {
		gotVector = v
		return nil
	})

	mem := &memory.Image{}
	mem.WriteWord(memory.Pointer(4*2), 0x0000) // INT 2 vector -> 0010:0000
	mem.WriteWord(memory.Pointer(4*2+2), 0x0010)
	mem.Load(memory.NewPointer(0x0010, 0), []byte{0x6C, 0xCF}) // stub ; IRET
	mem.Load(memory.NewPointer(0, 0), []byte{0xCD, 0x02, 0xF4}) // INT 2 ; HLT

	p := NewCPU(mem, WithInterruptHost(host))
	p.SP = 0x0400
	sp0 := p.SP

	mustRun(t, p, 2) // INT 2, then the stub

	if gotVector != 2 {
		t.Errorf("host saw vector %d, want 2", gotVector)
	}
	if want := sp0 - 6; p.SP != want {
		t.Errorf("SP = 0x%04X, want 0x%04X (the architectural push ran before the stub fired)", p.SP, want)
	}
	if p.CS != 0x0010 || p.IP != 1 {
		t.Errorf("CS:IP = %04X:%04X, want 0010:0001 (landed on the vector, one byte into the stub)", p.CS, p.IP)
	}

	mustRun(t, p, 1) // the stub's own IRET unwinds the pushed frame
	if p.SP != sp0 {
		t.Errorf("SP = 0x%04X, want 0x%04X after IRET", p.SP, sp0)
	}
	if p.CS != 0 || p.IP != 2 {
		t.Errorf("CS:IP = %04X:%04X, want 0000:0002 (back at the HLT)", p.CS, p.IP)
	}
}

type interruptFunc func(vector byte) error

func (f interruptFunc) Interrupt(vector byte) error { return f(vector) }

// With no InterruptHost installed, the pseudo-opcode stub takes the
// ordinary invalid-opcode path rather than silently continuing.
func TestInterruptHostStubWithoutHostIsInvalidOpcode(t *testing.T) {
	mem := &memory.Image{}
	mem.WriteWord(memory.Pointer(4*2), 0x0000)
	mem.WriteWord(memory.Pointer(4*2+2), 0x0010)
	mem.Load(memory.NewPointer(0x0010, 0), []byte{0x6C})
	mem.Load(memory.NewPointer(0, 0), []byte{0xCD, 0x02})

	p := NewCPU(mem)
	p.SP = 0x0400

	_, err := p.Emulate(2)
	if !errors.Is(err, processor.ErrInvalidOpcode) {
		t.Fatalf("err = %v, want ErrInvalidOpcode", err)
	}
}

// Scenario 5 (§8): AL=0x80; SHL AL,1; HLT.
func TestShiftFlagSemantics(t *testing.T) {
	p := newTestCPU([]byte{0xD0, 0xE0, 0xF4})
	p.SetAL(0x80)

	mustRun(t, p, 2)

	if p.AL() != 0 {
		t.Errorf("AL = 0x%02X, want 0x00", p.AL())
	}
	if !p.CF {
		t.Error("CF = false, want true")
	}
	if !p.OF {
		t.Error("OF = false, want true (sign flipped on a 1-bit shift)")
	}
	if !p.ZF {
		t.Error("ZF = false, want true")
	}
}

// Scenario 6 (§8): far CALL to a routine that is only RETF; the pushed
// return address must restore CS:IP and SP exactly.
func TestFarCallReturnRoundTrip(t *testing.T) {
	program := []byte{
		0x9A, 0x10, 0x00, 0x00, 0x00, // CALL 0000:0010
		0xF4, // HLT (offset 5, one past the CALL)
	}
	p := newTestCPU(program)
	p.WriteByte(memory.NewPointer(0, 0x0010), 0xCB) // RETF
	sp0 := p.SP

	mustRun(t, p, 3)

	if p.CS != 0 || p.IP != 5 {
		t.Errorf("CS:IP = %04X:%04X, want 0000:0005", p.CS, p.IP)
	}
	if p.SP != sp0 {
		t.Errorf("SP = 0x%04X, want 0x%04X (stack balanced)", p.SP, sp0)
	}
}

// §8 property 3: PUSH immediately followed by POP into the same register
// preserves the register's value and restores SP.
func TestPushPopRoundTrip(t *testing.T) {
	p := newTestCPU([]byte{0x53, 0x5B, 0xF4}) // PUSH BX ; POP BX ; HLT
	p.BX = 0xBEEF
	sp0 := p.SP

	mustRun(t, p, 2)

	if p.BX != 0xBEEF {
		t.Errorf("BX = 0x%04X, want 0xBEEF", p.BX)
	}
	if p.SP != sp0 {
		t.Errorf("SP = 0x%04X, want 0x%04X", p.SP, sp0)
	}
}

// §8 property 4: PUSHF followed by POPF preserves all nine flag bits.
// T stays clear: with T set, the single-step INT 1 fires after PUSHF and
// before POPF can run.
func TestFlagsRoundTripThroughStack(t *testing.T) {
	p := newTestCPU([]byte{0x9C, 0x9D, 0xF4}) // PUSHF ; POPF ; HLT
	p.CF, p.PF, p.AF, p.ZF, p.SF, p.OF, p.DF, p.IF, p.TF = true, false, true, false, true, false, true, false, false

	before := *p.GetRegisters()
	mustRun(t, p, 2)
	after := *p.GetRegisters()

	if before.FlagsWord() != after.FlagsWord() {
		t.Errorf("flags changed across PUSHF/POPF: before=%04X after=%04X", before.FlagsWord(), after.FlagsWord())
	}
}

// §8 property 2: writing AL must not disturb AH, and AX must read back
// the composed value.
func TestByteWordRegisterAliasing(t *testing.T) {
	p := newTestCPU(nil)
	p.AX = 0x1234
	p.SetAL(0x56)
	if p.AX != 0x1256 {
		t.Errorf("AX = 0x%04X, want 0x1256 after SetAL", p.AX)
	}
	p.SetAH(0x78)
	if p.AX != 0x7856 {
		t.Errorf("AX = 0x%04X, want 0x7856 after SetAH", p.AX)
	}
}

// §8 property 1: IP wraps modulo 65536.
func TestIPWraps(t *testing.T) {
	p := newTestCPU(nil)
	p.IP = 0xFFFF
	p.IP++
	if p.IP != 0 {
		t.Errorf("IP = 0x%04X, want 0x0000 after wrap", p.IP)
	}
}

// §8 property 7: every conditional jump is taken iff its predicate holds,
// and the displacement byte is always consumed either way.
func TestConditionalJumpCompleteness(t *testing.T) {
	cases := []struct {
		name   string
		opcode byte
		setup  func(*CPU)
		taken  bool
	}{
		{"JO taken", 0x70, func(p *CPU) { p.OF = true }, true},
		{"JO not taken", 0x70, func(p *CPU) { p.OF = false }, false},
		{"JNO taken", 0x71, func(p *CPU) { p.OF = false }, true},
		{"JB taken", 0x72, func(p *CPU) { p.CF = true }, true},
		{"JNB taken", 0x73, func(p *CPU) { p.CF = false }, true},
		{"JZ taken", 0x74, func(p *CPU) { p.ZF = true }, true},
		{"JNZ taken", 0x75, func(p *CPU) { p.ZF = false }, true},
		{"JBE taken on C", 0x76, func(p *CPU) { p.CF = true }, true},
		{"JBE taken on Z", 0x76, func(p *CPU) { p.ZF = true }, true},
		{"JNBE taken", 0x77, func(p *CPU) { p.CF, p.ZF = false, false }, true},
		{"JS taken", 0x78, func(p *CPU) { p.SF = true }, true},
		{"JNS taken", 0x79, func(p *CPU) { p.SF = false }, true},
		{"JP taken", 0x7A, func(p *CPU) { p.PF = true }, true},
		{"JNP taken", 0x7B, func(p *CPU) { p.PF = false }, true},
		{"JL taken", 0x7C, func(p *CPU) { p.SF, p.OF = true, false }, true},
		{"JNL taken", 0x7D, func(p *CPU) { p.SF, p.OF = true, true }, true},
		{"JLE taken on Z", 0x7E, func(p *CPU) { p.ZF = true }, true},
		{"JNLE taken", 0x7F, func(p *CPU) { p.ZF, p.SF, p.OF = false, true, true }, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := newTestCPU([]byte{c.opcode, 0x10, 0xF4, 0xF4}) // Jcc +0x10 ; HLT ; HLT
			c.setup(p)
			mustRun(t, p, 1)

			wantIP := uint16(2)
			if c.taken {
				wantIP = uint16(2 + 0x10)
			}
			if p.IP != wantIP {
				t.Errorf("IP = 0x%04X, want 0x%04X (taken=%v)", p.IP, wantIP, c.taken)
			}
		})
	}
}

func TestLoopDecrementsAndStopsAtZero(t *testing.T) {
	p := newTestCPU([]byte{0xE2, 0xFE, 0xF4}) // LOOP -2 ; HLT
	p.CX = 3

	for i := 0; i < 3; i++ {
		mustRun(t, p, 1)
		p.IP = 0
	}
	if p.CX != 0 {
		t.Errorf("CX = %d, want 0", p.CX)
	}
}

// INC/DEC through the 0x40-0x4F block must never touch C.
func TestIncDecPreservesCarry(t *testing.T) {
	p := newTestCPU([]byte{0x47, 0xF4}) // INC DI ; HLT
	p.CF = true
	p.DI = 0xFFFF

	mustRun(t, p, 1)

	if p.DI != 0 {
		t.Errorf("DI = 0x%04X, want 0x0000", p.DI)
	}
	if !p.CF {
		t.Error("CF cleared by INC, want preserved")
	}
}

// DEC sets O only when the operand started at the most negative
// representable value (spec.md §4.2: "dec 0x80 -> 0x7F sets O"), not
// whenever the result happens to equal that value.
func TestDecOverflowFlag(t *testing.T) {
	t.Run("byte overflow at 0x80", func(t *testing.T) {
		p := newTestCPU([]byte{0xFE, 0xCB, 0xF4}) // DEC BL ; HLT
		p.SetBL(0x80)
		mustRun(t, p, 1)
		if p.BL() != 0x7F {
			t.Fatalf("BL = 0x%02X, want 0x7F", p.BL())
		}
		if !p.OF {
			t.Error("OF = false, want true (0x80 -> 0x7F overflows)")
		}
	})
	t.Run("byte no overflow at 0x81", func(t *testing.T) {
		p := newTestCPU([]byte{0xFE, 0xCB, 0xF4})
		p.SetBL(0x81)
		mustRun(t, p, 1)
		if p.BL() != 0x80 {
			t.Fatalf("BL = 0x%02X, want 0x80", p.BL())
		}
		if p.OF {
			t.Error("OF = true, want false (0x81 -> 0x80 does not overflow)")
		}
	})
	t.Run("word overflow at 0x8000", func(t *testing.T) {
		p := newTestCPU([]byte{0x4B, 0xF4}) // DEC BX ; HLT
		p.BX = 0x8000
		mustRun(t, p, 1)
		if p.BX != 0x7FFF {
			t.Fatalf("BX = 0x%04X, want 0x7FFF", p.BX)
		}
		if !p.OF {
			t.Error("OF = false, want true (0x8000 -> 0x7FFF overflows)")
		}
	})
}

// An opcode byte this core does not decode terminates Emulate with
// ErrInvalidOpcode under the default FaultTerminate mode.
func TestInvalidOpcodeTerminatesByDefault(t *testing.T) {
	p := newTestCPU([]byte{0xF1}) // reserved, never dispatched
	_, err := p.Emulate(1)
	if !errors.Is(err, processor.ErrInvalidOpcode) {
		t.Fatalf("err = %v, want ErrInvalidOpcode", err)
	}
}

// With FaultInterrupt configured, the same opcode raises INT 6 instead
// of terminating the loop.
func TestInvalidOpcodeRaisesInt6WhenConfigured(t *testing.T) {
	mem := &memory.Image{}
	mem.Load(memory.NewPointer(0, 0), []byte{0xF1, 0xF4})
	p := NewCPU(mem, WithOpcodeFaultMode(processor.FaultInterrupt))
	p.SP = 0x0400

	n, err := p.Emulate(1)
	if err != nil {
		t.Fatalf("Emulate: %v", err)
	}
	if n != 1 {
		t.Fatalf("executed = %d, want 1", n)
	}
	if p.IP != p.ReadWord(memory.Pointer(4)) || p.CS != p.ReadWord(memory.Pointer(6)) {
		t.Errorf("CS:IP not loaded from vector 6")
	}
}

// An EndEmulation request made before Emulate takes effect at the first
// instruction boundary, so nothing executes.
func TestEndEmulationStopsAtBoundary(t *testing.T) {
	p := newTestCPU([]byte{0x90, 0x90, 0x90, 0xF4}) // NOP x3 ; HLT
	p.EndEmulation()

	n, err := p.Emulate(10)
	if err != nil {
		t.Fatalf("Emulate: %v", err)
	}
	if n != 0 {
		t.Errorf("executed = %d, want 0 (halt requested before first fetch)", n)
	}
}

func TestHaltHostAndTracerAreInvoked(t *testing.T) {
	var haltCalled bool
	var traced []processor.TraceEvent

	mem := &memory.Image{}
	mem.Load(memory.NewPointer(0, 0), []byte{0x90, 0xF4})
	p := NewCPU(mem,
		WithHaltHost(haltFunc(func() { haltCalled = true })),
		WithTracer(traceFunc(func(ev processor.TraceEvent) { traced = append(traced, ev) })),
	)
	p.SP = 0x0400
	p.TraceInstructions(true)

	mustRun(t, p, 2)

	if !haltCalled {
		t.Error("HaltHost.Halt was never called")
	}
	if len(traced) != 2 {
		t.Fatalf("traced %d instructions, want 2", len(traced))
	}
}

type haltFunc func()

func (f haltFunc) Halt() { f() }

type traceFunc func(processor.TraceEvent)

func (f traceFunc) Trace(ev processor.TraceEvent) { f(ev) }

func BenchmarkImmediateArithmetic(b *testing.B) {
	program := []byte{0xB8, 0x34, 0x12, 0x05, 0x01, 0x00, 0xF4}
	for i := 0; i < b.N; i++ {
		p := newTestCPU(program)
		if _, err := p.Emulate(10); err != nil {
			b.Fatal(err)
		}
	}
}
