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

// Package cpu implements the fetch-decode-execute core of an 8086: the
// opcode dispatcher, ModR/M and effective-address resolution, the
// arithmetic/shift/string primitives, and the execution loop that drives
// them against a flat memory image.
package cpu

import (
	"sync/atomic"

	"github.com/8086emu/core/emulator/memory"
	"github.com/8086emu/core/emulator/processor"
	"github.com/sirupsen/logrus"
)

// CPU is a single 8086 core: register/flag state, decode scratch for the
// instruction currently being fetched, and the host collaborators it calls
// out to for interrupts, port I/O, halt notification and tracing.
type CPU struct {
	processor.Registers
	instructionState

	mem *memory.Image

	// ext80186 mirrors the teacher's isV20 switch: when false (the
	// default) opcodes that only exist on the 80186
	// (PUSHA/POPA/BOUND/IMUL-imm/shift-by-immediate/ENTER/LEAVE) are
	// treated as invalid, matching this core's 8086-only scope.
	ext80186 bool

	faultMode processor.OpcodeFaultMode
	diag      processor.Diagnostics

	interruptHost processor.InterruptHost
	portHost      processor.PortHost
	haltHost      processor.HaltHost
	tracer        processor.Tracer
	disasm        processor.Disassembler

	tracing      atomic.Bool
	endRequested atomic.Bool

	stats processor.Stats
}

// Option configures a CPU at construction time. The core has no CLI or
// file-based configuration surface (§6); these functional options are the
// whole of it.
type Option func(*CPU)

func WithLogger(log *logrus.Logger) Option {
	return func(p *CPU) { p.diag = processor.NewDiagnostics(log) }
}

func WithOpcodeFaultMode(mode processor.OpcodeFaultMode) Option {
	return func(p *CPU) { p.faultMode = mode }
}

func WithInterruptHost(h processor.InterruptHost) Option {
	return func(p *CPU) { p.interruptHost = h }
}

func WithPortHost(h processor.PortHost) Option {
	return func(p *CPU) { p.portHost = h }
}

func WithHaltHost(h processor.HaltHost) Option {
	return func(p *CPU) { p.haltHost = h }
}

func WithTracer(t processor.Tracer) Option {
	return func(p *CPU) { p.tracer = t }
}

func WithDisassembler(d processor.Disassembler) Option {
	return func(p *CPU) { p.disasm = d }
}

// With80186Extensions enables PUSHA/POPA/BOUND/IMUL-imm/shift-by-immediate.
// Off by default: this core targets the plain 8086 instruction set (§1
// Non-goals: "80186 or later instructions").
func With80186Extensions() Option {
	return func(p *CPU) { p.ext80186 = true }
}

// NewCPU constructs a core over the given memory image. The host is
// responsible for loading the guest image and setting initial CS:IP/SS:SP
// before calling Emulate.
func NewCPU(mem *memory.Image, opts ...Option) *CPU {
	p := &CPU{mem: mem, diag: processor.NewDiagnostics(nil)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *CPU) Reset() {
	p.Registers.Reset()
	p.instructionState = instructionState{}
}

func (p *CPU) GetRegisters() *processor.Registers {
	return &p.Registers
}

func (p *CPU) GetStats() processor.Stats {
	return p.stats
}

// TraceInstructions enables or disables the per-instruction trace hook.
// The effect is visible starting from the next fetch (§6).
func (p *CPU) TraceInstructions(on bool) {
	p.tracing.Store(on)
}

// EndEmulation requests that Emulate stop at the next instruction
// boundary. Safe to call from another goroutine or a signal handler; the
// request is idempotent (§5).
func (p *CPU) EndEmulation() {
	p.endRequested.Store(true)
}

func (p *CPU) ReadByte(addr memory.Pointer) byte       { return p.mem.ReadByte(addr) }
func (p *CPU) WriteByte(addr memory.Pointer, v byte)   { p.mem.WriteByte(addr, v) }
func (p *CPU) ReadWord(addr memory.Pointer) uint16     { return p.mem.ReadWord(addr) }
func (p *CPU) WriteWord(addr memory.Pointer, v uint16) { p.mem.WriteWord(addr, v) }

func (p *CPU) InByte(port uint16) byte {
	if p.portHost == nil {
		return 0
	}
	return byte(p.portHost.In(port, false))
}

func (p *CPU) InWord(port uint16) uint16 {
	if p.portHost == nil {
		return 0
	}
	return p.portHost.In(port, true)
}

func (p *CPU) OutByte(port uint16, v byte) {
	if p.portHost == nil {
		return
	}
	p.portHost.Out(port, uint16(v), false)
}

func (p *CPU) OutWord(port uint16, v uint16) {
	if p.portHost == nil {
		return
	}
	p.portHost.Out(port, v, true)
}

// Emulate runs up to maxInstructions iterations of the fetch-decode-execute
// loop and returns the number actually executed. It stops early on an
// external halt request, on HLT, or on an unhandled error (§6).
func (p *CPU) Emulate(maxInstructions int) (int, error) {
	executed := 0
	for executed < maxInstructions {
		if p.endRequested.Load() {
			p.endRequested.Store(false)
			break
		}

		if err := p.step(); err != nil {
			executed++
			if err == processor.ErrCPUHalt {
				return executed, nil
			}
			return executed, err
		}
		executed++
	}
	return executed, nil
}

// step runs exactly one fetch-decode-execute cycle: one logical
// instruction, which for a REP-prefixed string opcode means the whole
// repeat loop (§4.3: "one iteration per instruction at this fidelity
// level"). Prefix bytes are consumed inside parseOpcode's own prefix
// loop and never advance the instruction counter by themselves (§3: they
// "MUST be cleared at the top of every instruction fetch").
func (p *CPU) step() error {
	if p.trap {
		p.doInterrupt(1)
	}
	p.trap = p.TF

	p.parseOpcode()

	if p.tracing.Load() {
		p.traceCurrentInstruction()
	}

	var err error
	if p.repeatMode != 0 {
		err = p.doRepeat()
	} else {
		err = p.execute()
	}
	if err == nil {
		p.stats.NumInstructions++
	}
	return err
}

func (p *CPU) traceCurrentInstruction() {
	addr := memory.NewPointer(p.CS, p.decodeAt)
	var raw [6]byte
	n := 0
	for ; n < 6; n++ {
		raw[n] = p.ReadByte(addr + memory.Pointer(n))
	}

	ev := processor.TraceEvent{
		CS:          p.CS,
		IP:          p.decodeAt,
		Opcode:      raw,
		OpcodeLen:   n,
		Registers:   p.Registers,
		Instruction: p.stats.NumInstructions,
	}
	if p.disasm != nil {
		ev.Disasm = p.disasm.Disassemble(raw[:])
	}
	if p.tracer != nil {
		p.tracer.Trace(ev)
	}
}
