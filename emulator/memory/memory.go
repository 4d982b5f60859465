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

// Package memory implements the 8086's flat 1 MiB address space: a single
// byte array addressed through segment:offset pairs collapsed to a 20-bit
// linear address.
package memory

import "fmt"

// Size is the full 1 MiB address space a real 8086 can address with its
// 20-bit address bus.
const Size = 1 << 20

// Address is a segment:offset pair, packed into the high/low halves of a
// uint32 so it can carry both parts without resolving them to a linear
// offset until needed.
type Address uint32

func NewAddress(seg, offset uint16) Address {
	return (Address(seg) << 16) | Address(offset)
}

func (a Address) String() string {
	return fmt.Sprintf("0x%X:0x%X", a.Segment(), a.Offset())
}

func (a Address) Segment() uint16 {
	return uint16(a >> 16)
}

func (a Address) Offset() uint16 {
	return uint16(a & 0xFFFF)
}

func (a Address) Pointer() Pointer {
	return NewPointer(a.Segment(), a.Offset())
}

// AddInt advances the offset half only, matching how the 8086 computes a
// second operand of a far pointer (segment fixed, offset+2) without
// touching the segment.
func (a Address) AddInt(i int) Address {
	return (Address(a) & 0xFFFF0000) | Address(a.Offset()+uint16(i))
}

// Pointer is a resolved 20-bit linear address: seg*16 + offset, wrapped to
// the 1 MiB address space exactly as the 8086's address bus wraps.
type Pointer uint32

func NewPointer(seg, offset uint16) Pointer {
	return (Pointer(seg)*0x10 + Pointer(offset)) & (Size - 1)
}

func (p Pointer) String() string {
	return fmt.Sprintf("0x%X", uint32(p))
}

// Image is the guest's flat memory. All access is unchecked: addresses are
// masked into range rather than bounds-checked, since the 20-bit wrap is
// itself the 8086's specified behavior.
type Image struct {
	bytes [Size]byte
}

func (m *Image) ReadByte(addr Pointer) byte {
	return m.bytes[addr&(Size-1)]
}

func (m *Image) WriteByte(addr Pointer, data byte) {
	m.bytes[addr&(Size-1)] = data
}

func (m *Image) ReadWord(addr Pointer) uint16 {
	return uint16(m.ReadByte(addr)) | uint16(m.ReadByte(addr+1))<<8
}

func (m *Image) WriteWord(addr Pointer, data uint16) {
	m.WriteByte(addr, byte(data))
	m.WriteByte(addr+1, byte(data>>8))
}

// Load copies data into the image starting at addr, for a host preparing
// the guest's initial memory image before handing control to the core.
func (m *Image) Load(addr Pointer, data []byte) {
	for i, b := range data {
		m.WriteByte(addr+Pointer(i), b)
	}
}

// Snapshot returns a copy of the full address space, for host-side
// inspection after the execution loop returns.
func (m *Image) Snapshot() [Size]byte {
	return m.bytes
}
