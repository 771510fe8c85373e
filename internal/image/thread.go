// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package image

// A Thread represents an operating system thread captured in the core
// file: its register set and stack pointer at the moment of the dump.
type Thread struct {
	PID  uint64
	Regs []uint64 // architecture-specific order; see register name table
	PC   Address
	SP   Address
}

// amd64 NT_PRSTATUS register layout, per struct elf_gregset_t on Linux.
// Index into Thread.Regs by the position below.
var amd64RegisterNames = []string{
	"r15", "r14", "r13", "r12", "rbp", "rbx", "r11", "r10",
	"r9", "r8", "rax", "rcx", "rdx", "rsi", "rdi", "orig_rax",
	"rip", "cs", "eflags", "rsp", "ss", "fs_base", "gs_base",
	"ds", "es", "fs", "gs",
}

// RegisterName returns the architecture register name for index i in
// Thread.Regs, or "" if unknown.
func (p *Image) RegisterName(i int) string {
	switch p.arch {
	case "amd64":
		if i >= 0 && i < len(amd64RegisterNames) {
			return amd64RegisterNames[i]
		}
	}
	return ""
}

// NumRegisters returns the number of general-purpose registers the
// RegisterAnchorPoints analysis should scan per thread (spec.md §3,
// "register encodings (thread-number × num-registers + register-number)").
func (p *Image) NumRegisters() int {
	switch p.arch {
	case "amd64":
		return len(amd64RegisterNames)
	}
	return 0
}

func (p *Image) readPRStatus(byteOrder interface {
	Uint32([]byte) uint32
	Uint64([]byte) uint64
}, desc []byte) {
	t := &Thread{}
	switch p.arch {
	case "amd64":
		if len(desc) < 112+216 {
			return
		}
		t.PID = uint64(byteOrder.Uint32(desc[32 : 32+4]))
		reg := desc[112 : 112+216]
		for i := 0; i+8 <= len(reg); i += 8 {
			t.Regs = append(t.Regs, byteOrder.Uint64(reg[i:]))
		}
		if len(t.Regs) > 16 {
			t.PC = Address(t.Regs[16])
		}
		if len(t.Regs) > 19 {
			t.SP = Address(t.Regs[19])
		}
	default:
		return
	}
	p.threads = append(p.threads, t)
}
