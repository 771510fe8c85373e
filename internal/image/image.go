// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package image

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// An Image represents the state of a process captured in an ELF core file:
// its virtual memory, OS threads, and (best-effort) symbol/DWARF info.
//
// Image is the concrete VirtualAddressMap collaborator spec.md §6
// describes; package heapwalk never imports debug/elf or knows that cores
// come from ELF files. Everything ELF-specific lives here.
type Image struct {
	base string   // directory under which referenced mapped files are sought
	exe  *os.File // optional explicit path to the main executable

	files        map[string]*backingFile
	mainExecName string

	entryPoint Address
	memory     splicedMemory
	threads    []*Thread

	arch       string
	ptrSize    int64
	byteOrder  binary.ByteOrder
	syms       map[string]Address
	symErr     error
	dwarfData  *dwarf.Data
	dwarfErr   error
	args       string
	warnings   []string
}

type backingFile struct {
	f   *os.File
	err error
}

func (p *Image) Mappings() []*Mapping     { return p.memory.mappings }
func (p *Image) Threads() []*Thread       { return p.threads }
func (p *Image) Arch() string             { return p.arch }
func (p *Image) PtrSize() int64           { return p.ptrSize }
func (p *Image) ByteOrder() binary.ByteOrder { return p.byteOrder }
func (p *Image) Warnings() []string       { return p.warnings }
func (p *Image) Args() string             { return p.args }

// DWARF returns the main executable's DWARF info, if any could be loaded.
func (p *Image) DWARF() (*dwarf.Data, error) { return p.dwarfData, p.dwarfErr }

// Symbols returns a name->address map built from every ELF file we could
// find (the core's NT_FILE entries plus, if given, an explicit exe path).
// The map may be non-empty even when symErr != nil: partial results from
// files that parsed are kept.
func (p *Image) Symbols() (map[string]Address, error) { return p.syms, p.symErr }

// Core loads a process image from an ELF core file. base is a directory
// under which any separately-mapped files (shared libraries, the main
// executable if exePath=="") referenced by the core's NT_FILE note are
// sought. exePath, if non-empty, overrides which file is treated as the
// main executable (useful when the core was generated on a different
// machine than the one doing the analysis).
func Core(coreFile, base, exePath string) (*Image, error) {
	f, err := os.Open(coreFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open core file: %w", err)
	}
	defer f.Close()

	p := &Image{base: base, files: make(map[string]*backingFile)}
	if exePath != "" {
		bin, err := os.Open(exePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open executable file: %w", err)
		}
		p.exe = bin
	}

	if err := p.readExec(p.exe); err != nil {
		return nil, err
	}
	if err := p.readCore(f); err != nil {
		return nil, err
	}
	if err := p.memory.finalize(); err != nil {
		return nil, err
	}
	p.readDebugInfo()
	return p, nil
}

func (p *Image) readExec(exe *os.File) error {
	if exe == nil {
		return nil
	}
	e, err := elf.NewFile(exe)
	if err != nil {
		return err
	}
	for _, prog := range e.Progs {
		if prog.Type == elf.PT_LOAD {
			if err := p.readLoad(exe, e, prog, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Image) readCore(core *os.File) error {
	e, err := elf.NewFile(core)
	if err != nil {
		return err
	}
	if e.Type != elf.ET_CORE {
		return fmt.Errorf("%s is not a core file", core.Name())
	}
	switch e.Class {
	case elf.ELFCLASS32:
		p.ptrSize = 4
	case elf.ELFCLASS64:
		p.ptrSize = 8
	default:
		return fmt.Errorf("unknown elf class %s", e.Class)
	}
	switch e.Machine {
	case elf.EM_386:
		p.arch = "386"
	case elf.EM_X86_64:
		p.arch = "amd64"
	case elf.EM_ARM:
		p.arch = "arm"
	case elf.EM_AARCH64:
		p.arch = "arm64"
	default:
		return fmt.Errorf("unsupported arch %s", e.Machine)
	}
	p.byteOrder = e.ByteOrder

	for _, prog := range e.Progs {
		if prog.Type == elf.PT_LOAD {
			if err := p.readLoad(core, e, prog, true); err != nil {
				return err
			}
		}
	}
	for _, prog := range e.Progs {
		if prog.Type == elf.PT_NOTE {
			if err := p.readNote(core, e, prog.Off, prog.Filesz); err != nil {
				return fmt.Errorf("reading notes: %w", err)
			}
		}
	}
	return nil
}

// readLoad registers the virtual memory described by a PT_LOAD program
// header. If fromCore is false (we're reading the stand-alone executable,
// not the core), the data isn't trustworthy as live process memory and is
// only used as a last-resort backing source, overridden later by anything
// the core itself supplies.
func (p *Image) readLoad(f *os.File, e *elf.File, prog *elf.Prog, fromCore bool) error {
	min := Address(prog.Vaddr)
	max := min.Add(int64(prog.Memsz))
	var perm Perm
	if prog.Flags&elf.PF_R != 0 {
		perm |= Read
	}
	if prog.Flags&elf.PF_W != 0 {
		perm |= Write
	}
	if prog.Flags&elf.PF_X != 0 {
		perm |= Exec
	}
	if perm == 0 {
		return nil
	}
	if prog.Filesz > 0 {
		size := int64(prog.Filesz)
		b := make([]byte, size)
		if _, err := f.ReadAt(b, int64(prog.Off)); err != nil {
			return fmt.Errorf("reading PT_LOAD segment: %w", err)
		}
		p.memory.add(&Mapping{min: min, max: min.Add(size), perm: perm, f: f, off: int64(prog.Off), contents: b})
	}
	if prog.Filesz < prog.Memsz {
		// Anonymous (e.g. BSS) tail with no file backing: read as zero.
		start := min.Add(int64(prog.Filesz))
		p.memory.add(&Mapping{min: start, max: max, perm: perm, truncated: true, contents: make([]byte, max.Sub(start))})
	}
	return nil
}

const ntFile = elf.NType(0x46494c45)

func (p *Image) readNote(f *os.File, e *elf.File, off, size uint64) error {
	b := make([]byte, size)
	if _, err := f.ReadAt(b, int64(off)); err != nil {
		return err
	}
	for len(b) > 0 {
		if len(b) < 12 {
			break
		}
		namesz := e.ByteOrder.Uint32(b)
		b = b[4:]
		descsz := e.ByteOrder.Uint32(b)
		b = b[4:]
		typ := elf.NType(e.ByteOrder.Uint32(b))
		b = b[4:]
		if uint32(len(b)) < namesz {
			break
		}
		name := strings.TrimRight(string(b[:namesz]), "\x00")
		b = b[(namesz+3)/4*4:]
		if uint32(len(b)) < descsz {
			break
		}
		desc := b[:descsz]
		b = b[(descsz+3)/4*4:]

		if name != "CORE" {
			continue
		}
		switch typ {
		case ntFile:
			if err := p.readNTFile(e, desc); err != nil {
				p.warnings = append(p.warnings, fmt.Sprintf("NT_FILE note: %v", err))
			}
		case elf.NT_PRPSINFO:
			p.readPRPSInfo(desc)
		case elf.NT_PRSTATUS:
			p.readPRStatus(e.ByteOrder, desc)
		}
	}
	return nil
}

func (p *Image) readNTFile(e *elf.File, desc []byte) error {
	if len(desc) < 16 {
		return fmt.Errorf("truncated NT_FILE note")
	}
	count := e.ByteOrder.Uint64(desc)
	desc = desc[8:]
	pagesize := e.ByteOrder.Uint64(desc)
	desc = desc[8:]
	if uint64(len(desc)) < 3*8*count {
		return fmt.Errorf("truncated NT_FILE entries")
	}
	filenames := string(desc[3*8*count:])
	entries := desc[:3*8*count]

	for i := uint64(0); i < count; i++ {
		min := Address(e.ByteOrder.Uint64(entries))
		entries = entries[8:]
		max := Address(e.ByteOrder.Uint64(entries))
		entries = entries[8:]
		foff := int64(e.ByteOrder.Uint64(entries)) * int64(pagesize)
		entries = entries[8:]

		var name string
		if j := strings.IndexByte(filenames, 0); j >= 0 {
			name = filenames[:j]
			filenames = filenames[j+1:]
		} else {
			name = filenames
		}

		// Tag any previously-read mapping that falls in [min,max) with
		// this backing file, unless the core already supplied contents.
		for _, m := range p.memory.mappings {
			if m.max <= min || m.min >= max || !m.truncated {
				continue
			}
			bf, err := p.openMappedFile(name)
			if err != nil {
				p.warnings = append(p.warnings, fmt.Sprintf(
					"missing data at [%s,%s): %v; assuming zero", m.min, m.max, err))
				continue
			}
			if bf.f == nil {
				continue
			}
			off := foff + m.min.Sub(min)
			b := make([]byte, m.Size())
			if _, err := bf.f.ReadAt(b, off); err != nil {
				p.warnings = append(p.warnings, fmt.Sprintf(
					"short read from %s at %d: %v", name, off, err))
				continue
			}
			m.contents = b
			m.truncated = false
			m.f = bf.f
			m.off = off
		}
	}
	return nil
}

func (p *Image) openMappedFile(name string) (*backingFile, error) {
	if name == "" {
		return &backingFile{}, nil
	}
	if bf, ok := p.files[name]; ok {
		return bf, bf.err
	}
	bf := &backingFile{}
	if p.exe != nil && p.mainExecName == "" {
		p.mainExecName = name
		bf.f = p.exe
	} else {
		bf.f, bf.err = os.Open(filepath.Join(p.base, filepath.Base(name)))
		if bf.err == nil && p.mainExecName == "" {
			p.mainExecName = name
		}
	}
	p.files[name] = bf
	return bf, bf.err
}

func (p *Image) readPRPSInfo(desc []byte) {
	// Only the trailing args field is of interest; its offset/size is
	// platform-specific. We decode the amd64 Linux elf_prpsinfo layout
	// (offset 40 len 16 for fname, 56 len 80 for args) and otherwise
	// leave Args() empty rather than guessing wrong.
	if p.arch != "amd64" || len(desc) < 136 {
		return
	}
	args := desc[56:136]
	p.args = strings.Trim(string(bytes.TrimRight(args, "\x00")), " ")
}

func (p *Image) readDebugInfo() {
	p.syms = map[string]Address{}
	for _, bf := range p.files {
		if bf.f == nil {
			continue
		}
		e, err := elf.NewFile(bf.f)
		if err != nil {
			continue
		}
		syms, err := e.Symbols()
		if err != nil {
			p.symErr = fmt.Errorf("reading symbols from %s: %w", bf.f.Name(), err)
			continue
		}
		for _, s := range syms {
			p.syms[s.Name] = Address(s.Value)
		}
	}

	exe := p.exe
	if exe == nil {
		if bf, ok := p.files[p.mainExecName]; ok && bf.err == nil {
			exe = bf.f
		}
	}
	if exe == nil {
		p.dwarfErr = fmt.Errorf("can't find the main executable to read DWARF from")
		return
	}
	e, err := elf.NewFile(exe)
	if err != nil {
		p.dwarfErr = err
		return
	}
	d, err := e.DWARF()
	if err != nil {
		p.dwarfErr = err
		return
	}
	p.dwarfData = d
}

// DataBSSRange looks up the virtual address range of a named ELF section
// (conventionally ".data" or ".bss") in the main executable, for use as a
// static-anchor-limit range (spec.md §4.2). It is deliberately narrow: a
// full symbol-table-driven per-global breakdown is DWARF/symbol
// resolution, which spec.md §1 places out of scope.
func (p *Image) DataBSSRange(section string) (min, max Address, ok bool) {
	exe := p.exe
	if exe == nil {
		if bf, found := p.files[p.mainExecName]; found && bf.err == nil {
			exe = bf.f
		}
	}
	if exe == nil {
		return 0, 0, false
	}
	e, err := elf.NewFile(exe)
	if err != nil {
		return 0, 0, false
	}
	s := e.Section(section)
	if s == nil || s.Addr == 0 {
		return 0, 0, false
	}
	return Address(s.Addr), Address(s.Addr + s.Size), true
}
