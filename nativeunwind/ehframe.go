// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// This file implements extraction of stack deltas from the DWARF call frame
// information in .eh_frame sections. Only the rules needed for unwinding are
// tracked: the CFA rule plus the saved locations of the return address and
// the frame pointer. Anything else (other register columns, expressions) is
// skipped or degrades the affected interval to "invalid", which makes the
// unwinder truncate there instead of producing a wrong frame.
package nativeunwind // import "github.com/chhetripradeep/samply/nativeunwind"

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
)

// DWARF Call Frame Instructions, from the DWARF specification.
const (
	dwCFANop             = 0x00
	dwCFASetLoc          = 0x01
	dwCFAAdvanceLoc1     = 0x02
	dwCFAAdvanceLoc2     = 0x03
	dwCFAAdvanceLoc4     = 0x04
	dwCFAOffsetExtended  = 0x05
	dwCFARestoreExtended = 0x06
	dwCFAUndefined       = 0x07
	dwCFASameValue       = 0x08
	dwCFARegister        = 0x09
	dwCFARememberState   = 0x0a
	dwCFARestoreState    = 0x0b
	dwCFADefCFA          = 0x0c
	dwCFADefCFARegister  = 0x0d
	dwCFADefCFAOffset    = 0x0e
	dwCFADefCFAExpr      = 0x0f
	dwCFAExpr            = 0x10
	dwCFAOffsetExtSF     = 0x11
	dwCFADefCFASF        = 0x12
	dwCFADefCFAOffsetSF  = 0x13
	dwCFAValOffset       = 0x14
	dwCFAValOffsetSF     = 0x15
	dwCFAValExpr         = 0x16
	dwCFAGNUArgsSize     = 0x2e

	// High 2 bits encode the compact opcodes.
	dwCFAAdvanceLoc = 0x40
	dwCFAOffset     = 0x80
	dwCFARestore    = 0xc0
)

// DWARF Exception Header pointer encodings.
const (
	ehPEomit    = 0xff
	ehPEuleb128 = 0x01
	ehPEudata2  = 0x02
	ehPEudata4  = 0x03
	ehPEudata8  = 0x04
	ehPEsleb128 = 0x09
	ehPEsdata2  = 0x0a
	ehPEsdata4  = 0x0b
	ehPEsdata8  = 0x0c
	ehPEabsptr  = 0x00

	ehPEpcrel    = 0x10
	ehPEdatarel  = 0x30
	ehPEindirect = 0x80
)

var errUnsupportedEncoding = errors.New("unsupported pointer encoding")

// archRegs holds the DWARF register numbering relevant for unwinding.
type archRegs struct {
	ra uint64
	sp uint64
	fp uint64
	// defaultRAOffset is the CFA-relative return address slot implied by
	// the call instruction, used when the CFI does not spell out an RA
	// rule. Zero means there is no such implicit slot (arm64).
	defaultRAOffset int64
	defaultRAValid  bool
}

func archRegsForMachine(machine elf.Machine) (archRegs, error) {
	switch machine {
	case elf.EM_X86_64:
		return archRegs{ra: 16, sp: 7, fp: 6,
			defaultRAOffset: -8, defaultRAValid: true}, nil
	case elf.EM_AARCH64:
		return archRegs{ra: 30, sp: 31, fp: 29}, nil
	default:
		return archRegs{}, fmt.Errorf("unsupported machine %v", machine)
	}
}

// reader is a cursor over CFI byte code.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) left() int {
	return len(r.data) - r.pos
}

func (r *reader) u8() (uint8, error) {
	if r.left() < 1 {
		return 0, errors.New("eh_frame: truncated u8")
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.left() < 2 {
		return 0, errors.New("eh_frame: truncated u16")
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.left() < 4 {
		return 0, errors.New("eh_frame: truncated u32")
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.left() < 8 {
		return 0, errors.New("eh_frame: truncated u64")
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) uleb() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift > 63 {
			return 0, errors.New("eh_frame: uleb128 overflow")
		}
	}
}

func (r *reader) sleb() (int64, error) {
	var result int64
	var shift uint
	for {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
		if shift > 63 {
			return 0, errors.New("eh_frame: sleb128 overflow")
		}
	}
}

func (r *reader) cstr() (string, error) {
	start := r.pos
	for r.pos < len(r.data) {
		if r.data[r.pos] == 0 {
			s := string(r.data[start:r.pos])
			r.pos++
			return s, nil
		}
		r.pos++
	}
	return "", errors.New("eh_frame: unterminated string")
}

// pointer decodes one encoded pointer. sectionVaddr is the virtual address
// of r.data[0], needed for pc-relative encodings.
func (r *reader) pointer(enc uint8, sectionVaddr uint64) (uint64, error) {
	if enc == ehPEomit {
		return 0, nil
	}
	if enc&ehPEindirect != 0 {
		return 0, errUnsupportedEncoding
	}
	pcBase := sectionVaddr + uint64(r.pos)

	var value uint64
	switch enc & 0x0f {
	case ehPEabsptr, ehPEudata8, ehPEsdata8:
		v, err := r.u64()
		if err != nil {
			return 0, err
		}
		value = v
	case ehPEudata4:
		v, err := r.u32()
		if err != nil {
			return 0, err
		}
		value = uint64(v)
	case ehPEsdata4:
		v, err := r.u32()
		if err != nil {
			return 0, err
		}
		value = uint64(int64(int32(v)))
	case ehPEudata2:
		v, err := r.u16()
		if err != nil {
			return 0, err
		}
		value = uint64(v)
	case ehPEsdata2:
		v, err := r.u16()
		if err != nil {
			return 0, err
		}
		value = uint64(int64(int16(v)))
	case ehPEuleb128:
		v, err := r.uleb()
		if err != nil {
			return 0, err
		}
		value = v
	case ehPEsleb128:
		v, err := r.sleb()
		if err != nil {
			return 0, err
		}
		value = uint64(v)
	default:
		return 0, errUnsupportedEncoding
	}

	switch enc & 0x70 {
	case 0:
		return value, nil
	case ehPEpcrel:
		return pcBase + value, nil
	default:
		return 0, errUnsupportedEncoding
	}
}

// regRule is the unwind rule of one tracked register column.
type regRule struct {
	// offset from CFA where the register is saved.
	offset int64
	valid  bool
	// undefined marks an explicitly undefined return address, which is
	// how runtimes mark the outermost frame.
	undefined bool
}

// cfaState is the CFI row state at one code location.
type cfaState struct {
	cfaReg    uint64
	cfaOffset int64
	cfaValid  bool
	ra        regRule
	fp        regRule
}

// cieInfo is the parsed form of one CIE.
type cieInfo struct {
	codeAlign    uint64
	dataAlign    int64
	raReg        uint64
	fdeEnc       uint8
	hasAugData   bool
	initialState cfaState
}

// ehframeExtractor holds the per-module extraction context.
type ehframeExtractor struct {
	data         []byte
	sectionVaddr uint64
	regs         archRegs

	cies   map[uint64]*cieInfo
	deltas *IntervalData
}

// ExtractELF builds the stack delta table from the .eh_frame data of the
// given ELF file. An ELF without .eh_frame yields an empty table (module
// falls back to another unwind strategy).
func ExtractELF(ef *elf.File) (*IntervalData, error) {
	sec := ef.Section(".eh_frame")
	if sec == nil {
		return &IntervalData{}, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("failed to read .eh_frame: %w", err)
	}
	regs, err := archRegsForMachine(ef.Machine)
	if err != nil {
		return nil, err
	}

	ex := &ehframeExtractor{
		data:         data,
		sectionVaddr: sec.Addr,
		regs:         regs,
		cies:         make(map[uint64]*cieInfo),
		deltas:       &IntervalData{},
	}
	ex.extract()
	ex.deltas.Sort()
	return ex.deltas, nil
}

// extract walks all CIE and FDE entries. A malformed entry terminates the
// walk: everything extracted up to that point stays usable.
func (ex *ehframeExtractor) extract() {
	offset := uint64(0)
	for offset+4 <= uint64(len(ex.data)) {
		r := &reader{data: ex.data, pos: int(offset)}
		length, err := r.u32()
		if err != nil || length == 0 {
			return
		}
		if length == 0xffffffff {
			// 64-bit DWARF format is not emitted by any mainstream
			// toolchain for .eh_frame.
			return
		}
		entryEnd := uint64(r.pos) + uint64(length)
		if entryEnd > uint64(len(ex.data)) {
			return
		}

		idPos := uint64(r.pos)
		id, err := r.u32()
		if err != nil {
			return
		}
		entry := &reader{data: ex.data[:entryEnd], pos: r.pos}
		if id == 0 {
			if err := ex.parseCIE(offset, entry); err != nil {
				return
			}
		} else {
			// The ID field is the distance from itself back to the
			// owning CIE.
			ex.parseFDE(idPos-uint64(id), entry)
		}
		offset = entryEnd
	}
}

func (ex *ehframeExtractor) parseCIE(cieOffset uint64, r *reader) error {
	version, err := r.u8()
	if err != nil {
		return err
	}
	if version != 1 && version != 3 && version != 4 {
		return fmt.Errorf("unsupported CIE version %d", version)
	}
	augmentation, err := r.cstr()
	if err != nil {
		return err
	}
	if version == 4 {
		// address_size and segment_size
		if _, err = r.u16(); err != nil {
			return err
		}
	}

	cie := &cieInfo{fdeEnc: ehPEabsptr}
	if cie.codeAlign, err = r.uleb(); err != nil {
		return err
	}
	if cie.dataAlign, err = r.sleb(); err != nil {
		return err
	}
	if version == 1 {
		var raReg uint8
		if raReg, err = r.u8(); err != nil {
			return err
		}
		cie.raReg = uint64(raReg)
	} else {
		if cie.raReg, err = r.uleb(); err != nil {
			return err
		}
	}

	if len(augmentation) > 0 && augmentation[0] == 'z' {
		cie.hasAugData = true
		augLen, err := r.uleb()
		if err != nil {
			return err
		}
		augEnd := r.pos + int(augLen)
		for _, c := range augmentation[1:] {
			switch c {
			case 'R':
				if cie.fdeEnc, err = r.u8(); err != nil {
					return err
				}
			case 'P':
				var personalityEnc uint8
				if personalityEnc, err = r.u8(); err != nil {
					return err
				}
				if _, err = r.pointer(personalityEnc,
					ex.sectionVaddr); err != nil {
					return err
				}
			case 'L':
				if _, err = r.u8(); err != nil {
					return err
				}
			case 'S':
				// Signal frame, no extra data.
			}
		}
		if augEnd > len(r.data) {
			return errors.New("eh_frame: bad augmentation length")
		}
		r.pos = augEnd
	}

	// Run the initial instructions to produce the state FDEs start from.
	state := cfaState{}
	if ex.regs.defaultRAValid {
		state.ra = regRule{offset: ex.regs.defaultRAOffset, valid: true}
	}
	exec := &cfaExecutor{
		cie:   cie,
		regs:  ex.regs,
		state: state,
	}
	if err = exec.run(r, ex.sectionVaddr, nil); err != nil {
		return err
	}
	cie.initialState = exec.state
	ex.cies[cieOffset] = cie
	return nil
}

func (ex *ehframeExtractor) parseFDE(cieOffset uint64, r *reader) {
	cie, ok := ex.cies[cieOffset]
	if !ok {
		return
	}
	pcBegin, err := r.pointer(cie.fdeEnc, ex.sectionVaddr)
	if err != nil {
		return
	}
	// The range is decoded with the value format but never pc-relative.
	pcRange, err := r.pointer(cie.fdeEnc&0x0f, ex.sectionVaddr)
	if err != nil {
		return
	}
	if cie.hasAugData {
		augLen, err := r.uleb()
		if err != nil || r.pos+int(augLen) > len(r.data) {
			return
		}
		r.pos += int(augLen)
	}

	exec := &cfaExecutor{
		cie:   cie,
		regs:  ex.regs,
		state: cie.initialState,
		loc:   pcBegin,
	}
	emit := func(loc uint64, st *cfaState) {
		ex.emitDelta(loc, st)
	}
	emit(pcBegin, &exec.state)
	if err := exec.run(r, ex.sectionVaddr, emit); err != nil {
		// Degrade the whole function to "invalid" rather than keeping
		// possibly half-applied rules.
		ex.deltas.Deltas = append(ex.deltas.Deltas,
			StackDelta{Address: pcBegin, Info: UnwindInfoInvalid})
	}
	// Mark the gap after the function.
	ex.deltas.Deltas = append(ex.deltas.Deltas,
		StackDelta{Address: pcBegin + pcRange, Info: UnwindInfoInvalid})
}

// emitDelta converts a CFI row state into a StackDelta.
func (ex *ehframeExtractor) emitDelta(loc uint64, st *cfaState) {
	info := UnwindInfoInvalid
	switch {
	case st.ra.undefined:
		info = UnwindInfoStop
	case !st.cfaValid || !st.ra.valid:
		// no usable rule
	case st.cfaReg == ex.regs.sp:
		info = UnwindInfo{Opcode: UnwindOpcodeBaseSP,
			Param: int32(st.cfaOffset), RAParam: int32(st.ra.offset)}
	case st.cfaReg == ex.regs.fp:
		info = UnwindInfo{Opcode: UnwindOpcodeBaseFP,
			Param: int32(st.cfaOffset), RAParam: int32(st.ra.offset)}
	}
	if info.Opcode == UnwindOpcodeBaseSP || info.Opcode == UnwindOpcodeBaseFP {
		if st.fp.valid {
			info.FPParam = int32(st.fp.offset)
			info.FPValid = true
		}
	}

	n := len(ex.deltas.Deltas)
	if n > 0 && ex.deltas.Deltas[n-1].Address == loc {
		ex.deltas.Deltas[n-1].Info = info
		return
	}
	if n > 0 && ex.deltas.Deltas[n-1].Info == info {
		return
	}
	ex.deltas.Deltas = append(ex.deltas.Deltas, StackDelta{Address: loc, Info: info})
}

// cfaExecutor interprets DWARF call frame instructions, tracking only the
// CFA, RA and FP columns.
type cfaExecutor struct {
	cie   *cieInfo
	regs  archRegs
	state cfaState
	loc   uint64

	rememberStack []cfaState
}

func (e *cfaExecutor) setRegRule(reg uint64, rule regRule) {
	switch reg {
	case e.regs.ra:
		e.state.ra = rule
	case e.regs.fp:
		e.state.fp = rule
	}
}

//nolint:gocyclo
func (e *cfaExecutor) run(r *reader, sectionVaddr uint64,
	emit func(loc uint64, st *cfaState)) error {
	advance := func(delta uint64) {
		e.loc += delta
		if emit != nil {
			emit(e.loc, &e.state)
		}
	}

	for r.left() > 0 {
		op, err := r.u8()
		if err != nil {
			return err
		}
		switch {
		case op&0xc0 == dwCFAAdvanceLoc:
			advance(uint64(op&0x3f) * e.cie.codeAlign)
			continue
		case op&0xc0 == dwCFAOffset:
			off, err := r.uleb()
			if err != nil {
				return err
			}
			e.setRegRule(uint64(op&0x3f),
				regRule{offset: int64(off) * e.cie.dataAlign, valid: true})
			continue
		case op&0xc0 == dwCFARestore:
			e.restoreReg(uint64(op & 0x3f))
			continue
		}

		switch op {
		case dwCFANop:
		case dwCFASetLoc:
			loc, err := r.pointer(e.cie.fdeEnc, sectionVaddr)
			if err != nil {
				return err
			}
			e.loc = loc
			if emit != nil {
				emit(e.loc, &e.state)
			}
		case dwCFAAdvanceLoc1:
			delta, err := r.u8()
			if err != nil {
				return err
			}
			advance(uint64(delta) * e.cie.codeAlign)
		case dwCFAAdvanceLoc2:
			delta, err := r.u16()
			if err != nil {
				return err
			}
			advance(uint64(delta) * e.cie.codeAlign)
		case dwCFAAdvanceLoc4:
			delta, err := r.u32()
			if err != nil {
				return err
			}
			advance(uint64(delta) * e.cie.codeAlign)
		case dwCFAOffsetExtended:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.uleb()
			if err != nil {
				return err
			}
			e.setRegRule(reg,
				regRule{offset: int64(off) * e.cie.dataAlign, valid: true})
		case dwCFAOffsetExtSF:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.sleb()
			if err != nil {
				return err
			}
			e.setRegRule(reg,
				regRule{offset: off * e.cie.dataAlign, valid: true})
		case dwCFARestoreExtended:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			e.restoreReg(reg)
		case dwCFAUndefined:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			if reg == e.regs.ra {
				e.state.ra = regRule{undefined: true}
			} else {
				e.setRegRule(reg, regRule{})
			}
		case dwCFASameValue:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			e.setRegRule(reg, regRule{})
		case dwCFARegister:
			if _, err := r.uleb(); err != nil {
				return err
			}
			if _, err := r.uleb(); err != nil {
				return err
			}
		case dwCFARememberState:
			e.rememberStack = append(e.rememberStack, e.state)
		case dwCFARestoreState:
			if n := len(e.rememberStack); n > 0 {
				// Restoring must not rewind the code location.
				loc := e.loc
				e.state = e.rememberStack[n-1]
				e.rememberStack = e.rememberStack[:n-1]
				e.loc = loc
				if emit != nil {
					emit(e.loc, &e.state)
				}
			}
		case dwCFADefCFA:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.uleb()
			if err != nil {
				return err
			}
			e.state.cfaReg = reg
			e.state.cfaOffset = int64(off)
			e.state.cfaValid = true
		case dwCFADefCFASF:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			off, err := r.sleb()
			if err != nil {
				return err
			}
			e.state.cfaReg = reg
			e.state.cfaOffset = off * e.cie.dataAlign
			e.state.cfaValid = true
		case dwCFADefCFARegister:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			e.state.cfaReg = reg
		case dwCFADefCFAOffset:
			off, err := r.uleb()
			if err != nil {
				return err
			}
			e.state.cfaOffset = int64(off)
		case dwCFADefCFAOffsetSF:
			off, err := r.sleb()
			if err != nil {
				return err
			}
			e.state.cfaOffset = off * e.cie.dataAlign
		case dwCFADefCFAExpr:
			if err := skipBlock(r); err != nil {
				return err
			}
			// CFA expressions cannot be evaluated from the bounded
			// stack window alone.
			e.state.cfaValid = false
		case dwCFAExpr, dwCFAValExpr:
			reg, err := r.uleb()
			if err != nil {
				return err
			}
			if err := skipBlock(r); err != nil {
				return err
			}
			e.setRegRule(reg, regRule{})
		case dwCFAValOffset:
			if _, err := r.uleb(); err != nil {
				return err
			}
			if _, err := r.uleb(); err != nil {
				return err
			}
		case dwCFAValOffsetSF:
			if _, err := r.uleb(); err != nil {
				return err
			}
			if _, err := r.sleb(); err != nil {
				return err
			}
		case dwCFAGNUArgsSize:
			if _, err := r.uleb(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported CFA opcode 0x%x", op)
		}
	}
	return nil
}

func (e *cfaExecutor) restoreReg(reg uint64) {
	switch reg {
	case e.regs.ra:
		e.state.ra = e.cie.initialState.ra
	case e.regs.fp:
		e.state.fp = e.cie.initialState.fp
	}
}

func skipBlock(r *reader) error {
	blockLen, err := r.uleb()
	if err != nil {
		return err
	}
	if r.left() < int(blockLen) {
		return errors.New("eh_frame: truncated expression block")
	}
	r.pos += int(blockLen)
	return nil
}
