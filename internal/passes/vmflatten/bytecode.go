package vmflatten

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
)

// Bytecode on-wire format (spec.md §4.7, "Bytecode format"): a fixed
// 4-byte magic plus a little-endian u32 version, grounded byte-for-byte on
// original_source's bytecode.rs write_header (VMP_NAME="VMP1",
// VMP_VERSION=1). Strings (call targets, labels) never appear inline —
// only their 64-bit hash does, matching encode_instruction's siphash_u64
// calls; this encoder uses hash/fnv's FNV-1a64 in place of Rust's
// SipHash-based DefaultHasher, since nothing outside this pass's own
// encoder ever needs to reproduce the hash of a given name.
const (
	bytecodeMagic   = "VMP1"
	bytecodeVersion = uint32(1)
)

func nameHash(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// instrSize returns the encoded byte length of one instruction, including
// its 2-byte opcode tag — the same per-instruction size function
// calculate_instruction_size sums over to find label offsets before any
// byte is actually written.
func instrSize(in instr) uint32 {
	const opcodeTagSize = 2
	var body int
	switch in.op {
	case opPush:
		body = 1 + in.val.sizeInBytes() // value-type tag + payload
	case opPopToReg, opPushFromReg:
		body = 4
	case opAlloca:
		body = 8
	case opStoreValue, opLoadValue, opMul, opRet:
		body = 0
	case opCall:
		body = 8 + 1 + 4 + 4*len(in.argRegs) + 4
	case opAdd:
		body = 2 // flags byte + pad byte, matching bytecode.rs's Add encoding
	case opJump, opJumpIf, opJumpIfNot, opLabel:
		body = 8 // hash(target) or hash(name)
	}
	return uint32(opcodeTagSize + body)
}

// collectLabelPositions runs the one pre-pass spec.md §4.7 calls for:
// summing instrSize across every instruction ahead of a Label to resolve
// it to a byte offset from the start of the file (header included),
// mirroring collect_labels exactly. Returns an empty map when instrs
// carries no Label ops, which is every program this translator emits
// today (branch lowering is reserved, never reached).
func collectLabelPositions(instrs []instr) map[string]uint32 {
	positions := make(map[string]uint32)
	pos := uint32(len(bytecodeMagic)) + 4
	for _, in := range instrs {
		if in.op == opLabel {
			positions[in.name] = pos
		}
		pos += instrSize(in)
	}
	return positions
}

// encode serializes instrs into the wire bytecode format: header, then
// each instruction's opcode tag and operand bytes in declaration order,
// all little-endian (encode_instructions/encode_instruction/encode_value).
func encode(instrs []instr) []byte {
	var buf bytes.Buffer
	buf.WriteString(bytecodeMagic)
	writeU32(&buf, bytecodeVersion)

	for _, in := range instrs {
		writeU16(&buf, uint16(in.op))
		switch in.op {
		case opPush:
			buf.WriteByte(byte(in.val.kind))
			writeValuePayload(&buf, in.val)
		case opPopToReg, opPushFromReg:
			writeU32(&buf, in.reg)
		case opAlloca:
			writeU64(&buf, in.size)
		case opStoreValue, opLoadValue, opMul, opRet:
			// no operand bytes
		case opCall:
			writeU64(&buf, in.nameHash)
			if in.isVoid {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
			writeU32(&buf, uint32(len(in.argRegs)))
			for _, r := range in.argRegs {
				writeU32(&buf, r)
			}
			writeU32(&buf, in.resultReg)
		case opAdd:
			var flags byte
			if in.nsw {
				flags |= 1
			}
			if in.nuw {
				flags |= 2
			}
			buf.WriteByte(flags)
			buf.WriteByte(0)
		case opJump, opJumpIf, opJumpIfNot:
			writeU64(&buf, nameHash(in.target))
		case opLabel:
			writeU64(&buf, nameHash(in.name))
		}
	}
	return buf.Bytes()
}

func writeValuePayload(buf *bytes.Buffer, v vmpValue) {
	switch v.kind {
	case vtUndef:
	case vtI1, vtI8:
		buf.WriteByte(byte(v.value))
	case vtI16:
		writeU16(buf, uint16(v.value))
	case vtI32:
		writeU32(buf, uint32(v.value))
	case vtI64, vtPtr:
		writeU64(buf, v.value)
	}
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
