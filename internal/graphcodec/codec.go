// Package graphcodec implements the deterministic binary (de)serialization
// of a GraphProgram described in spec.md §4.3: a placeholder manifest
// followed by a linearized post-order node table and a trailer carrying
// the root index and a CRC32 checksum over the whole payload.
package graphcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/splitup/compute-service/internal/dtype"
	"github.com/splitup/compute-service/internal/graphir"
)

const (
	magic          = "GP01"
	formatVersion  = byte(1)
	tagBuffer byte = 1
	tagView   byte = 2
	tagOp     byte = 3
)

// Encode serializes program into the byte layout of spec.md §4.3.
// Traversal order is a fixed post-order DFS over the DAG rooted at
// program.Root, memoized by node identity so that a node reachable
// through more than one parent appears exactly once in the node table;
// the placeholder manifest is written in name order so that two
// GraphPrograms that are equal up to placeholder declaration order still
// encode to identical bytes.
func Encode(program *graphir.Program) ([]byte, error) {
	placeholders := append([]graphir.PlaceholderInfo(nil), program.Placeholders...)
	sort.Slice(placeholders, func(i, j int) bool { return placeholders[i].Name < placeholders[j].Name })
	placeholderIndex := make(map[string]int, len(placeholders))
	for i, p := range placeholders {
		placeholderIndex[p.Name] = i
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(formatVersion)

	writePlaceholders(&buf, placeholders)

	e := &encoder{
		indices: make(map[graphir.Node]uint64),
		phIndex: placeholderIndex,
	}
	var nodeBuf bytes.Buffer
	rootIdx, err := e.encodeNode(program.Root, &nodeBuf)
	if err != nil {
		return nil, err
	}

	writeVarint(&buf, uint64(len(e.order)))
	buf.Write(nodeBuf.Bytes())

	writeVarint(&buf, rootIdx)

	payload := buf.Bytes()
	checksum := crc32.ChecksumIEEE(payload)
	var out bytes.Buffer
	out.Write(payload)
	var checksumBytes [4]byte
	binary.LittleEndian.PutUint32(checksumBytes[:], checksum)
	out.Write(checksumBytes[:])
	return out.Bytes(), nil
}

func writePlaceholders(buf *bytes.Buffer, placeholders []graphir.PlaceholderInfo) {
	writeVarint(buf, uint64(len(placeholders)))
	for _, p := range placeholders {
		writeString(buf, p.Name)
		buf.WriteByte(p.DType.Code())
		writeVarint(buf, uint64(len(p.Shape)))
		for _, d := range p.Shape {
			writeVarint(buf, d)
		}
	}
}

// encoder assigns each distinct node a stable post-order index the first
// time it's visited and remembers it for reuse on later visits (DAG
// sharing), appending one node-table entry per newly discovered node.
type encoder struct {
	indices map[graphir.Node]uint64
	order   []uint64
	phIndex map[string]int
}

func (e *encoder) encodeNode(n graphir.Node, out *bytes.Buffer) (uint64, error) {
	if n == nil {
		return 0, fmt.Errorf("graphcodec: cannot encode a nil node")
	}
	if idx, ok := e.indices[n]; ok {
		return idx, nil
	}

	switch node := n.(type) {
	case *graphir.Buffer:
		idx := e.nextIndex()
		e.indices[n] = idx
		e.order = append(e.order, idx)
		out.WriteByte(tagBuffer)
		out.WriteByte(node.DType.Code())
		writeVarint(out, 0) // operand count
		writeVarint(out, node.Size)
		writeString(out, node.Device)
		if node.Placeholder != nil {
			out.WriteByte(1)
			phIdx, ok := e.phIndex[node.Placeholder.Name]
			if !ok {
				return 0, fmt.Errorf("graphcodec: buffer references placeholder %q absent from the manifest", node.Placeholder.Name)
			}
			writeVarint(out, uint64(phIdx))
		} else {
			out.WriteByte(0)
		}
		return idx, nil

	case *graphir.View:
		srcIdx, err := e.encodeNode(node.Source, out)
		if err != nil {
			return 0, err
		}
		idx := e.nextIndex()
		e.indices[n] = idx
		e.order = append(e.order, idx)
		out.WriteByte(tagView)
		out.WriteByte(node.DType.Code())
		writeVarint(out, 1)
		writeVarint(out, srcIdx)
		writeShapeTracker(out, node.ShapeTracker)
		return idx, nil

	case *graphir.Op:
		operandIdxs := make([]uint64, len(node.Sources))
		for i, src := range node.Sources {
			srcIdx, err := e.encodeNode(src, out)
			if err != nil {
				return 0, err
			}
			operandIdxs[i] = srcIdx
		}
		idx := e.nextIndex()
		e.indices[n] = idx
		e.order = append(e.order, idx)
		out.WriteByte(tagOp)
		out.WriteByte(node.DType.Code())
		writeVarint(out, uint64(len(operandIdxs)))
		for _, oi := range operandIdxs {
			writeVarint(out, oi)
		}
		out.WriteByte(node.Kind.Code())
		return idx, nil

	default:
		return 0, fmt.Errorf("graphcodec: unrecognized node type %T", n)
	}
}

func (e *encoder) nextIndex() uint64 {
	return uint64(len(e.order))
}

func writeShapeTracker(out *bytes.Buffer, st graphir.ShapeTracker) {
	writeVarint(out, uint64(len(st.Views)))
	for _, v := range st.Views {
		writeVarint(out, uint64(len(v.Shape)))
		for _, d := range v.Shape {
			writeVarint(out, d)
		}
		writeVarint(out, uint64(len(v.Strides)))
		for _, s := range v.Strides {
			writeZigzag(out, s)
		}
		writeZigzag(out, v.Offset)
		if v.Mask == nil {
			out.WriteByte(0)
		} else {
			out.WriteByte(1)
			writeVarint(out, uint64(len(v.Mask)))
			for _, m := range v.Mask {
				writeZigzag(out, m[0])
				writeZigzag(out, m[1])
			}
		}
	}
}

// Decode parses the byte layout produced by Encode back into a
// *graphir.Program, validating the magic, version, checksum, and
// placeholder/cycle invariants along the way.
func Decode(data []byte) (*graphir.Program, error) {
	if len(data) < 4 {
		return nil, newDecodeError(TruncatedPayload, "shorter than the magic prefix")
	}
	if string(data[:4]) != magic {
		return nil, newDecodeError(BadMagic, fmt.Sprintf("got %q", data[:4]))
	}
	if len(data) < 5 {
		return nil, newDecodeError(TruncatedPayload, "missing version byte")
	}
	if data[4] != formatVersion {
		return nil, newDecodeError(UnsupportedVersion, fmt.Sprintf("got version %d", data[4]))
	}
	if len(data) < 9 {
		return nil, newDecodeError(TruncatedPayload, "missing checksum trailer")
	}

	payload := data[:len(data)-4]
	wantChecksum := binary.LittleEndian.Uint32(data[len(data)-4:])
	gotChecksum := crc32.ChecksumIEEE(payload)
	if wantChecksum != gotChecksum {
		return nil, newDecodeError(ChecksumMismatch, fmt.Sprintf("want %08x got %08x", wantChecksum, gotChecksum))
	}

	r := &reader{data: payload, pos: 5}

	placeholderCount, err := r.varint()
	if err != nil {
		return nil, err
	}
	placeholders := make([]graphir.PlaceholderInfo, placeholderCount)
	for i := range placeholders {
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		dtCode, err := r.byte()
		if err != nil {
			return nil, err
		}
		dt, err := dtype.FromCode(dtCode)
		if err != nil {
			return nil, newDecodeError(UnknownDType, err.Error())
		}
		shapeLen, err := r.varint()
		if err != nil {
			return nil, err
		}
		shape := make([]uint64, shapeLen)
		for j := range shape {
			d, err := r.varint()
			if err != nil {
				return nil, err
			}
			shape[j] = d
		}
		placeholders[i] = graphir.PlaceholderInfo{Name: name, Shape: shape, DType: dt}
	}

	nodeCount, err := r.varint()
	if err != nil {
		return nil, err
	}
	nodes := make([]graphir.Node, nodeCount)
	for i := uint64(0); i < nodeCount; i++ {
		node, err := decodeNode(r, nodes, i, placeholders)
		if err != nil {
			return nil, err
		}
		nodes[i] = node
	}

	rootIdx, err := r.varint()
	if err != nil {
		return nil, err
	}
	if rootIdx >= nodeCount {
		return nil, newDecodeError(TruncatedPayload, "root index out of range")
	}

	program := &graphir.Program{Root: nodes[rootIdx], Placeholders: placeholders}
	if err := program.Validate(); err != nil {
		return nil, newDecodeError(PlaceholderMismatch, err.Error())
	}
	return program, nil
}

func decodeNode(r *reader, nodes []graphir.Node, idx uint64, placeholders []graphir.PlaceholderInfo) (graphir.Node, error) {
	tag, err := r.byte()
	if err != nil {
		return nil, err
	}
	dtCode, err := r.byte()
	if err != nil {
		return nil, err
	}
	dt, err := dtype.FromCode(dtCode)
	if err != nil {
		return nil, newDecodeError(UnknownDType, err.Error())
	}
	operandCount, err := r.varint()
	if err != nil {
		return nil, err
	}
	operands := make([]uint64, operandCount)
	for i := range operands {
		operands[i], err = r.varint()
		if err != nil {
			return nil, err
		}
		if operands[i] >= idx {
			// A post-order table never refers forward; any operand index
			// at or beyond the node currently being defined would imply a
			// cycle (or a reference to a node not yet fully decoded).
			return nil, newDecodeError(CycleDetected, fmt.Sprintf("node %d operand refers to index %d", idx, operands[i]))
		}
	}

	switch tag {
	case tagBuffer:
		size, err := r.varint()
		if err != nil {
			return nil, err
		}
		device, err := r.string()
		if err != nil {
			return nil, err
		}
		hasPlaceholder, err := r.byte()
		if err != nil {
			return nil, err
		}
		buf := &graphir.Buffer{ID: idx, Device: device, Size: size, DType: dt}
		if hasPlaceholder == 1 {
			phIdx, err := r.varint()
			if err != nil {
				return nil, err
			}
			if phIdx >= uint64(len(placeholders)) {
				return nil, newDecodeError(PlaceholderMismatch, fmt.Sprintf("buffer %d references placeholder index %d out of range", idx, phIdx))
			}
			info := placeholders[phIdx]
			buf.Placeholder = &info
		}
		return buf, nil

	case tagView:
		if len(operands) != 1 {
			return nil, newDecodeError(TruncatedPayload, "view node must have exactly one operand")
		}
		st, err := readShapeTracker(r)
		if err != nil {
			return nil, err
		}
		return &graphir.View{ID: idx, Source: nodes[operands[0]], ShapeTracker: st, DType: dt}, nil

	case tagOp:
		opCode, err := r.byte()
		if err != nil {
			return nil, err
		}
		kind, ok := graphir.OpKindFromCode(opCode)
		if !ok {
			return nil, newDecodeError(TruncatedPayload, fmt.Sprintf("unrecognized op code %d", opCode))
		}
		sources := make([]graphir.Node, len(operands))
		for i, opIdx := range operands {
			sources[i] = nodes[opIdx]
		}
		return &graphir.Op{ID: idx, Kind: kind, Sources: sources, DType: dt}, nil

	default:
		return nil, newDecodeError(TruncatedPayload, fmt.Sprintf("unrecognized node tag %d", tag))
	}
}

func readShapeTracker(r *reader) (graphir.ShapeTracker, error) {
	viewCount, err := r.varint()
	if err != nil {
		return graphir.ShapeTracker{}, err
	}
	views := make([]graphir.ShapeView, viewCount)
	for i := range views {
		shapeLen, err := r.varint()
		if err != nil {
			return graphir.ShapeTracker{}, err
		}
		shape := make([]uint64, shapeLen)
		for j := range shape {
			if shape[j], err = r.varint(); err != nil {
				return graphir.ShapeTracker{}, err
			}
		}
		strideLen, err := r.varint()
		if err != nil {
			return graphir.ShapeTracker{}, err
		}
		strides := make([]int64, strideLen)
		for j := range strides {
			if strides[j], err = r.zigzag(); err != nil {
				return graphir.ShapeTracker{}, err
			}
		}
		offset, err := r.zigzag()
		if err != nil {
			return graphir.ShapeTracker{}, err
		}
		hasMask, err := r.byte()
		if err != nil {
			return graphir.ShapeTracker{}, err
		}
		var mask [][2]int64
		if hasMask == 1 {
			maskLen, err := r.varint()
			if err != nil {
				return graphir.ShapeTracker{}, err
			}
			mask = make([][2]int64, maskLen)
			for j := range mask {
				lo, err := r.zigzag()
				if err != nil {
					return graphir.ShapeTracker{}, err
				}
				hi, err := r.zigzag()
				if err != nil {
					return graphir.ShapeTracker{}, err
				}
				mask[j] = [2]int64{lo, hi}
			}
		}
		views[i] = graphir.ShapeView{Shape: shape, Strides: strides, Offset: offset, Mask: mask}
	}
	return graphir.ShapeTracker{Views: views}, nil
}
