package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/maxBogovick/relmem/pkg/btree"
	"github.com/maxBogovick/relmem/pkg/types"
)

// Checkpoint file format constants.
const (
	CheckpointMagic   = 0x43484B50 // "CHKP"
	CheckpointVersion = 1
	NodeTypeInternal  = 0
	NodeTypeLeaf      = 1
)

// CheckpointHeader is the fixed-size header at the start of a checkpoint file.
type CheckpointHeader struct {
	Magic      uint32
	Version    uint8
	LastLSN    uint64
	TreeGrade  int32 // the B+Tree's T
	UniqueKey  bool
	CRC32      uint32 // reserved; currently left zero
	NumEntries uint64 // reserved; currently left zero
}

// SerializeBPlusTree serializes the whole tree to bytes.
func SerializeBPlusTree(tree *btree.BPlusTree, lastLSN uint64) ([]byte, error) {
	buf := new(bytes.Buffer)

	header := CheckpointHeader{
		Magic:     CheckpointMagic,
		Version:   CheckpointVersion,
		LastLSN:   lastLSN,
		TreeGrade: int32(tree.T),
		UniqueKey: tree.UniqueKey,
	}

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}

	// an index always has at least an empty leaf root; nil means the tree
	// was never initialized, which is a bug in the caller
	if tree.Root == nil {
		return nil, fmt.Errorf("tree root is nil")
	}

	if err := SerializeNode(buf, tree.Root); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// SerializeNode serializes one node and recurses into its children.
func SerializeNode(w io.Writer, node *btree.Node) error {
	node.RLock()
	defer node.RUnlock()

	// node header: [Type (1 byte)] [N (4 bytes)]
	var nodeType uint8 = NodeTypeInternal
	if node.Leaf {
		nodeType = NodeTypeLeaf
	}
	if err := binary.Write(w, binary.LittleEndian, nodeType); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(node.N)); err != nil {
		return err
	}

	// keys: the node only knows its keys as types.Comparable, so each one
	// is tagged with its own Kind (same approach the WAL payloads use)
	// rather than relying on the checkpoint header to carry a schema.
	for i := 0; i < node.N; i++ {
		keyBytes, err := serializeKey(node.Keys[i])
		if err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(keyBytes))); err != nil {
			return err
		}
		if _, err := w.Write(keyBytes); err != nil {
			return err
		}
	}

	if node.Leaf {
		// heap offsets, one per key
		for i := 0; i < node.N; i++ {
			if err := binary.Write(w, binary.LittleEndian, node.DataPtrs[i]); err != nil {
				return err
			}
		}
	} else {
		// internal node: N keys separate N+1 children
		for i := 0; i <= node.N; i++ {
			if err := SerializeNode(w, node.Children[i]); err != nil {
				return err
			}
		}
	}

	return nil
}

// DeserializeBPlusTree rebuilds a tree from a checkpoint's bytes.
func DeserializeBPlusTree(data []byte) (*btree.BPlusTree, uint64, error) {
	r := bytes.NewReader(data)

	var header CheckpointHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, 0, err
	}

	if header.Magic != CheckpointMagic {
		return nil, 0, fmt.Errorf("invalid checkpoint magic")
	}

	tree := btree.NewTree(int(header.TreeGrade)) // placeholder, replaced below
	tree.UniqueKey = header.UniqueKey

	root, err := DeserializeNode(r, int(header.TreeGrade))
	if err != nil {
		return nil, 0, err
	}
	tree.Root = root

	return tree, header.LastLSN, nil
}

func DeserializeNode(r io.Reader, t int) (*btree.Node, error) {
	var nodeType uint8
	if err := binary.Read(r, binary.LittleEndian, &nodeType); err != nil {
		return nil, err
	}

	var nVal int32
	if err := binary.Read(r, binary.LittleEndian, &nVal); err != nil {
		return nil, err
	}

	node := btree.NewNode(t, nodeType == NodeTypeLeaf)
	node.N = int(nVal)

	for i := 0; i < node.N; i++ {
		var kLen uint16
		if err := binary.Read(r, binary.LittleEndian, &kLen); err != nil {
			return nil, err
		}
		kBytes := make([]byte, kLen)
		if _, err := io.ReadFull(r, kBytes); err != nil {
			return nil, err
		}
		key, err := deserializeKey(kBytes)
		if err != nil {
			return nil, err
		}
		node.Keys = append(node.Keys, key)
	}

	if node.Leaf {
		for i := 0; i < node.N; i++ {
			var offset int64
			if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
				return nil, err
			}
			node.DataPtrs = append(node.DataPtrs, offset)
		}
	} else {
		for i := 0; i <= node.N; i++ {
			child, err := DeserializeNode(r, t)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
	}

	return node, nil
}

// serializeKey encodes a types.Value index key, tagged by its Kind so
// deserializeKey can reconstruct the right variant without schema access.
func serializeKey(key types.Comparable) ([]byte, error) {
	v, ok := key.(types.Value)
	if !ok {
		return nil, fmt.Errorf("unsupported key type in checkpoint: %T", key)
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(byte(v.Kind()))
	switch v.Kind() {
	case types.KindNull:
		// no payload
	case types.KindInteger:
		binary.Write(buf, binary.LittleEndian, v.Int())
	case types.KindFloat:
		binary.Write(buf, binary.LittleEndian, v.Float64())
	case types.KindText:
		str := v.Text()
		binary.Write(buf, binary.LittleEndian, uint16(len(str)))
		buf.WriteString(str)
	case types.KindBoolean:
		var b uint8
		if v.Bool() {
			b = 1
		}
		buf.WriteByte(b)
	default:
		return nil, fmt.Errorf("unsupported key kind in checkpoint: %v", v.Kind())
	}
	return buf.Bytes(), nil
}

func deserializeKey(data []byte) (types.Comparable, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty key data")
	}
	kind := types.Kind(data[0])
	r := bytes.NewReader(data[1:])

	switch kind {
	case types.KindNull:
		return types.Null, nil
	case types.KindInteger:
		var i int64
		if err := binary.Read(r, binary.LittleEndian, &i); err != nil {
			return nil, err
		}
		return types.Integer(i), nil
	case types.KindFloat:
		var f float64
		if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
			return nil, err
		}
		return types.Float(f), nil
	case types.KindText:
		var l uint16
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, err
		}
		b := make([]byte, l)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		return types.Text(string(b)), nil
	case types.KindBoolean:
		var b uint8
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return nil, err
		}
		return types.Boolean(b == 1), nil
	default:
		return nil, fmt.Errorf("unknown key kind tag: %d", kind)
	}
}
