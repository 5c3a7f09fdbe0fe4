package storage

import (
	"github.com/maxBogovick/relmem/pkg/btree"
	"github.com/maxBogovick/relmem/pkg/types"
)

// Cursor walks one index's leaf chain in key order, the primitive a
// range-bounded table or index scan is built on.
type Cursor struct {
	tree         *btree.BPlusTree
	currentNode  *btree.Node
	currentIndex int
}

// Close drops the cursor's held leaf lock, if any.
func (c *Cursor) Close() {
	if c.currentNode != nil {
		c.currentNode.RUnlock()
		c.currentNode = nil
	}
}

func (c *Cursor) Key() types.Comparable { return c.currentNode.Keys[c.currentIndex] }
func (c *Cursor) Value() int64          { return c.currentNode.DataPtrs[c.currentIndex] }
func (c *Cursor) Valid() bool           { return c.currentNode != nil && c.currentIndex < c.currentNode.N }

// Seek positions the cursor at key, or at the first key greater than it.
func (c *Cursor) Seek(key types.Comparable) {
	c.Close()

	// FindLeafLowerBound returns the leaf RLocked (latch crabbing down the
	// tree); the cursor keeps holding that lock for a consistent read.
	leaf, idx := c.tree.FindLeafLowerBound(key)

	if leaf == nil {
		c.currentNode = nil
		c.currentIndex = 0
		return
	}

	if idx >= leaf.N {
		// landed past the last key in this leaf, so step to the next one
		// (leaf.Next is only ever mutated under a split's Lock, so reading
		// it while holding our RLock is safe)
		nextLeaf := leaf.Next

		if nextLeaf != nil {
			nextLeaf.RLock() // lock coupling: acquire before releasing
			leaf.RUnlock()
			leaf = nextLeaf
			idx = 0
			for leaf != nil && leaf.N == 0 {
				next := leaf.Next
				if next != nil {
					next.RLock()
				}
				leaf.RUnlock()
				leaf = next
				idx = 0
			}
		} else {
			leaf.RUnlock()
			c.currentNode = nil
			return
		}
	}

	if leaf == nil {
		c.currentNode = nil
		return
	}

	c.currentNode = leaf
	c.currentIndex = idx
}

// Next advances to the following entry, crossing into the next leaf (and
// skipping any leaf left empty by concurrent deletes) as needed.
func (c *Cursor) Next() bool {
	if c.currentNode == nil {
		return false
	}

	if c.currentIndex+1 < c.currentNode.N {
		c.currentIndex++
		return true
	}

	nextLeaf := c.currentNode.Next

	if nextLeaf != nil {
		nextLeaf.RLock() // acquire the next leaf's lock before releasing ours
	}

	c.currentNode.RUnlock()
	c.currentNode = nextLeaf
	c.currentIndex = 0

	for c.currentNode != nil && c.currentNode.N == 0 {
		next := c.currentNode.Next
		if next != nil {
			next.RLock()
		}
		c.currentNode.RUnlock()
		c.currentNode = next
		c.currentIndex = 0
	}

	return c.currentNode != nil
}
