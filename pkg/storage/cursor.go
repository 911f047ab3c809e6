package storage

import (
	"github.com/bobboyms/storage-engine/pkg/btree"
	"github.com/bobboyms/storage-engine/pkg/types"
)

// Cursor walks a B+Tree's leaf chain in key order.
type Cursor struct {
	tree         *btree.BPlusTree
	currentNode  *btree.Node
	currentIndex int
}

// Close drops the reference and releases the current node's lock.
func (c *Cursor) Close() {
	if c.currentNode != nil {
		c.currentNode.RUnlock()
		c.currentNode = nil
	}
}

// Key/Value return the data at the cursor's current position.
func (c *Cursor) Key() types.Comparable { return c.currentNode.Keys[c.currentIndex] }
func (c *Cursor) Value() int64          { return c.currentNode.DataPtrs[c.currentIndex] }
func (c *Cursor) Valid() bool           { return c.currentNode != nil && c.currentIndex < c.currentNode.N }

// Seek positions the cursor at key, or at the key immediately after it.
func (c *Cursor) Seek(key types.Comparable) {
	c.Close()

	// FindLeafLowerBound returns the node already R-locked (B+Tree latch
	// crabbing); we keep that lock held for the cursor's thread-safety.
	leaf, idx := c.tree.FindLeafLowerBound(key)

	if leaf == nil {
		c.currentNode = nil
		c.currentIndex = 0
		return
	}

	// If the index fell off the end of this leaf, hop to the next one.
	if idx >= leaf.N {
		// leaf.Next is only mutated under a split's lock, so reading it
		// while holding our RLock is safe.
		nextLeaf := leaf.Next

		if nextLeaf != nil {
			nextLeaf.RLock() // lock coupling
			leaf.RUnlock()   // release the previous leaf
			leaf = nextLeaf
			idx = 0
			// skip empty leaves
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
			// end of the chain
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

// Next advances to the next record.
func (c *Cursor) Next() bool {
	if c.currentNode == nil {
		return false
	}

	// advance within the current leaf
	if c.currentIndex+1 < c.currentNode.N {
		c.currentIndex++
		return true
	}

	// cross to the next leaf with latch coupling: read Next while still
	// holding the current lock, then acquire the next before releasing it
	nextLeaf := c.currentNode.Next

	if nextLeaf != nil {
		nextLeaf.RLock()
	}

	c.currentNode.RUnlock()
	c.currentNode = nextLeaf
	c.currentIndex = 0

	// skip empty leaves, locking as we go
	for c.currentNode != nil && c.currentNode.N == 0 {
		next := c.currentNode.Next
		if next != nil {
			next.RLock()
		}
		c.currentNode.RUnlock()
		c.currentNode = next
		c.currentIndex = 0
	}

	if c.currentNode != nil {

		return true
	}

	return false
}
