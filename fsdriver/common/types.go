// Package common contains block-addressing building blocks shared by
// filesystem-driver implementations that satisfy the dvm.FsDriver contract:
// a sector-oriented stream, a cluster-grouping layer on top of it, and a
// first-fit bitmap allocator. None of this is specific to any one on-disk
// format; it's the kind of scaffolding most FsDriver authors end up writing
// by hand.
package common

// BlockID identifies a single logical block within a BlockStream.
type BlockID uint

// LogicalBlock identifies a block within a file system object's own address
// space, independent of where that object's data physically lives on disk.
type LogicalBlock uint

// PhysicalBlock identifies a block by its absolute position on the disc a
// driver was mounted against.
type PhysicalBlock uint
