package dvm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDisc is a minimal in-memory Disc double that records every
// ReadSectors/WriteSectors call it receives, so tests can assert on how
// many inner I/Os the cache actually issues, not just the end result.
type recordingDisc struct {
	discBase
	data       []byte
	readCalls  []ioCall
	writeCalls []ioCall
	failReads  bool
}

type ioCall struct {
	first SectorCount
	count SectorCount
}

func newRecordingDisc(sectorSize uint, totalSectors SectorCount) *recordingDisc {
	d := &recordingDisc{data: make([]byte, uint64(totalSectors)*uint64(sectorSize))}
	d.discBase = newDiscBase("mock", FeatureCanRead|FeatureCanWrite, sectorSize, totalSectors, nil)
	return d
}

func (d *recordingDisc) ReadSectors(buffer []byte, first, count SectorCount) error {
	d.readCalls = append(d.readCalls, ioCall{first, count})
	if d.failReads {
		return errors.New("dvm: mock read failure")
	}
	off := uint64(first) * uint64(d.SectorSize())
	n := uint64(count) * uint64(d.SectorSize())
	copy(buffer, d.data[off:off+n])
	return nil
}

func (d *recordingDisc) WriteSectors(buffer []byte, first, count SectorCount) error {
	d.writeCalls = append(d.writeCalls, ioCall{first, count})
	off := uint64(first) * uint64(d.SectorSize())
	n := uint64(count) * uint64(d.SectorSize())
	copy(d.data[off:off+n], buffer)
	return nil
}

func (d *recordingDisc) Flush() error { return nil }

func newCache(t *testing.T, inner Disc, pages, sectorsPerPage uint) *Cache {
	t.Helper()
	c, ok := NewCache(inner, pages, sectorsPerPage).(*Cache)
	require.True(t, ok, "NewCache degraded to the inner disc unexpectedly")
	return c
}

// residentPages returns the base sectors of every non-EMPTY page, in MRU
// order from head to tail.
func (c *Cache) residentPages() []SectorCount {
	var out []SectorCount
	for i := c.head; i != -1; i = c.pages[i].next {
		if c.pages[i].baseSector == pageEmpty {
			break
		}
		out = append(out, c.pages[i].baseSector)
	}
	return out
}

// writeSpan/readAt are byte-offset conveniences layered over the
// sector-granular Disc interface, used only by this test file to express
// the spec's byte-offset scenarios without hand-computing sector math at
// every call site.
func (c *Cache) writeSpan(data []byte, byteOffset uint64) error {
	sectorBytes := uint64(c.SectorSize())
	firstSector := byteOffset / sectorBytes
	lastByte := byteOffset + uint64(len(data))
	lastSector := (lastByte + sectorBytes - 1) / sectorBytes
	spanSectors := lastSector - firstSector

	span := make([]byte, spanSectors*sectorBytes)
	if err := c.ReadSectors(span, SectorCount(firstSector), SectorCount(spanSectors)); err != nil {
		return err
	}
	copy(span[byteOffset-firstSector*sectorBytes:], data)
	return c.WriteSectors(span, SectorCount(firstSector), SectorCount(spanSectors))
}

func (c *Cache) readAt(out []byte, byteOffset uint64) error {
	sectorBytes := uint64(c.SectorSize())
	firstSector := byteOffset / sectorBytes
	lastByte := byteOffset + uint64(len(out))
	lastSector := (lastByte + sectorBytes - 1) / sectorBytes
	spanSectors := lastSector - firstSector

	span := make([]byte, spanSectors*sectorBytes)
	if err := c.ReadSectors(span, SectorCount(firstSector), SectorCount(spanSectors)); err != nil {
		return err
	}
	copy(out, span[byteOffset-firstSector*sectorBytes:])
	return nil
}

// S3: partial write then overlapping read-back (spec.md §8). Both offsets
// fall inside the same page (sectorsPerPage=4, sectorSize=512 -> 2048-byte
// pages), so this also exercises a same-page read-modify-write.
func TestCache_PartialWriteThenReadBack(t *testing.T) {
	inner := newRecordingDisc(512, 64)
	c := newCache(t, inner, 2, 4)

	const writeOffset, readOffset = 1000, 900

	written := make([]byte, 100)
	for i := range written {
		written[i] = byte(i + 1)
	}
	require.NoError(t, c.writeSpan(written, writeOffset))

	readBack := make([]byte, 200)
	require.NoError(t, c.readAt(readBack, readOffset))

	// The write is fully contained within the read window, starting
	// writeOffset-readOffset bytes in.
	relStart := writeOffset - readOffset
	overlapInRead := readBack[relStart : relStart+len(written)]
	assert.Equal(t, written, overlapInRead)
}

// S4: whole-page aligned streaming write bypasses the cache entirely.
func TestCache_WholePageAlignedWriteBypassesCache(t *testing.T) {
	inner := newRecordingDisc(512, 256)
	c := newCache(t, inner, 4, 8)

	buf := make([]byte, 512*64)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, c.WriteSectors(buf, 0, 64))

	assert.Empty(t, c.residentPages(), "no page should become resident on a whole-page aligned bypass")
	require.Len(t, inner.writeCalls, 1, "the bypass should coalesce into a single inner write")
	assert.Equal(t, ioCall{0, 64}, inner.writeCalls[0])
}

// S5: eviction under pressure with two pages and sequential single-sector
// writes that each land on a different page (spec.md §8).
func TestCache_EvictionUnderPressure(t *testing.T) {
	inner := newRecordingDisc(512, 64)
	c := newCache(t, inner, 2, 8)

	one := make([]byte, 512)
	one[0] = 0xAA

	require.NoError(t, c.WriteSectors(one, 0, 1))
	require.NoError(t, c.WriteSectors(one, 8, 1))
	assert.Len(t, inner.writeCalls, 0, "first two writes should stay resident, dirty, unflushed")

	require.NoError(t, c.WriteSectors(one, 16, 1))

	assert.Len(t, inner.writeCalls, 1, "the third write's eviction should flush exactly one victim page")
	assert.Len(t, c.residentPages(), 2, "exactly two pages remain resident after the third write")
}

func TestCache_DegradesToInnerOnBadGeometry(t *testing.T) {
	inner := newRecordingDisc(512, 64)

	assert.Same(t, Disc(inner), NewCache(inner, 0, 8))
	assert.Same(t, Disc(inner), NewCache(inner, 4, 0))
	assert.Same(t, Disc(inner), NewCache(inner, 4, 3))
}

func TestCache_FlushWritesBackDirtyPages(t *testing.T) {
	inner := newRecordingDisc(512, 64)
	c := newCache(t, inner, 2, 4)

	one := make([]byte, 512)
	require.NoError(t, c.WriteSectors(one, 0, 1))
	assert.Empty(t, inner.writeCalls)

	require.NoError(t, c.Flush())
	assert.Len(t, inner.writeCalls, 1)
}

func TestCache_LoadFailureLeavesVictimEmpty(t *testing.T) {
	inner := newRecordingDisc(512, 64)
	c := newCache(t, inner, 2, 4)

	inner.failReads = true
	err := c.ReadSectors(make([]byte, 256), 0, 1)
	assert.Error(t, err)
	assert.Empty(t, c.residentPages(), "a failed load must leave the victim marked EMPTY, not half-loaded")
}
