package dvm

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/hashicorp/go-multierror"
)

// pageEmpty marks a cachePage slot as unused. Reusing SectorCountUnknown's
// all-ones bit pattern for this is deliberate: both sentinels mean "no
// sector lives here yet."
const pageEmpty = SectorCountUnknown

// cachePage is one slot of the sector cache: a run of sectorsPerPage
// sectors, plus a dirty range expressed in sectors-within-page
// (spec.md §3, "Cache page"). dirtyStart >= dirtyEnd means clean.
// prev/next link the page into the cache's MRU list by index rather than
// by pointer, so the whole cache is two slices plus a flat byte buffer —
// no per-page heap allocation (spec.md §9: "arena+index, not pointers").
type cachePage struct {
	baseSector SectorCount
	dirtyStart uint
	dirtyEnd   uint
	prev, next int
}

func (p *cachePage) isDirty() bool {
	return p.dirtyStart < p.dirtyEnd
}

// AlignmentPredicate decides whether a caller's buffer is suitable for the
// whole-page bypass fast path (spec.md §4.3, "Alignment predicate").
// Platforms with DMA constraints can supply a tighter one via
// WithAlignmentPredicate.
type AlignmentPredicate func(buffer []byte, isWrite bool) bool

// DefaultBufferAlign is the alignment DefaultIsAligned requires, matching
// the source's BUFFER_ALIGN for non-DMA targets.
const DefaultBufferAlign = 4

// DefaultIsAligned reports whether buffer's address is a multiple of
// DefaultBufferAlign. An empty buffer is trivially aligned.
func DefaultIsAligned(buffer []byte, isWrite bool) bool {
	if len(buffer) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&buffer[0]))%DefaultBufferAlign == 0
}

// CacheOption customizes a Cache built by NewCache.
type CacheOption func(*Cache)

// WithAlignmentPredicate overrides the predicate used to decide whether a
// buffer qualifies for the whole-page direct-access bypass.
func WithAlignmentPredicate(fn AlignmentPredicate) CacheOption {
	return func(c *Cache) { c.isAligned = fn }
}

// Cache is the write-back, LRU, page-granular sector cache (spec.md §4.3,
// component C3). It wraps another Disc and is itself one: FsDriver authors
// and the volume manager never need to know whether they're talking to a
// raw disc or one sitting behind a cache.
//
// A single mutex serializes every ReadSectors/WriteSectors/Flush/RemoveUser
// call; the cache exposes no internal concurrency of its own (spec.md
// §4.3, "Concurrency").
type Cache struct {
	discBase

	mu             sync.Mutex
	inner          Disc
	sectorsPerPage uint
	pageBytes      uint
	pages          []cachePage
	buffer         []byte
	head, tail     int
	isAligned      AlignmentPredicate
}

// NewCache wraps inner in a sector cache of cachePages pages, each
// sectorsPerPage sectors wide. If cachePages is zero, or sectorsPerPage is
// zero or not a power of two, construction degrades non-fatally: inner is
// returned unwrapped (spec.md §4.3, "Geometry").
func NewCache(inner Disc, cachePages uint, sectorsPerPage uint, opts ...CacheOption) Disc {
	if cachePages == 0 || sectorsPerPage == 0 || sectorsPerPage&(sectorsPerPage-1) != 0 {
		return inner
	}

	pageBytes := sectorsPerPage * inner.SectorSize()
	pages := make([]cachePage, cachePages)
	for i := range pages {
		pages[i] = cachePage{baseSector: pageEmpty, prev: i - 1, next: i + 1}
	}
	pages[0].prev = -1
	pages[len(pages)-1].next = -1

	cache := &Cache{
		inner:          inner,
		sectorsPerPage: sectorsPerPage,
		pageBytes:      pageBytes,
		pages:          pages,
		buffer:         make([]byte, pageBytes*cachePages),
		head:           0,
		tail:           len(pages) - 1,
		isAligned:      DefaultIsAligned,
	}
	for _, opt := range opts {
		opt(cache)
	}
	cache.discBase = newDiscBase(
		inner.IOType(), inner.Features(), inner.SectorSize(), inner.NumSectors(), cache.destroy,
	)
	return cache
}

func (c *Cache) pageSlice(idx int) []byte {
	start := idx * int(c.pageBytes)
	return c.buffer[start : start+int(c.pageBytes)]
}

// moveToFront splices page idx to the head of the MRU list. No-op if it's
// already there.
func (c *Cache) moveToFront(idx int) {
	if c.head == idx {
		return
	}
	p := &c.pages[idx]
	if p.prev != -1 {
		c.pages[p.prev].next = p.next
	} else {
		c.head = p.next
	}
	if p.next != -1 {
		c.pages[p.next].prev = p.prev
	} else {
		c.tail = p.prev
	}

	p.prev = -1
	p.next = c.head
	if c.head != -1 {
		c.pages[c.head].prev = idx
	}
	c.head = idx
	if c.tail == -1 {
		c.tail = idx
	}
}

// pickVictim returns the eviction candidate: the tail of the MRU list,
// stepped backward while both it and its predecessor are EMPTY. The result
// is the last resident page if the list is full, otherwise the first EMPTY
// slot of the EMPTY tail run (the cache hasn't warmed up yet — spec.md §9,
// Open Question 2). Filling that first EMPTY slot keeps invariant I2 (EMPTY
// entries form a contiguous tail) even when the access is a whole-page one
// that leaves the slot where it is in the list.
func (c *Cache) pickVictim() int {
	idx := c.tail
	for c.pages[idx].baseSector == pageEmpty {
		prev := c.pages[idx].prev
		if prev == -1 || c.pages[prev].baseSector != pageEmpty {
			break
		}
		idx = prev
	}
	return idx
}

// search looks for pageBase among resident pages, walking MRU order. It
// stops at the first EMPTY entry it sees, since invariant I2 guarantees
// nothing past that point is resident either. While walking, it tracks
// the smallest resident base_sector strictly greater than pageBase, used
// to bound how far a whole-page bypass may coalesce.
func (c *Cache) search(pageBase SectorCount) (idx int, found bool, bound SectorCount, boundFound bool) {
	for i := c.head; i != -1; i = c.pages[i].next {
		p := &c.pages[i]
		if p.baseSector == pageEmpty {
			break
		}
		if p.baseSector == pageBase {
			return i, true, 0, false
		}
		if p.baseSector > pageBase && (!boundFound || p.baseSector < bound) {
			bound = p.baseSector
			boundFound = true
		}
	}
	return 0, false, bound, boundFound
}

// flushEntry writes out page idx's dirty range, if any, and clears it.
func (c *Cache) flushEntry(idx int) error {
	p := &c.pages[idx]
	if p.baseSector == pageEmpty || !p.isDirty() {
		return nil
	}

	sectorBytes := c.SectorSize()
	page := c.pageSlice(idx)
	dirtyBytes := page[uint64(p.dirtyStart)*uint64(sectorBytes) : uint64(p.dirtyEnd)*uint64(sectorBytes)]
	absSector := p.baseSector + SectorCount(p.dirtyStart)
	count := SectorCount(p.dirtyEnd - p.dirtyStart)

	if err := c.inner.WriteSectors(dirtyBytes, absSector, count); err != nil {
		return fmt.Errorf("dvm: flushing page at sector %d: %w", p.baseSector, err)
	}
	p.dirtyStart, p.dirtyEnd = 0, 0
	return nil
}

// flushAllLocked walks the list in MRU order and flushes every dirty
// entry, stopping at the first EMPTY one. Per-entry failures are
// aggregated rather than aborting the walk (spec.md §9, Open Question 1:
// best-effort, not fail-fast).
func (c *Cache) flushAllLocked() error {
	var result *multierror.Error
	for i := c.head; i != -1; i = c.pages[i].next {
		if c.pages[i].baseSector == pageEmpty {
			break
		}
		if err := c.flushEntry(i); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Flush writes every dirty page back to the inner disc (spec.md §4.3,
// "Flush").
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushAllLocked()
}

func (c *Cache) destroy() error {
	c.mu.Lock()
	err := c.flushAllLocked()
	c.mu.Unlock()

	if removeErr := c.inner.RemoveUser(); removeErr != nil && err == nil {
		err = removeErr
	}
	c.buffer = nil
	c.pages = nil
	return err
}

// ResolveUnknownSize resolves the inner disc's size and mirrors it onto
// the cache's own view, so NumSectors() is consistent on both sides of
// the wrap (spec.md §4.4 disc-size resolution; §9 Open Question 3).
func (c *Cache) ResolveUnknownSize(total SectorCount) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.inner.ResolveUnknownSize(total); err != nil {
		return err
	}
	return c.discBase.ResolveUnknownSize(total)
}

func alignDown(v SectorCount, align uint) SectorCount {
	a := SectorCount(align)
	return (v / a) * a
}

// evictAndLoad prepares page idx to hold newBase: flushing whatever it
// held, then (if needed) fetching the new page's contents from the inner
// disc, truncated at disc end if newBase+sectorsPerPage would run past
// it. A load failure marks the entry EMPTY again (spec.md §7,
// InnerIoFailure: "victim entry marked EMPTY on load failure").
func (c *Cache) evictAndLoad(idx int, newBase SectorCount, needsFullLoad bool) error {
	if err := c.flushEntry(idx); err != nil {
		return err
	}

	p := &c.pages[idx]
	p.baseSector = newBase
	p.dirtyStart, p.dirtyEnd = 0, 0

	if needsFullLoad {
		count := SectorCount(c.sectorsPerPage)
		if total := c.NumSectors(); total != SectorCountUnknown && uint64(newBase)+uint64(count) > uint64(total) {
			count = total - newBase
		}
		page := c.pageSlice(idx)
		loadInto := page[:uint64(count)*uint64(c.SectorSize())]
		if err := c.inner.ReadSectors(loadInto, newBase, count); err != nil {
			p.baseSector = pageEmpty
			return fmt.Errorf("dvm: loading page at sector %d: %w", newBase, err)
		}
	}
	return nil
}

// applyHit copies between the user buffer and a resident page, widening
// the dirty range on write, and promotes the page to MRU unless the
// access covered the whole page (spec.md §4.3, "Cache hit").
func (c *Cache) applyHit(idx int, offsetInPage uint, segLenSectors uint, userBuf []byte, isWrite bool, isWholePage bool) {
	sectorBytes := c.SectorSize()
	page := c.pageSlice(idx)
	byteOff := uint64(offsetInPage) * uint64(sectorBytes)
	byteLen := uint64(segLenSectors) * uint64(sectorBytes)
	region := page[byteOff : byteOff+byteLen]

	if isWrite {
		copy(region, userBuf)
		p := &c.pages[idx]
		newStart, newEnd := offsetInPage, offsetInPage+segLenSectors
		if !p.isDirty() {
			p.dirtyStart, p.dirtyEnd = newStart, newEnd
		} else {
			if newStart < p.dirtyStart {
				p.dirtyStart = newStart
			}
			if newEnd > p.dirtyEnd {
				p.dirtyEnd = newEnd
			}
		}
	} else {
		copy(userBuf, region)
	}

	if !isWholePage {
		c.moveToFront(idx)
	}
}

// readWrite implements the read/write loop of spec.md §4.3 for both
// ReadSectors and WriteSectors.
func (c *Cache) readWrite(buffer []byte, first SectorCount, count SectorCount, isWrite bool) error {
	if isWrite && !c.Features().Has(FeatureCanWrite) {
		return fmt.Errorf("dvm: disc is not writable")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := checkBounds(c.NumSectors(), first, count); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	sectorBytes := uint64(c.SectorSize())
	aligned := c.isAligned(buffer, isWrite)

	cur := first
	remaining := count
	var bufOff uint64

	for remaining > 0 {
		pageBase := alignDown(cur, c.sectorsPerPage)
		offsetInPage := uint(cur - pageBase)
		sectorsLeftInPage := c.sectorsPerPage - offsetInPage
		segLen := uint(remaining)
		if segLen > sectorsLeftInPage {
			segLen = sectorsLeftInPage
		}
		isWholeSegment := offsetInPage == 0 && segLen == c.sectorsPerPage

		idx, found, bound, boundFound := c.search(pageBase)

		if !found && isWholeSegment && aligned {
			// Case 7: whole-page aligned miss. Bypass the cache and
			// coalesce across as many contiguous, non-resident whole
			// pages as possible in one inner I/O call.
			spanEnd := pageBase + SectorCount(c.sectorsPerPage)
			maxEnd := first + count
			if discEnd := c.NumSectors(); discEnd != SectorCountUnknown && discEnd < maxEnd {
				maxEnd = discEnd
			}
			if boundFound && bound < maxEnd {
				maxEnd = bound
			}
			for spanEnd+SectorCount(c.sectorsPerPage) <= maxEnd {
				if _, found2, _, _ := c.search(spanEnd); found2 {
					break
				}
				spanEnd += SectorCount(c.sectorsPerPage)
			}

			spanSectors := spanEnd - cur
			spanBytes := uint64(spanSectors) * sectorBytes
			sub := buffer[bufOff : bufOff+spanBytes]

			var err error
			if isWrite {
				err = c.inner.WriteSectors(sub, cur, spanSectors)
			} else {
				err = c.inner.ReadSectors(sub, cur, spanSectors)
			}
			if err != nil {
				return err
			}

			cur = spanEnd
			bufOff += spanBytes
			remaining -= spanSectors
			continue
		}

		if !found {
			idx = c.pickVictim()
			needsFullLoad := !isWrite || !isWholeSegment
			if err := c.evictAndLoad(idx, pageBase, needsFullLoad); err != nil {
				return err
			}
		}

		segBytes := uint64(segLen) * sectorBytes
		userSlice := buffer[bufOff : bufOff+segBytes]
		c.applyHit(idx, offsetInPage, segLen, userSlice, isWrite, isWholeSegment)

		cur += SectorCount(segLen)
		bufOff += segBytes
		remaining -= SectorCount(segLen)
	}

	return nil
}

// ReadSectors implements Disc.
func (c *Cache) ReadSectors(buffer []byte, first SectorCount, count SectorCount) error {
	return c.readWrite(buffer, first, count, false)
}

// WriteSectors implements Disc.
func (c *Cache) WriteSectors(buffer []byte, first SectorCount, count SectorCount) error {
	return c.readWrite(buffer, first, count, true)
}
