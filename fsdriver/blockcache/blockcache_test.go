package blockcache_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	c "github.com/blockvol/dvm/fsdriver/common"
	"github.com/blockvol/dvm/fsdriver/blockcache"
)

func backingStore(totalBlocks, bytesPerBlock uint) ([]byte, blockcache.FetchBlockCallback, blockcache.FlushBlockCallback) {
	backing := make([]byte, totalBlocks*bytesPerBlock)
	fetch := func(index c.LogicalBlock, buffer []byte) error {
		offset := uint(index) * bytesPerBlock
		copy(buffer, backing[offset:offset+bytesPerBlock])
		return nil
	}
	flush := func(index c.LogicalBlock, buffer []byte) error {
		offset := uint(index) * bytesPerBlock
		copy(backing[offset:offset+bytesPerBlock], buffer)
		return nil
	}
	return backing, fetch, flush
}

func TestBlockCache_ReadWriteRoundTrip(t *testing.T) {
	backing, fetch, flush := backingStore(4, 16)
	cache := blockcache.New(16, 4, fetch, flush)

	payload := bytes.Repeat([]byte{0xAB}, 20)
	require.NoError(t, cache.Write(1, payload))

	readBack := make([]byte, len(payload))
	require.NoError(t, cache.Read(1, readBack))
	assert.Equal(t, payload, readBack)

	// Nothing has been flushed yet, so the backing store is still zeroed.
	assert.NotEqual(t, payload[:16], backing[16:32])

	require.NoError(t, cache.FlushAll())
	assert.Equal(t, payload[:16], backing[16:32])
}

func TestBlockCache_OutOfBoundsAccessFails(t *testing.T) {
	_, fetch, flush := backingStore(2, 16)
	cache := blockcache.New(16, 2, fetch, flush)

	buffer := make([]byte, 16)
	err := cache.Read(2, buffer)
	assert.Error(t, err)
}

func TestBlockCache_ExactlyFullRangeIsValid(t *testing.T) {
	_, fetch, flush := backingStore(2, 16)
	cache := blockcache.New(16, 2, fetch, flush)

	buffer := make([]byte, 32)
	assert.NoError(t, cache.Read(0, buffer))
}

func TestBlockCache_Resize(t *testing.T) {
	_, fetch, flush := backingStore(4, 16)
	cache := blockcache.New(16, 2, fetch, flush)
	cache.Resize(4)
	assert.EqualValues(t, 4, cache.TotalBlocks())

	buffer := make([]byte, 16)
	assert.NoError(t, cache.Read(3, buffer))
}

func TestBlockCache_LoadErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	cache := blockcache.New(16, 2, func(c.LogicalBlock, []byte) error {
		return boom
	}, func(c.LogicalBlock, []byte) error {
		return nil
	})

	buffer := make([]byte, 16)
	err := cache.Read(0, buffer)
	assert.ErrorContains(t, err, "boom")
}
