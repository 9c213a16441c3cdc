package vm

import (
	"sync"
)

// BitmapPool is the default PhysicalPool: a fixed arena of page-sized
// frames with a free bitmap. Acquire scans the bitmap a word at a time,
// skipping fully reserved words, so the common case touches a handful of
// words rather than every frame.
type BitmapPool struct {
	pageSize uint32
	frames   uint32
	arena    []byte   // frames * pageSize bytes of backing storage
	bitmap   []uint64 // Set bit = frame reserved
	free     uint32
	mutex    sync.Mutex
}

// NewBitmapPool creates a pool of frames page-sized frames
func NewBitmapPool(frames, pageSize uint32) *BitmapPool {
	words := (frames + 63) / 64
	return &BitmapPool{
		pageSize: pageSize,
		frames:   frames,
		arena:    make([]byte, uint64(frames)*uint64(pageSize)),
		bitmap:   make([]uint64, words),
		free:     frames,
	}
}

// Acquire reserves a free frame. Returns false when the pool is
// exhausted; exhaustion here is an expected condition, the caller falls
// back to eviction.
func (p *BitmapPool) Acquire() (FrameID, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.free == 0 {
		return 0, false
	}

	for wordIdx, word := range p.bitmap {
		if word == ^uint64(0) {
			continue // Word fully reserved
		}
		for bit := 0; bit < 64; bit++ {
			mask := uint64(1) << uint(bit)
			if word&mask != 0 {
				continue
			}
			frame := FrameID(wordIdx*64 + bit)
			if uint32(frame) >= p.frames {
				break
			}
			p.bitmap[wordIdx] |= mask
			p.free--
			return frame, true
		}
	}

	// free said there was a frame but the bitmap disagrees
	kernelPanic("BitmapPool.Acquire", "free count %d but no clear bit found", p.free)
	return 0, false
}

// Release returns a frame to the pool. Releasing a frame that is not
// reserved means the caller's bookkeeping has diverged from the pool's.
func (p *BitmapPool) Release(frame FrameID) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if uint32(frame) >= p.frames {
		kernelPanic("BitmapPool.Release", "frame %d out of range (pool has %d frames)", frame, p.frames)
	}

	wordIdx := frame / 64
	mask := uint64(1) << uint(frame%64)
	if p.bitmap[wordIdx]&mask == 0 {
		kernelPanic("BitmapPool.Release", "frame %d is not reserved", frame)
	}

	p.bitmap[wordIdx] &^= mask
	p.free++
}

// FrameData returns the payload slice for a frame. The slice aliases the
// arena; callers must hold the frame (pinned or under the allocator lock)
// while touching it.
func (p *BitmapPool) FrameData(frame FrameID) []byte {
	if uint32(frame) >= p.frames {
		kernelPanic("BitmapPool.FrameData", "frame %d out of range (pool has %d frames)", frame, p.frames)
	}
	start := uint64(frame) * uint64(p.pageSize)
	return p.arena[start : start+uint64(p.pageSize)]
}

// FreeFrames returns the number of unreserved frames
func (p *BitmapPool) FreeFrames() uint32 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.free
}

// Capacity returns the total number of frames in the pool
func (p *BitmapPool) Capacity() uint32 {
	return p.frames
}

// PageSize returns the frame size in bytes
func (p *BitmapPool) PageSize() uint32 {
	return p.pageSize
}
