package vm

import (
	"fmt"
	"os"
	"sync"
)

// SwapSlot identifies one slot in a swap store
type SwapSlot uint32

// SwapBackend is the full swap device contract: write-out for eviction,
// read-in for page faults, discard when a slot's owner goes away.
// FileSwap and MmapSwap both implement it.
type SwapBackend interface {
	WriteOut(data []byte) (SwapSlot, error)
	ReadIn(slot SwapSlot, dst []byte) error
	Discard(slot SwapSlot) error
	FreeSlots() uint32
	Close() error
}

// FileSwap is a slot-addressed swap store over a regular file. Each slot
// holds one framed page payload (see swap_compression.go); a bitmap
// tracks slot occupancy.
type FileSwap struct {
	file        *os.File
	slotSize    uint32 // Bytes reserved per slot on disk
	slots       uint32
	bitmap      []uint64 // Set bit = slot in use
	free        uint32
	compression CompressionType
	mutex       sync.Mutex
}

// NewFileSwap creates or truncates a swap file with the given slot count
func NewFileSwap(path string, slots, pageSize uint32, compression CompressionType) (*FileSwap, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open/create swap file %s: %w", path, err)
	}

	// Size the file up front so slot reads never run past EOF: compressed
	// payloads are shorter than the slot they occupy
	slotSize := swapSlotHeaderSize + pageSize
	if err := file.Truncate(int64(slots) * int64(slotSize)); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to size swap file %s: %w", path, err)
	}

	words := (slots + 63) / 64
	return &FileSwap{
		file:        file,
		slotSize:    slotSize,
		slots:       slots,
		bitmap:      make([]uint64, words),
		free:        slots,
		compression: compression,
	}, nil
}

// WriteOut stores a page's contents in a free slot and returns the slot
// index. A full swap store surfaces as ErrSwapFull, which propagates to
// the faulting caller as an ordinary allocation failure.
func (fs *FileSwap) WriteOut(data []byte) (SwapSlot, error) {
	payload, err := CompressFrame(data, fs.compression)
	if err != nil {
		return 0, ErrSwapWrite("FileSwap.WriteOut", err)
	}
	if uint32(len(payload)) > fs.slotSize {
		return 0, ErrSwapWrite("FileSwap.WriteOut",
			fmt.Errorf("payload %d bytes exceeds slot size %d", len(payload), fs.slotSize))
	}

	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	slot, ok := fs.reserveSlot()
	if !ok {
		return 0, ErrSwapFull("FileSwap.WriteOut")
	}

	offset := int64(slot) * int64(fs.slotSize)
	if _, err := fs.file.WriteAt(payload, offset); err != nil {
		fs.releaseSlot(slot)
		return 0, ErrSwapWrite("FileSwap.WriteOut", fmt.Errorf("failed to write slot %d: %w", slot, err))
	}

	if err := fs.file.Sync(); err != nil {
		fs.releaseSlot(slot)
		return 0, ErrSwapWrite("FileSwap.WriteOut", err)
	}

	return slot, nil
}

// ReadIn loads a slot's page contents into dst, which must be page-sized
func (fs *FileSwap) ReadIn(slot SwapSlot, dst []byte) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if !fs.slotInUse(slot) {
		return ErrInvalidSwapSlot("FileSwap.ReadIn", slot)
	}

	payload := make([]byte, fs.slotSize)
	offset := int64(slot) * int64(fs.slotSize)
	if _, err := fs.file.ReadAt(payload, offset); err != nil {
		return ErrSwapRead("FileSwap.ReadIn", fmt.Errorf("failed to read slot %d: %w", slot, err))
	}

	data, err := DecompressFrame(payload)
	if err != nil {
		return ErrSwapRead("FileSwap.ReadIn", err)
	}
	if len(data) != len(dst) {
		return ErrSwapRead("FileSwap.ReadIn",
			fmt.Errorf("slot %d holds %d bytes, destination wants %d", slot, len(data), len(dst)))
	}

	copy(dst, data)
	return nil
}

// Discard releases a slot without reading it, used when the owning page
// is dropped (process exit, explicit free)
func (fs *FileSwap) Discard(slot SwapSlot) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if !fs.slotInUse(slot) {
		return ErrInvalidSwapSlot("FileSwap.Discard", slot)
	}
	fs.releaseSlot(slot)
	return nil
}

// FreeSlots returns the number of unoccupied slots
func (fs *FileSwap) FreeSlots() uint32 {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	return fs.free
}

// Close closes the underlying swap file
func (fs *FileSwap) Close() error {
	return fs.file.Close()
}

// reserveSlot finds and marks a free slot. Caller holds fs.mutex.
func (fs *FileSwap) reserveSlot() (SwapSlot, bool) {
	if fs.free == 0 {
		return 0, false
	}
	for wordIdx, word := range fs.bitmap {
		if word == ^uint64(0) {
			continue
		}
		for bit := 0; bit < 64; bit++ {
			mask := uint64(1) << uint(bit)
			if word&mask != 0 {
				continue
			}
			slot := SwapSlot(wordIdx*64 + bit)
			if uint32(slot) >= fs.slots {
				break
			}
			fs.bitmap[wordIdx] |= mask
			fs.free--
			return slot, true
		}
	}
	return 0, false
}

// releaseSlot clears a slot's bit. Caller holds fs.mutex.
func (fs *FileSwap) releaseSlot(slot SwapSlot) {
	fs.bitmap[slot/64] &^= uint64(1) << uint(slot%64)
	fs.free++
}

// slotInUse reports slot occupancy. Caller holds fs.mutex.
func (fs *FileSwap) slotInUse(slot SwapSlot) bool {
	if uint32(slot) >= fs.slots {
		return false
	}
	return fs.bitmap[slot/64]&(uint64(1)<<uint(slot%64)) != 0
}
