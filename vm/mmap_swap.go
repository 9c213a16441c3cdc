package vm

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapSwap provides zero-copy swap slot access using a memory-mapped
// file. Same contract as FileSwap; slot payloads are written straight
// into the mapping and flushed with msync.
type MmapSwap struct {
	file        *os.File
	data        []byte // The mapping
	slotSize    uint32
	slots       uint32
	bitmap      []uint64
	free        uint32
	compression CompressionType
	mutex       sync.Mutex
}

// NewMmapSwap creates a swap file of slots fixed-size slots and maps it
func NewMmapSwap(path string, slots, pageSize uint32, compression CompressionType) (*MmapSwap, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open/create swap file %s: %w", path, err)
	}

	slotSize := uint32(swapSlotHeaderSize) + pageSize
	size := int64(slots) * int64(slotSize)
	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to size swap file: %w", err)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap swap file: %w", err)
	}

	words := (slots + 63) / 64
	return &MmapSwap{
		file:        file,
		data:        data,
		slotSize:    slotSize,
		slots:       slots,
		bitmap:      make([]uint64, words),
		free:        slots,
		compression: compression,
	}, nil
}

// WriteOut stores a page's contents in a free slot and returns the slot
// index
func (ms *MmapSwap) WriteOut(data []byte) (SwapSlot, error) {
	payload, err := CompressFrame(data, ms.compression)
	if err != nil {
		return 0, ErrSwapWrite("MmapSwap.WriteOut", err)
	}
	if uint32(len(payload)) > ms.slotSize {
		return 0, ErrSwapWrite("MmapSwap.WriteOut",
			fmt.Errorf("payload %d bytes exceeds slot size %d", len(payload), ms.slotSize))
	}

	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	slot, ok := ms.reserveSlot()
	if !ok {
		return 0, ErrSwapFull("MmapSwap.WriteOut")
	}

	offset := int64(slot) * int64(ms.slotSize)
	copy(ms.data[offset:], payload)

	if err := unix.Msync(ms.data, unix.MS_SYNC); err != nil {
		ms.releaseSlot(slot)
		return 0, ErrSwapWrite("MmapSwap.WriteOut", err)
	}

	return slot, nil
}

// ReadIn loads a slot's page contents into dst, which must be page-sized
func (ms *MmapSwap) ReadIn(slot SwapSlot, dst []byte) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if !ms.slotInUse(slot) {
		return ErrInvalidSwapSlot("MmapSwap.ReadIn", slot)
	}

	offset := int64(slot) * int64(ms.slotSize)
	data, err := DecompressFrame(ms.data[offset : offset+int64(ms.slotSize)])
	if err != nil {
		return ErrSwapRead("MmapSwap.ReadIn", err)
	}
	if len(data) != len(dst) {
		return ErrSwapRead("MmapSwap.ReadIn",
			fmt.Errorf("slot %d holds %d bytes, destination wants %d", slot, len(data), len(dst)))
	}

	copy(dst, data)
	return nil
}

// Discard releases a slot without reading it
func (ms *MmapSwap) Discard(slot SwapSlot) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if !ms.slotInUse(slot) {
		return ErrInvalidSwapSlot("MmapSwap.Discard", slot)
	}
	ms.releaseSlot(slot)
	return nil
}

// FreeSlots returns the number of unoccupied slots
func (ms *MmapSwap) FreeSlots() uint32 {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	return ms.free
}

// Close unmaps and closes the swap file
func (ms *MmapSwap) Close() error {
	if err := unix.Munmap(ms.data); err != nil {
		ms.file.Close()
		return fmt.Errorf("failed to unmap swap file: %w", err)
	}
	return ms.file.Close()
}

// reserveSlot finds and marks a free slot. Caller holds ms.mutex.
func (ms *MmapSwap) reserveSlot() (SwapSlot, bool) {
	if ms.free == 0 {
		return 0, false
	}
	for wordIdx, word := range ms.bitmap {
		if word == ^uint64(0) {
			continue
		}
		for bit := 0; bit < 64; bit++ {
			mask := uint64(1) << uint(bit)
			if word&mask != 0 {
				continue
			}
			slot := SwapSlot(wordIdx*64 + bit)
			if uint32(slot) >= ms.slots {
				break
			}
			ms.bitmap[wordIdx] |= mask
			ms.free--
			return slot, true
		}
	}
	return 0, false
}

// releaseSlot clears a slot's bit. Caller holds ms.mutex.
func (ms *MmapSwap) releaseSlot(slot SwapSlot) {
	ms.bitmap[slot/64] &^= uint64(1) << uint(slot%64)
	ms.free++
}

// slotInUse reports slot occupancy. Caller holds ms.mutex.
func (ms *MmapSwap) slotInUse(slot SwapSlot) bool {
	if uint32(slot) >= ms.slots {
		return false
	}
	return ms.bitmap[slot/64]&(uint64(1)<<uint(slot%64)) != 0
}
