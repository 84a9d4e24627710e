package uapi

import (
	"testing"
	"unsafe"
)

// Test structure sizes match kernel expectations
func TestStructSizes(t *testing.T) {
	tests := []struct {
		name     string
		size     uintptr
		expected int
	}{
		{"IOCB", unsafe.Sizeof(IOCB{}), 64},
		{"IOEvent", unsafe.Sizeof(IOEvent{}), 32},
		{"AIORing", unsafe.Sizeof(AIORing{}), 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if int(tt.size) != tt.expected {
				t.Errorf("%s size = %d, want %d", tt.name, tt.size, tt.expected)
			}
		})
	}
}

// Test field offsets the kernel depends on. io_event.data must alias
// iocb.aio_data, and the opcode/fd cluster must sit at bytes 16..24.
func TestIOCBOffsets(t *testing.T) {
	var cb IOCB

	if off := unsafe.Offsetof(cb.OpCode); off != 16 {
		t.Errorf("OpCode offset = %d, want 16", off)
	}
	if off := unsafe.Offsetof(cb.FD); off != 20 {
		t.Errorf("FD offset = %d, want 20", off)
	}
	if off := unsafe.Offsetof(cb.Buf); off != 24 {
		t.Errorf("Buf offset = %d, want 24", off)
	}
	if off := unsafe.Offsetof(cb.Offset); off != 40 {
		t.Errorf("Offset offset = %d, want 40", off)
	}
	if off := unsafe.Offsetof(cb.ResFD); off != 60 {
		t.Errorf("ResFD offset = %d, want 60", off)
	}
}
