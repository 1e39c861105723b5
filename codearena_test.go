package chipz

import "testing"

func TestNewCodeArenaRoundsSizeUpToPageSize(t *testing.T) {
	c, err := NewCodeArena(1)
	if err != nil {
		t.Fatalf("NewCodeArena: %v", err)
	}
	defer c.Close()
	if len(c.mem) != pageSize {
		t.Errorf("len(mem) = %d, want %d (one page)", len(c.mem), pageSize)
	}

	c2, err := NewCodeArena(pageSize + 1)
	if err != nil {
		t.Fatalf("NewCodeArena: %v", err)
	}
	defer c2.Close()
	if len(c2.mem) != 2*pageSize {
		t.Errorf("len(mem) = %d, want %d (two pages)", len(c2.mem), 2*pageSize)
	}
}

func TestWriteAdvancesCursorAndReturnsOffset(t *testing.T) {
	c, err := NewCodeArena(pageSize)
	if err != nil {
		t.Fatalf("NewCodeArena: %v", err)
	}
	defer c.Close()

	off1, err := c.Write([]byte{0x90, 0x90})
	if err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if off1 != 0 {
		t.Errorf("first offset = %d, want 0", off1)
	}

	off2, err := c.Write([]byte{0xC3})
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if off2 != 2 {
		t.Errorf("second offset = %d, want 2", off2)
	}
	if c.used != 3 {
		t.Errorf("used = %d, want 3", c.used)
	}
}

func TestWriteFailsWhenArenaExhausted(t *testing.T) {
	c, err := NewCodeArena(1) // rounds up to one page
	if err != nil {
		t.Fatalf("NewCodeArena: %v", err)
	}
	defer c.Close()

	if _, err := c.Write(make([]byte, pageSize+1)); err == nil {
		t.Fatal("Write: want error when requested size exceeds arena capacity")
	}
}

func TestWritePanicsOnFrozenArena(t *testing.T) {
	c, err := NewCodeArena(pageSize)
	if err != nil {
		t.Fatalf("NewCodeArena: %v", err)
	}
	defer c.Close()

	if err := c.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("Write on a frozen arena: want panic, got none")
		}
	}()
	c.Write([]byte{0x90})
}

func TestFreezeThawRoundTrip(t *testing.T) {
	c, err := NewCodeArena(pageSize)
	if err != nil {
		t.Fatalf("NewCodeArena: %v", err)
	}
	defer c.Close()

	if _, err := c.Write([]byte{0xC3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if !c.frozen {
		t.Error("frozen = false after Freeze, want true")
	}

	if err := c.Thaw(); err != nil {
		t.Fatalf("Thaw: %v", err)
	}
	if c.frozen {
		t.Error("frozen = true after Thaw, want false")
	}
	if _, err := c.Write([]byte{0x90}); err != nil {
		t.Errorf("Write after Thaw: %v", err)
	}
}

func TestBasePointerZeroForEmptyArena(t *testing.T) {
	var c CodeArena
	if got := c.BasePointer(); got != 0 {
		t.Errorf("BasePointer() = %#x, want 0 for an unmapped arena", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := NewCodeArena(pageSize)
	if err != nil {
		t.Fatalf("NewCodeArena: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}
