package resource

import (
	"errors"
	"sync"
	"testing"

	"github.com/wippyai/composition/engine"
)

type dropCounter struct{ drops int }

func (d *dropCounter) Drop() { d.drops++ }

func TestTable_Basic(t *testing.T) {
	tbl := NewTable()

	h, err := tbl.Create(engine.TypeSolidColorBrush, "brush")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if h.IsNull() {
		t.Fatal("Expected non-null handle")
	}

	val, typ, ok := tbl.Get(h)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "brush" || typ != engine.TypeSolidColorBrush {
		t.Fatalf("Get = (%v, %v), want (brush, solid_color_brush)", val, typ)
	}

	rc, ok := tbl.RefCount(h)
	if !ok || rc != 1 {
		t.Fatalf("RefCount = %d, %v; want 1, true", rc, ok)
	}

	dropped, err := tbl.Release(h)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !dropped {
		t.Fatal("Expected single release to drop")
	}

	if _, _, ok := tbl.Get(h); ok {
		t.Fatal("Expected Get to fail after drop")
	}
}

func TestTable_AddRefRelease(t *testing.T) {
	tbl := NewTable()
	h, _ := tbl.Create(engine.TypeVisual, nil)

	for i := 2; i <= 4; i++ {
		rc, err := tbl.AddRef(h, engine.TypeVisual)
		if err != nil {
			t.Fatalf("AddRef %d failed: %v", i, err)
		}
		if rc != uint32(i) {
			t.Fatalf("AddRef returned %d, want %d", rc, i)
		}
	}

	for i := 0; i < 3; i++ {
		dropped, err := tbl.Release(h)
		if err != nil {
			t.Fatalf("Release %d failed: %v", i, err)
		}
		if dropped {
			t.Fatalf("Release %d dropped too early", i)
		}
	}

	dropped, _ := tbl.Release(h)
	if !dropped {
		t.Fatal("Final release should drop")
	}

	// Over-release is reported, not silently accepted
	if _, err := tbl.Release(h); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("Expected ErrInvalidHandle on over-release, got %v", err)
	}
}

func TestTable_TypeMismatch(t *testing.T) {
	tbl := NewTable()
	h, _ := tbl.Create(engine.TypeCamera, nil)

	if _, err := tbl.AddRef(h, engine.TypeVisual); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("Expected ErrTypeMismatch, got %v", err)
	}
	if _, err := tbl.AddRef(h, engine.TypeNull); err != nil {
		t.Fatalf("TypeNull should skip the type check: %v", err)
	}
}

func TestTable_HandleReuse(t *testing.T) {
	tbl := NewTable()

	h1, _ := tbl.Create(engine.TypeVisual, 1)
	h2, _ := tbl.Create(engine.TypeVisual, 2)
	h3, _ := tbl.Create(engine.TypeVisual, 3)

	tbl.Release(h2)
	tbl.Release(h1)

	h4, _ := tbl.Create(engine.TypeVisual, 4)
	h5, _ := tbl.Create(engine.TypeVisual, 5)

	if h4 != h1 || h5 != h2 {
		t.Fatalf("Expected LIFO slot reuse, got h4=%d h5=%d", h4, h5)
	}
	if _, _, ok := tbl.Get(h3); !ok {
		t.Fatal("h3 should still be valid")
	}
	if v, _, _ := tbl.Get(h4); v != 4 {
		t.Fatalf("h4 value = %v, want 4", v)
	}
}

func TestTable_Dropper(t *testing.T) {
	tbl := NewTable()
	d := &dropCounter{}

	h, _ := tbl.Create(engine.TypeDrawingImage, d)
	tbl.AddRef(h, engine.TypeNull)
	tbl.Release(h)
	if d.drops != 0 {
		t.Fatal("Drop called before last release")
	}
	tbl.Release(h)
	if d.drops != 1 {
		t.Fatalf("Drop called %d times, want 1", d.drops)
	}
}

func TestTable_Observer(t *testing.T) {
	tbl := NewTable()
	var kinds []EventType
	tbl.Subscribe(ObserverFunc(func(e Event) { kinds = append(kinds, e.Kind) }))

	h, _ := tbl.Create(engine.TypeVisual, nil)
	tbl.AddRef(h, engine.TypeVisual)
	tbl.Release(h)
	tbl.Release(h)

	want := []EventType{EventCreated, EventAddRef, EventReleased, EventDropped}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestTable_Close(t *testing.T) {
	tbl := NewTable()
	d := &dropCounter{}

	tbl.Create(engine.TypeVisual, d)
	h, _ := tbl.Create(engine.TypeVisual, nil)
	tbl.AddRef(h, engine.TypeVisual)

	if leaked := tbl.Close(); leaked != 2 {
		t.Fatalf("Close reported %d live handles, want 2", leaked)
	}
	if d.drops != 1 {
		t.Fatal("Close should drop live values")
	}
	if leaked := tbl.Close(); leaked != 0 {
		t.Fatal("second Close should be a no-op")
	}

	if _, err := tbl.Create(engine.TypeVisual, nil); !errors.Is(err, ErrClosed) {
		t.Fatal("Expected ErrClosed after Close")
	}
	if _, err := tbl.Release(h); !errors.Is(err, ErrClosed) {
		t.Fatal("Expected ErrClosed from Release after Close")
	}
}

func TestTable_InvalidHandle(t *testing.T) {
	tbl := NewTable()

	if _, _, ok := tbl.Get(engine.NullHandle); ok {
		t.Fatal("Null handle should be invalid")
	}
	if _, err := tbl.AddRef(engine.NullHandle, engine.TypeNull); !errors.Is(err, ErrInvalidHandle) {
		t.Fatal("Null handle should fail AddRef")
	}
	if _, ok := tbl.RefCount(999); ok {
		t.Fatal("Non-existent handle should be invalid")
	}
}

func TestTable_LenEach(t *testing.T) {
	tbl := NewTable()
	h1, _ := tbl.Create(engine.TypeVisual, "a")
	tbl.Create(engine.TypeCamera, "b")
	tbl.Create(engine.TypeVisual, "c")

	if tbl.Len() != 3 {
		t.Fatalf("Len = %d, want 3", tbl.Len())
	}
	tbl.Release(h1)
	if tbl.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tbl.Len())
	}

	count := 0
	tbl.Each(func(h engine.ResourceHandle, typ engine.ResourceType, rc uint32) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("Each should stop early, visited %d", count)
	}
}

func TestTable_Concurrent(t *testing.T) {
	tbl := NewTable()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			h, _ := tbl.Create(engine.TypeVisual, id)
			tbl.AddRef(h, engine.TypeVisual)
			tbl.Release(h)
			tbl.Release(h)
		}(i)
	}

	wg.Wait()
	if tbl.Len() != 0 {
		t.Fatalf("Len = %d after balanced ops, want 0", tbl.Len())
	}
}
