package metadata

import "testing"

func TestEntriesSortedNoDuplicates(t *testing.T) {
	m := New()
	m.Add("zeta", "1")
	m.Add("alpha", "2")
	m.Add("alpha", "1")
	m.Add("alpha", "1") // duplicate add, must not appear twice

	entries := m.Entries()
	want := []Entry{
		{Key: "alpha", Value: "1"},
		{Key: "alpha", Value: "2"},
		{Key: "zeta", Value: "1"},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d: %v", len(entries), len(want), entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestEmptyValueSetEquivalentToNoEntry(t *testing.T) {
	m := New()
	m.Set("key", "a")
	m.Set("key")
	if len(m.Keys()) != 0 {
		t.Errorf("expected no keys after clearing values, got %v", m.Keys())
	}
	if m.Values("key") != nil {
		t.Errorf("expected nil values for cleared key")
	}
}

func TestFreezeIsIndependentSnapshot(t *testing.T) {
	m := New()
	m.Add("k", "v1")
	view := m.Freeze()
	m.Add("k", "v2")

	if len(view.Entries()) != 1 {
		t.Errorf("frozen view should not observe later mutation, got %v", view.Entries())
	}
}
