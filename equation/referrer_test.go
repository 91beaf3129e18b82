package equation

import "testing"

func TestReferrersTransitive(t *testing.T) {
	a := NewReferrer()
	b := NewReferrer()
	c := NewReferrer()
	d := NewReferrer()

	// a -> b -> c, a -> d
	if err := a.AddReferrer(b, d); err != nil {
		t.Fatal(err)
	}
	if err := b.AddReferrer(c); err != nil {
		t.Fatal(err)
	}

	got := a.Referrers()
	if len(got) != 4 {
		t.Fatalf("got %d nodes, want 4", len(got))
	}
	want := []*Referrer{a, b, c, d}
	for i, node := range got {
		if node != want[i] {
			t.Fatalf("node %d: got id %d, want id %d", i, node.ID(), want[i].ID())
		}
	}
}

func TestReferrersSelfOnly(t *testing.T) {
	a := NewReferrer()
	got := a.Referrers()
	if len(got) != 1 || got[0] != a {
		t.Fatalf("got %v", got)
	}
}

func TestReferrersSharedNode(t *testing.T) {
	a := NewReferrer()
	b := NewReferrer()
	shared := NewReferrer()
	if err := a.AddReferrer(b, shared); err != nil {
		t.Fatal(err)
	}
	if err := b.AddReferrer(shared); err != nil {
		t.Fatal(err)
	}
	if got := a.Referrers(); len(got) != 3 {
		t.Fatalf("shared node counted twice: %d nodes", len(got))
	}
}

func TestAddReferrerAfterDrop(t *testing.T) {
	a := NewReferrer()
	a.MarkDropped()
	if err := a.AddReferrer(NewReferrer()); err == nil {
		t.Fatal("linking after drop must fail")
	}
}
