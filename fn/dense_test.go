package fn

import (
	"errors"
	"math"
	"testing"
)

func TestDenseArithmetic(t *testing.T) {
	x := NewDenseFromSlice([]float64{1, 2, 3})
	y := NewDenseFromSlice([]float64{4, 5, 6})

	if err := x.Axpy(2.0, y); err != nil {
		t.Fatal(err)
	}
	want := []float64{9, 12, 15}
	for i, v := range x.Values() {
		if v != want[i] {
			t.Fatalf("axpy: got %v, want %v", x.Values(), want)
		}
	}

	dot, err := x.Inner(y)
	if err != nil {
		t.Fatal(err)
	}
	if dot != 9*4+12*5+15*6 {
		t.Fatalf("inner: got %v", dot)
	}

	if err := x.Zero(); err != nil {
		t.Fatal(err)
	}
	for _, v := range x.Values() {
		if v != 0 {
			t.Fatalf("zero: got %v", x.Values())
		}
	}
}

func TestDenseAssignCopy(t *testing.T) {
	x := NewDenseFromSlice([]float64{1, 2})
	y := NewDense(2)
	if err := y.Assign(x); err != nil {
		t.Fatal(err)
	}
	c, err := x.Copy()
	if err != nil {
		t.Fatal(err)
	}
	cd := c.(*Dense)
	if cd.ID() == x.ID() {
		t.Fatal("copy must have a fresh identity")
	}
	x.Values()[0] = 100
	x.BumpState()
	if cd.Values()[0] != 1 || y.Values()[0] != 1 {
		t.Fatal("copy and assign must not share storage")
	}

	z := NewDense(3)
	if err := z.Assign(x); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("got %v, want ErrShapeMismatch", err)
	}
}

func TestDenseStateCounter(t *testing.T) {
	x := NewDenseFromSlice([]float64{1})
	y := NewDenseFromSlice([]float64{2})
	s := x.State()
	if err := x.Axpy(1, y); err != nil {
		t.Fatal(err)
	}
	if x.State() != s+1 {
		t.Fatalf("axpy must bump state: %d -> %d", s, x.State())
	}
	if err := x.Zero(); err != nil {
		t.Fatal(err)
	}
	if err := x.Assign(y); err != nil {
		t.Fatal(err)
	}
	if x.State() != s+3 {
		t.Fatalf("state: got %d, want %d", x.State(), s+3)
	}
	if y.State() != 0 {
		t.Fatalf("read-only operand state moved: %d", y.State())
	}
}

func TestDenseIdentityOrder(t *testing.T) {
	x := NewDense(1)
	y := NewDense(1)
	if y.ID() <= x.ID() {
		t.Fatalf("identities must be creation ordered: %d, %d", x.ID(), y.ID())
	}
}

func TestSpaceTypeRelative(t *testing.T) {
	cases := []struct {
		t, rel, want SpaceType
	}{
		{Primal, Primal, Primal},
		{Primal, ConjugateDual, ConjugateDual},
		{ConjugateDual, ConjugateDual, Primal},
		{Dual, Conjugate, ConjugateDual},
		{Conjugate, Dual, ConjugateDual},
		{Dual, Dual, Primal},
	}
	for _, c := range cases {
		if got := c.t.Relative(c.rel); got != c.want {
			t.Errorf("%s relative %s: got %s, want %s", c.t, c.rel, got, c.want)
		}
	}
}

func TestCheckSpaceType(t *testing.T) {
	x := NewDense(2)
	adj := NewDense(2, WithSpaceType(ConjugateDual))
	if err := CheckSpaceType(x, adj, ConjugateDual); err != nil {
		t.Fatal(err)
	}
	if err := CheckSpaceType(x, adj, Primal); !errors.Is(err, ErrSpaceType) {
		t.Fatalf("got %v, want ErrSpaceType", err)
	}
}

func TestNewLike(t *testing.T) {
	x := NewDenseFromSlice([]float64{1, 2, 3}, WithSpaceType(Dual))
	y := x.NewLike(ConjugateDual).(*Dense)
	if y.SpaceType() != Conjugate {
		t.Fatalf("got %s, want conjugate", y.SpaceType())
	}
	if y.Len() != 3 {
		t.Fatalf("got length %d", y.Len())
	}
	for _, v := range y.Values() {
		if v != 0 {
			t.Fatal("NewLike must be zero valued")
		}
	}
}

func TestAliasSharesIdentityAndStorage(t *testing.T) {
	x := NewDenseFromSlice([]float64{1, 2})
	a := NewAliasOf(x)
	if !a.Alias() || x.Alias() {
		t.Fatal("alias flag")
	}
	if a.ID() != x.ID() {
		t.Fatal("alias must share identity")
	}
	x.Values()[0] = 7
	x.BumpState()
	if a.Values()[0] != 7 {
		t.Fatal("alias must share storage")
	}
}

func TestReplacement(t *testing.T) {
	x := NewDenseFromSlice([]float64{1, 2})
	r := Replace(x)
	if r.ID() != x.ID() || r.SpaceType() != x.SpaceType() {
		t.Fatal("replacement must keep identity and space type")
	}
	if Replace(r) != r {
		t.Fatal("replacing a replacement must be a no-op")
	}
	if x.Replacement() != r {
		t.Fatal("replacement must be memoized")
	}
	if err := r.Zero(); !errors.Is(err, ErrReplacement) {
		t.Fatalf("got %v, want ErrReplacement", err)
	}
	if err := x.Axpy(1, r); !errors.Is(err, ErrReplacement) {
		t.Fatalf("got %v, want ErrReplacement", err)
	}
	if _, err := r.Inner(x); !errors.Is(err, ErrReplacement) {
		t.Fatalf("got %v, want ErrReplacement", err)
	}
}

func TestL2InnerIsFinite(t *testing.T) {
	x := NewDenseFromSlice([]float64{3, 4})
	v, err := x.Inner(x)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v-25) > 1e-15 {
		t.Fatalf("got %v, want 25", v)
	}
}
