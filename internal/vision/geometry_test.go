package vision

import (
	"errors"
	"testing"
)

func square(cx, cy, half float64) []Point {
	return []Point{
		{cx - half, cy - half},
		{cx + half, cy - half},
		{cx + half, cy + half},
		{cx - half, cy + half},
	}
}

func TestCentroid(t *testing.T) {
	c := Centroid(square(40, 60, 10))
	if c.X != 40 || c.Y != 60 {
		t.Errorf("Centroid = %+v", c)
	}
	if c := Centroid(nil); c.X != 0 || c.Y != 0 {
		t.Errorf("empty centroid = %+v", c)
	}
}

func TestLocate(t *testing.T) {
	layout := Layout{1, 3, 0, 2}
	ids := []int{0, 7, 1, 2, 3, 1}
	corners := [][]Point{
		square(300, 250, 5), // 0 -> BR
		square(5, 5, 5),     // 7 ignored
		square(100, 50, 5),  // 1 -> TL
		square(100, 250, 5), // 2 -> BL
		square(300, 50, 5),  // 3 -> TR
		square(999, 999, 5), // duplicate 1 ignored
	}

	pts, missing := Locate(layout, ids, corners)
	if len(missing) != 0 {
		t.Fatalf("missing = %v", missing)
	}
	want := [4]Point{{100, 50}, {300, 50}, {300, 250}, {100, 250}}
	if pts != want {
		t.Errorf("Locate = %v, expected %v", pts, want)
	}
}

func TestLocate_Missing(t *testing.T) {
	_, missing := Locate(Layout{1, 3, 0, 2}, []int{1, 3, 0}, [][]Point{
		square(0, 0, 1), square(10, 0, 1), square(10, 10, 1),
	})
	if len(missing) != 1 || missing[0] != 2 {
		t.Errorf("missing = %v, expected [2]", missing)
	}

	_, missing = Locate(Layout{1, 3, 0, 2}, nil, nil)
	if len(missing) != 4 {
		t.Errorf("missing = %v, expected all four", missing)
	}
}

func TestPlanCrop(t *testing.T) {
	src := [4]Point{{100, 50}, {300, 50}, {300, 250}, {100, 250}}

	plan, err := PlanCrop(src, 10)
	if err != nil {
		t.Fatalf("PlanCrop failed: %v", err)
	}
	if plan.PadX != 20 || plan.PadY != 20 {
		t.Errorf("pad = %d,%d", plan.PadX, plan.PadY)
	}
	if plan.Width != 240 || plan.Height != 240 {
		t.Errorf("size = %dx%d", plan.Width, plan.Height)
	}
	want := [4]Point{{20, 20}, {220, 20}, {220, 220}, {20, 220}}
	if plan.Dest != want {
		t.Errorf("Dest = %v, expected %v", plan.Dest, want)
	}
}

func TestPlanCrop_MarginsSymmetric(t *testing.T) {
	src := [4]Point{{37, 11}, {437, 19}, {431, 311}, {41, 305}}

	plan, err := PlanCrop(src, 15)
	if err != nil {
		t.Fatalf("PlanCrop failed: %v", err)
	}
	left := plan.Dest[TopLeft].X
	top := plan.Dest[TopLeft].Y
	right := float64(plan.Width) - plan.Dest[BottomRight].X
	bottom := float64(plan.Height) - plan.Dest[BottomRight].Y
	if left != right || top != bottom {
		t.Errorf("margins left=%v right=%v top=%v bottom=%v", left, right, top, bottom)
	}
	if left != float64(plan.PadX) || top != float64(plan.PadY) {
		t.Errorf("margins %v,%v do not match pad %d,%d", left, top, plan.PadX, plan.PadY)
	}
}

func TestPlanCrop_Tilted(t *testing.T) {
	src := [4]Point{{110, 40}, {310, 60}, {290, 260}, {90, 240}}

	plan, err := PlanCrop(src, 0)
	if err != nil {
		t.Fatalf("PlanCrop failed: %v", err)
	}
	if plan.Width != 220 || plan.Height != 220 {
		t.Errorf("size = %dx%d", plan.Width, plan.Height)
	}
	if plan.PadX != 0 || plan.Dest[TopLeft] != (Point{0, 0}) {
		t.Errorf("zero padding plan = %+v", plan)
	}
}

func TestPlanCrop_Deterministic(t *testing.T) {
	src := [4]Point{{12.5, 7.25}, {401.75, 9}, {399, 311.5}, {10, 305}}
	a, _ := PlanCrop(src, 12.5)
	for i := 0; i < 10; i++ {
		b, _ := PlanCrop(src, 12.5)
		if a != b {
			t.Fatal("PlanCrop must be deterministic")
		}
	}
}

func TestPlanCrop_Degenerate(t *testing.T) {
	src := [4]Point{{50, 50}, {50, 50}, {50, 80}, {50, 80}}
	if _, err := PlanCrop(src, 10); !errors.Is(err, errDegenerate) {
		t.Errorf("expected errDegenerate, got %v", err)
	}
}
