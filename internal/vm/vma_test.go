package vm

import "testing"

func TestVmregionLookup(t *testing.T) {
	var r Vmregion_t
	r.Insert(&Vma_t{Start: 0x1000, End: 0x2000, Type: VMA_ANON})
	r.Insert(&Vma_t{Start: 0x5000, End: 0x6000, Type: VMA_ANON})

	if _, ok := r.Lookup(0x1500); !ok {
		t.Fatalf("expected a hit inside the first VMA")
	}
	if _, ok := r.Lookup(0x3000); ok {
		t.Fatalf("expected a miss in the gap between VMAs")
	}
	if v, ok := r.Lookup(0x5fff); !ok || v.Start != 0x5000 {
		t.Fatalf("expected a hit at the last byte of the second VMA")
	}
	if _, ok := r.Lookup(0x6000); ok {
		t.Fatalf("End is exclusive, 0x6000 must not be contained")
	}
}

func TestVmregionInsertMergesAdjacentCompatible(t *testing.T) {
	var r Vmregion_t
	r.Insert(&Vma_t{Start: 0x1000, End: 0x2000, Type: VMA_ANON, Prot: PROT_R | PROT_W})
	r.Insert(&Vma_t{Start: 0x2000, End: 0x3000, Type: VMA_ANON, Prot: PROT_R | PROT_W})
	all := r.All()
	if len(all) != 1 {
		t.Fatalf("adjacent compatible VMAs should merge into one, got %d", len(all))
	}
	if all[0].Start != 0x1000 || all[0].End != 0x3000 {
		t.Fatalf("merged VMA = [%#x,%#x), want [0x1000,0x3000)", all[0].Start, all[0].End)
	}
}

func TestVmregionInsertDoesNotMergeIncompatible(t *testing.T) {
	var r Vmregion_t
	r.Insert(&Vma_t{Start: 0x1000, End: 0x2000, Type: VMA_ANON, Prot: PROT_R})
	r.Insert(&Vma_t{Start: 0x2000, End: 0x3000, Type: VMA_ANON, Prot: PROT_R | PROT_W})
	if len(r.All()) != 2 {
		t.Fatalf("VMAs with different protection must not merge")
	}
}

func TestVmregionInsertOverlapPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic inserting an overlapping VMA")
		}
	}()
	var r Vmregion_t
	r.Insert(&Vma_t{Start: 0x1000, End: 0x3000})
	r.Insert(&Vma_t{Start: 0x2000, End: 0x4000})
}

func TestVmregionRemoveSplitsPartialOverlap(t *testing.T) {
	var r Vmregion_t
	r.Insert(&Vma_t{Start: 0x1000, End: 0x5000, Type: VMA_ANON})
	r.Remove(0x2000, 0x3000)
	all := r.All()
	if len(all) != 2 {
		t.Fatalf("removing a middle slice should leave two pieces, got %d", len(all))
	}
	if all[0].Start != 0x1000 || all[0].End != 0x2000 {
		t.Fatalf("left piece = [%#x,%#x)", all[0].Start, all[0].End)
	}
	if all[1].Start != 0x3000 || all[1].End != 0x5000 {
		t.Fatalf("right piece = [%#x,%#x)", all[1].Start, all[1].End)
	}
}

func TestVmregionRemoveFullyCoveredDrops(t *testing.T) {
	var r Vmregion_t
	r.Insert(&Vma_t{Start: 0x1000, End: 0x2000})
	r.Remove(0, 0x10000)
	if len(r.All()) != 0 {
		t.Fatalf("fully covered VMA should be dropped entirely")
	}
}

func TestVmregionFindGapFirstFit(t *testing.T) {
	var r Vmregion_t
	r.Insert(&Vma_t{Start: 0x1000, End: 0x2000})
	r.Insert(&Vma_t{Start: 0x4000, End: 0x5000})
	got, ok := r.FindGap(0x1000, 0x1000, 0)
	if !ok {
		t.Fatalf("expected to find a gap")
	}
	if got != 0x2000 {
		t.Fatalf("FindGap = %#x, want the gap right after the first VMA (0x2000)", got)
	}
}

func TestVmregionSplitAppliesMutateToMiddleOnly(t *testing.T) {
	var r Vmregion_t
	r.Insert(&Vma_t{Start: 0x1000, End: 0x4000, Prot: PROT_R | PROT_W})
	r.Split(0x2000, 0x3000, func(v *Vma_t) { v.Prot = PROT_R })
	all := r.All()
	if len(all) != 3 {
		t.Fatalf("splitting the middle of one VMA should yield three, got %d", len(all))
	}
	if all[0].Prot != PROT_R|PROT_W || all[2].Prot != PROT_R|PROT_W {
		t.Fatalf("untouched flanks should keep the original protection")
	}
	if all[1].Prot != PROT_R || all[1].Start != 0x2000 || all[1].End != 0x3000 {
		t.Fatalf("middle piece = %+v, want RO [0x2000,0x3000)", all[1])
	}
}
