package dedup_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"dedup-go/internal/dedup"
	"dedup-go/internal/testutil"
)

func readAll(t *testing.T, v *dedup.Vault, fileID string) ([]byte, error) {
	t.Helper()
	r, err := v.Files.Open(t.Context(), fileID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func TestAssembler_FinalizeAndReconstruct(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.NewVault(t, testScope, "v1")
	ctx := t.Context()

	a := putBlock(t, v, "hello")
	b := putBlock(t, v, "world")

	file, err := v.Files.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// Out of order on purpose: layout is by offset.
	missing, err := v.Files.Assign(ctx, file, []dedup.Assignment{{BlockID: b, Offset: 5}, {BlockID: a, Offset: 0}})
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("Assign() missing = %v, want none", missing)
	}

	if err := v.Files.Finalize(ctx, file, 10); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	got, err := readAll(t, v, file)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if string(got) != "helloworld" {
		t.Errorf("file = %q, want %q", got, "helloworld")
	}

	rec, err := v.Files.Get(ctx, file)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !rec.Finalized || rec.Length != 10 {
		t.Errorf("Get() = %+v, want finalized with length 10", rec)
	}
}

func TestAssembler_FinalizeGapLeavesFileOpen(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.NewVault(t, testScope, "v1")
	ctx := t.Context()

	a := putBlock(t, v, "aaaaa")
	b := putBlock(t, v, "bbbbb")
	file, _ := v.Files.Create(ctx)
	v.Files.Assign(ctx, file, []dedup.Assignment{{BlockID: a, Offset: 0}, {BlockID: b, Offset: 7}})

	err := v.Files.Finalize(ctx, file, 12)
	var verr *dedup.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Finalize() error = %v, want *ValidationError", err)
	}
	if len(verr.Problems) != 1 {
		t.Fatalf("Problems = %+v, want one gap", verr.Problems)
	}
	p := verr.Problems[0]
	if p.Kind != dedup.RangeGap || p.Expected != 5 || p.Offset != 7 || p.BlockID != b {
		t.Errorf("problem = %+v, want gap from 5 to 7 before %s", p, b)
	}

	rec, _ := v.Files.Get(ctx, file)
	if rec.Finalized {
		t.Fatal("file finalized despite gap")
	}

	// Fill the gap, then retry.
	gap := putBlock(t, v, "gg")
	if _, err := v.Files.Assign(ctx, file, []dedup.Assignment{{BlockID: gap, Offset: 5}}); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if err := v.Files.Finalize(ctx, file, 12); err != nil {
		t.Fatalf("Finalize() after fix error = %v", err)
	}
	got, _ := readAll(t, v, file)
	if string(got) != "aaaaaggbbbbb" {
		t.Errorf("file = %q, want %q", got, "aaaaaggbbbbb")
	}
}

func TestAssembler_FinalizeOverlapAndMismatch(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.NewVault(t, testScope, "v1")
	ctx := t.Context()

	a := putBlock(t, v, "12345")
	b := putBlock(t, v, "67890")

	overlap, _ := v.Files.Create(ctx)
	v.Files.Assign(ctx, overlap, []dedup.Assignment{{BlockID: a, Offset: 0}, {BlockID: b, Offset: 3}})
	var verr *dedup.ValidationError
	if err := v.Files.Finalize(ctx, overlap, 8); !errors.As(err, &verr) || verr.Problems[0].Kind != dedup.RangeOverlap {
		t.Errorf("Finalize(overlap) error = %v, want overlap", err)
	}

	mismatch, _ := v.Files.Create(ctx)
	v.Files.Assign(ctx, mismatch, []dedup.Assignment{{BlockID: a, Offset: 0}, {BlockID: b, Offset: 5}})
	err := v.Files.Finalize(ctx, mismatch, 8)
	if !errors.As(err, &verr) {
		t.Fatalf("Finalize(mismatch) error = %v, want *ValidationError", err)
	}
	p := verr.Problems[0]
	if p.Kind != dedup.RangeLengthMismatch || p.Offset != 10 || p.Expected != 8 {
		t.Errorf("problem = %+v, want length mismatch 10 vs 8", p)
	}
}

func TestAssembler_MissingBlocks(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.NewVault(t, testScope, "v1")
	ctx := t.Context()

	known := putBlock(t, v, "known")
	lateID, late := testutil.Block("late")

	file, _ := v.Files.Create(ctx)
	missing, err := v.Files.Assign(ctx, file, []dedup.Assignment{
		{BlockID: known, Offset: 0},
		{BlockID: lateID, Offset: 5},
		{BlockID: lateID, Offset: 9},
	})
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if len(missing) != 1 || missing[0] != lateID {
		t.Errorf("missing = %v, want [%s]", missing, lateID)
	}

	var verr *dedup.ValidationError
	if err := v.Files.Finalize(ctx, file, 13); !errors.As(err, &verr) || verr.Problems[0].Kind != dedup.RangeMissingBlock {
		t.Fatalf("Finalize() error = %v, want missing block", err)
	}

	if _, err := v.Blocks.Put(ctx, lateID, late); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	blk, _ := v.Blocks.Head(ctx, lateID)
	if blk.RefCount != 2 {
		t.Errorf("late block RefCount = %d, want 2", blk.RefCount)
	}

	if err := v.Files.Finalize(ctx, file, 13); err != nil {
		t.Fatalf("Finalize() after upload error = %v", err)
	}
	got, _ := readAll(t, v, file)
	if string(got) != "knownlatelate" {
		t.Errorf("file = %q, want %q", got, "knownlatelate")
	}
}

func TestAssembler_RefCountTracksAssignments(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.NewVault(t, testScope, "v1")
	ctx := t.Context()

	id := putBlock(t, v, "x")
	one, _ := v.Files.Create(ctx)
	two, _ := v.Files.Create(ctx)

	v.Files.Assign(ctx, one, []dedup.Assignment{{BlockID: id, Offset: 0}, {BlockID: id, Offset: 1}, {BlockID: id, Offset: 2}})
	v.Files.Assign(ctx, two, []dedup.Assignment{{BlockID: id, Offset: 0}})

	refs := func() int64 {
		blk, err := v.Blocks.Head(ctx, id)
		if err != nil {
			t.Fatalf("Head() error = %v", err)
		}
		return blk.RefCount
	}
	if got := refs(); got != 4 {
		t.Fatalf("RefCount = %d, want 4", got)
	}

	// Reassigning an offset moves the reference rather than adding one.
	other := putBlock(t, v, "y")
	v.Files.Assign(ctx, one, []dedup.Assignment{{BlockID: other, Offset: 2}})
	if got := refs(); got != 3 {
		t.Errorf("RefCount after reassign = %d, want 3", got)
	}

	if err := v.Files.Delete(ctx, one); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := refs(); got != 1 {
		t.Errorf("RefCount after deleting file = %d, want 1", got)
	}

	if err := v.Files.Delete(ctx, one); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
	if got := refs(); got != 1 {
		t.Errorf("RefCount after repeated delete = %d, want 1", got)
	}
}

func TestAssembler_FinalizedFileIsImmutable(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.NewVault(t, testScope, "v1")
	ctx := t.Context()

	id := putBlock(t, v, "frozen")
	file, _ := v.Files.Create(ctx)
	v.Files.Assign(ctx, file, []dedup.Assignment{{BlockID: id, Offset: 0}})
	if err := v.Files.Finalize(ctx, file, 6); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if _, err := v.Files.Assign(ctx, file, []dedup.Assignment{{BlockID: id, Offset: 6}}); !errors.Is(err, dedup.ErrFileFinalized) {
		t.Errorf("Assign() after finalize error = %v, want ErrFileFinalized", err)
	}
	if err := v.Files.Finalize(ctx, file, 6); !errors.Is(err, dedup.ErrFileFinalized) {
		t.Errorf("second Finalize() error = %v, want ErrFileFinalized", err)
	}
	if !errors.Is(dedup.ErrFileFinalized, dedup.ErrConflict) {
		t.Error("ErrFileFinalized does not wrap ErrConflict")
	}
}

func TestAssembler_UnknownAndOpenFiles(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.NewVault(t, testScope, "v1")
	ctx := t.Context()

	if _, err := v.Files.Assign(ctx, "nope", nil); !errors.Is(err, dedup.ErrFileNotFound) {
		t.Errorf("Assign(unknown) error = %v, want ErrFileNotFound", err)
	}
	if err := v.Files.Finalize(ctx, "nope", 0); !errors.Is(err, dedup.ErrFileNotFound) {
		t.Errorf("Finalize(unknown) error = %v, want ErrFileNotFound", err)
	}
	if _, err := v.Files.Open(ctx, "nope"); !errors.Is(err, dedup.ErrFileNotFound) {
		t.Errorf("Open(unknown) error = %v, want ErrFileNotFound", err)
	}

	file, _ := v.Files.Create(ctx)
	if _, err := v.Files.Open(ctx, file); !errors.Is(err, dedup.ErrFileNotFinalized) {
		t.Errorf("Open(open file) error = %v, want ErrFileNotFinalized", err)
	}
}

func TestAssembler_AssignValidation(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.NewVault(t, testScope, "v1")
	ctx := t.Context()
	file, _ := v.Files.Create(ctx)
	id, _ := testutil.Block("x")

	tests := []struct {
		name string
		as   dedup.Assignment
	}{
		{"negative offset", dedup.Assignment{BlockID: id, Offset: -1}},
		{"malformed id", dedup.Assignment{BlockID: "not-a-digest", Offset: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Files.Assign(ctx, file, []dedup.Assignment{tt.as})
			if !errors.Is(err, dedup.ErrBadRequest) {
				t.Errorf("Assign() error = %v, want ErrBadRequest", err)
			}
		})
	}
}

func TestAssembler_EmptyFile(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.NewVault(t, testScope, "v1")
	ctx := t.Context()

	file, _ := v.Files.Create(ctx)
	if err := v.Files.Finalize(ctx, file, 0); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	got, err := readAll(t, v, file)
	if err != nil || len(got) != 0 {
		t.Errorf("read = %q, %v; want empty", got, err)
	}
}

func TestAssembler_ConcurrentFinalizeHasOneWinner(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.NewVault(t, testScope, "v1")
	ctx := t.Context()

	id := putBlock(t, v, "race")
	file, _ := v.Files.Create(ctx)
	v.Files.Assign(ctx, file, []dedup.Assignment{{BlockID: id, Offset: 0}})

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = v.Files.Finalize(ctx, file, 4)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, dedup.ErrFileFinalized):
			t.Errorf("Finalize() error = %v, want nil or ErrFileFinalized", err)
		}
	}
	if wins != 1 {
		t.Errorf("%d finalizations succeeded, want 1", wins)
	}
}

func TestAssembler_ReconstructDetectsLostBlock(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.NewVault(t, testScope, "v1")
	ctx := t.Context()

	a := putBlock(t, v, "first")
	b := putBlock(t, v, "second")
	file, _ := v.Files.Create(ctx)
	v.Files.Assign(ctx, file, []dedup.Assignment{{BlockID: a, Offset: 0}, {BlockID: b, Offset: 5}})
	if err := v.Files.Finalize(ctx, file, 11); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	blk, _ := v.Blocks.Head(ctx, b)
	f.Blocks.DeleteBlock(ctx, testScope, "v1", blk.StorageID)

	got, err := readAll(t, v, file)
	if !errors.Is(err, dedup.ErrIntegrity) {
		t.Fatalf("read error = %v, want ErrIntegrity", err)
	}
	if string(got) != "first" {
		t.Errorf("read before failure = %q, want %q", got, "first")
	}
}

// corruptingStore serves altered bytes for every block.
type corruptingStore struct {
	dedup.BlockStore
}

func (c corruptingStore) OpenBlock(ctx context.Context, scope dedup.Scope, vault, storageID string) (io.ReadCloser, error) {
	rc, err := c.BlockStore.OpenBlock(ctx, scope, vault, storageID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	return io.NopCloser(bytes.NewReader(bytes.ToUpper(data))), nil
}

func TestAssembler_ReconstructVerifiesContent(t *testing.T) {
	f := testutil.NewFixture(t)
	addresser, _ := dedup.NewAddresser("sha1")
	ns := dedup.NewNamespace(f.Meta, corruptingStore{f.Blocks}, addresser, dedup.NewNopLogger(), f.Clock, f.IDs)
	ctx := t.Context()
	ns.Create(ctx, testScope, "v1")
	v, _ := ns.Open(ctx, testScope, "v1")

	id := putBlock(t, v, "lowercase")
	file, _ := v.Files.Create(ctx)
	v.Files.Assign(ctx, file, []dedup.Assignment{{BlockID: id, Offset: 0}})
	if err := v.Files.Finalize(ctx, file, 9); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if _, err := readAll(t, v, file); !errors.Is(err, dedup.ErrIntegrity) {
		t.Errorf("read error = %v, want ErrIntegrity", err)
	}
}

// countingStore records how many blocks are open at once.
type countingStore struct {
	dedup.BlockStore
	mu      sync.Mutex
	open    int
	maxOpen int
}

type countedReader struct {
	io.ReadCloser
	s *countingStore
}

func (r countedReader) Close() error {
	r.s.mu.Lock()
	r.s.open--
	r.s.mu.Unlock()
	return r.ReadCloser.Close()
}

func (c *countingStore) OpenBlock(ctx context.Context, scope dedup.Scope, vault, storageID string) (io.ReadCloser, error) {
	rc, err := c.BlockStore.OpenBlock(ctx, scope, vault, storageID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.open++
	c.maxOpen = max(c.maxOpen, c.open)
	c.mu.Unlock()
	return countedReader{rc, c}, nil
}

func TestAssembler_ReconstructOneBlockAtATime(t *testing.T) {
	f := testutil.NewFixture(t)
	store := &countingStore{BlockStore: f.Blocks}
	addresser, _ := dedup.NewAddresser("sha1")
	ns := dedup.NewNamespace(f.Meta, store, addresser, dedup.NewNopLogger(), f.Clock, f.IDs)
	ctx := t.Context()
	ns.Create(ctx, testScope, "v1")
	v, _ := ns.Open(ctx, testScope, "v1")

	var assignments []dedup.Assignment
	var want strings.Builder
	for i := 0; i < 10; i++ {
		chunk := strings.Repeat(string(rune('a'+i)), 100)
		id := putBlock(t, v, chunk)
		assignments = append(assignments, dedup.Assignment{BlockID: id, Offset: int64(i * 100)})
		want.WriteString(chunk)
	}
	file, _ := v.Files.Create(ctx)
	v.Files.Assign(ctx, file, assignments)
	if err := v.Files.Finalize(ctx, file, 1000); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	got, err := readAll(t, v, file)
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if string(got) != want.String() {
		t.Error("reconstructed bytes differ")
	}
	if store.maxOpen != 1 {
		t.Errorf("max open blocks = %d, want 1", store.maxOpen)
	}
	if store.open != 0 {
		t.Errorf("%d blocks left open", store.open)
	}

	// Closing mid-stream releases the open block.
	r, _ := v.Files.Open(ctx, file)
	buf := make([]byte, 150)
	io.ReadFull(r, buf)
	r.Close()
	if store.open != 0 {
		t.Errorf("%d blocks left open after early Close", store.open)
	}
}

func TestAssembler_ListAndBlocks(t *testing.T) {
	f := testutil.NewFixture(t)
	v := f.NewVault(t, testScope, "v1")
	ctx := t.Context()

	id := putBlock(t, v, "ab")
	var finalized []string
	for i := 0; i < 3; i++ {
		file, _ := v.Files.Create(ctx)
		v.Files.Assign(ctx, file, []dedup.Assignment{{BlockID: id, Offset: 0}, {BlockID: id, Offset: 2}, {BlockID: id, Offset: 4}})
		if err := v.Files.Finalize(ctx, file, 6); err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		finalized = append(finalized, file)
	}
	open, _ := v.Files.Create(ctx)

	page, err := v.Files.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page.Items) != 3 {
		t.Errorf("List() = %v, want the 3 finalized files", page.Items)
	}
	for _, item := range page.Items {
		if item == open {
			t.Errorf("List() includes open file %s", open)
		}
	}

	blocks, err := v.Files.Blocks(ctx, finalized[0], "", 2)
	if err != nil {
		t.Fatalf("Blocks() error = %v", err)
	}
	if len(blocks.Items) != 2 || blocks.NextMarker != "2" {
		t.Fatalf("Blocks() = %+v, want 2 items and marker 2", blocks)
	}
	rest, err := v.Files.Blocks(ctx, finalized[0], blocks.NextMarker, 2)
	if err != nil {
		t.Fatalf("Blocks() error = %v", err)
	}
	if len(rest.Items) != 1 || rest.Items[0].Offset != 4 || rest.NextMarker != "" {
		t.Errorf("Blocks(marker=2) = %+v, want the block at offset 4", rest)
	}

	if _, err := v.Files.Blocks(ctx, finalized[0], "x", 2); !errors.Is(err, dedup.ErrBadRequest) {
		t.Errorf("Blocks(bad marker) error = %v, want ErrBadRequest", err)
	}
}
