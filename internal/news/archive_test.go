package news

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"newswire/internal/storage"
	"newswire/pkg/logx"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewArchive(db, logx.Nop())
}

func mustItem(t *testing.T, title, description string, tags Tags) Item {
	t.Helper()
	it, err := NewItem(title, description, "", "", "rep-1", tags)
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	return it
}

var enWorld = Tags{Region: RegionEurope, Category: CategoryWorld, Language: "en"}

func TestArchiveInsertAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	arch := openTestArchive(t)

	it := mustItem(t, "Summit concludes", "Leaders agreed on a joint statement.", enWorld)
	it.ImageURL = "https://example.com/p.jpg"
	it.Credit = "Wire"
	if err := arch.Insert(ctx, it); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := arch.GetByID(ctx, it.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != it.Title || got.Credit != "Wire" || got.Tags != it.Tags {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.PublishedAt.IsZero() {
		t.Fatal("PublishedAt lost in round-trip")
	}

	if _, err := arch.GetByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id: err = %v, want ErrNotFound", err)
	}
}

func TestArchiveInsertUniqueRejectsNearDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	arch := openTestArchive(t)

	first := mustItem(t, "Volcano erupts on remote island",
		"A volcano erupted overnight, prompting evacuations of nearby villages.", enWorld)
	if err := arch.InsertUnique(ctx, first); err != nil {
		t.Fatalf("InsertUnique: %v", err)
	}

	dup := mustItem(t, "Volcano erupts on remote island!",
		"A volcano erupted overnight, prompting evacuations of nearby villages..", enWorld)
	if err := arch.InsertUnique(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate: err = %v, want ErrDuplicate", err)
	}

	// Same story in another language is not a duplicate.
	frTags := enWorld
	frTags.Language = "fr"
	fr := mustItem(t, "Volcano erupts on remote island",
		"A volcano erupted overnight, prompting evacuations of nearby villages.", frTags)
	if err := arch.InsertUnique(ctx, fr); err != nil {
		t.Fatalf("other language rejected: %v", err)
	}

	other := mustItem(t, "Markets close higher after rate decision",
		"Stocks finished the day up across every major index.", enWorld)
	if err := arch.InsertUnique(ctx, other); err != nil {
		t.Fatalf("unrelated item rejected: %v", err)
	}
}

func TestArchiveSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	arch := openTestArchive(t)

	sports := Tags{Region: RegionAmerica, Category: CategorySports, Language: "en"}
	items := []Item{
		mustItem(t, "Election results in France", "Paris counts the final ballots.", enWorld),
		mustItem(t, "Cup final tonight", "The stadium in Madrid is sold out.", sports),
	}
	items[1].ReporterID = "rep-2"
	for _, it := range items {
		if err := arch.Insert(ctx, it); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := arch.Search(ctx, SearchQuery{Topic: "Election"})
	if err != nil || len(got) != 1 || got[0].ID != items[0].ID {
		t.Fatalf("topic search = %v, %v", got, err)
	}
	got, err = arch.Search(ctx, SearchQuery{Nation: "Madrid"})
	if err != nil || len(got) != 1 || got[0].ID != items[1].ID {
		t.Fatalf("nation search = %v, %v", got, err)
	}
	got, err = arch.Search(ctx, SearchQuery{Category: CategorySports, ReporterID: "rep-2"})
	if err != nil || len(got) != 1 || got[0].ID != items[1].ID {
		t.Fatalf("combined search = %v, %v", got, err)
	}
	got, err = arch.Search(ctx, SearchQuery{Topic: "Election", Category: CategorySports})
	if err != nil || len(got) != 0 {
		t.Fatalf("conflicting filters should match nothing: %v, %v", got, err)
	}
}

func TestArchivePruneOlderThan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	arch := openTestArchive(t)

	old := mustItem(t, "Old story", "From a while ago.", enWorld)
	old.PublishedAt = time.Now().UTC().Add(-72 * time.Hour)
	fresh := mustItem(t, "Fresh story", "From today.", enWorld)
	for _, it := range []Item{old, fresh} {
		if err := arch.Insert(ctx, it); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	n, err := arch.PruneOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if _, err := arch.GetByID(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh item lost: %v", err)
	}
	if _, err := arch.GetByID(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old item should be gone: %v", err)
	}
}
