package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"arxcore/pkg/address"
	"arxcore/pkg/domain"
)

func testRepo(t *testing.T, id string) *domain.Repository {
	t.Helper()
	repo := &domain.Repository{
		ID:   id,
		Site: domain.Site{Country: "usa", Region: "ny", Locality: "brooklyn", Building: id},
		Info: domain.BuildingInfo{Name: id, Version: 1},
	}
	eq := domain.Equipment{
		ID:      "eq-boiler-01",
		Name:    "Boiler 01",
		Address: address.MustParse(fmt.Sprintf("/usa/ny/brooklyn/%s/floor-02/mech/boiler-01", id)),
		Type:    "boiler",
		Status:  domain.StatusOperational,
	}
	if err := repo.AddEquipment("floor-02", "north", eq); err != nil {
		t.Fatalf("AddEquipment: %v", err)
	}
	return repo
}

func TestGetLoadsOnMissThenHits(t *testing.T) {
	c, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var loads atomic.Int64
	load := func(ctx context.Context, repoID string) (*domain.Repository, error) {
		loads.Add(1)
		return testRepo(t, repoID), nil
	}
	for i := 0; i < 3; i++ {
		repo, err := c.Get(context.Background(), "ps-118", load)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if repo.ID != "ps-118" {
			t.Fatalf("wrong repo %q", repo.ID)
		}
	}
	if got := loads.Load(); got != 1 {
		t.Fatalf("loader ran %d times, want 1", got)
	}
}

func TestGetReturnsIsolatedClones(t *testing.T) {
	c, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	load := func(ctx context.Context, repoID string) (*domain.Repository, error) {
		return testRepo(t, repoID), nil
	}
	first, err := c.Get(context.Background(), "ps-118", load)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	addr := address.MustParse("/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-01")
	if _, err := first.UpdateEquipment(addr, func(e *domain.Equipment) error {
		e.Status = domain.StatusFault
		return nil
	}); err != nil {
		t.Fatalf("UpdateEquipment: %v", err)
	}
	second, err := c.Get(context.Background(), "ps-118", load)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	eq, ok := second.FindEquipment(addr)
	if !ok {
		t.Fatal("equipment missing")
	}
	if eq.Status != domain.StatusOperational {
		t.Fatal("mutating one caller's copy leaked into the cache")
	}
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	c, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	started := make(chan struct{})
	release := make(chan struct{})
	var loads atomic.Int64
	load := func(ctx context.Context, repoID string) (*domain.Repository, error) {
		if loads.Add(1) == 1 {
			close(started)
		}
		<-release
		return testRepo(t, repoID), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Get(context.Background(), "ps-118", load)
		}(i)
	}
	<-started
	close(release)
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := loads.Load(); got != 1 {
		t.Fatalf("loader ran %d times, want 1", got)
	}
}

func TestLoadErrorNotCached(t *testing.T) {
	c, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	boom := errors.New("disk unavailable")
	calls := 0
	load := func(ctx context.Context, repoID string) (*domain.Repository, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return testRepo(t, repoID), nil
	}
	if _, err := c.Get(context.Background(), "ps-118", load); !errors.Is(err, boom) {
		t.Fatalf("want load error, got %v", err)
	}
	repo, err := c.Get(context.Background(), "ps-118", load)
	if err != nil {
		t.Fatalf("retry after failed load: %v", err)
	}
	if repo.ID != "ps-118" {
		t.Fatalf("wrong repo %q", repo.ID)
	}
}

func TestPutRefreshesEntry(t *testing.T) {
	c, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stale := testRepo(t, "ps-118")
	c.Put("ps-118", stale)

	updated := stale.Clone()
	updated.Info.Version = 7
	c.Put("ps-118", updated)

	load := func(ctx context.Context, repoID string) (*domain.Repository, error) {
		t.Fatal("loader must not run for a cached entry")
		return nil, nil
	}
	repo, err := c.Get(context.Background(), "ps-118", load)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if repo.Info.Version != 7 {
		t.Fatalf("version %d, want 7", repo.Info.Version)
	}
}

func TestEvictionRespectsCapacity(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("a", testRepo(t, "a"))
	c.Put("b", testRepo(t, "b"))
	c.Put("c", testRepo(t, "c"))
	if c.Len() != 2 {
		t.Fatalf("Len %d, want 2", c.Len())
	}
	if _, ok := c.Peek("a"); ok {
		t.Fatal("oldest entry survived past capacity")
	}
}

func TestInvalidate(t *testing.T) {
	c, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("ps-118", testRepo(t, "ps-118"))
	c.Invalidate("ps-118")
	if _, ok := c.Peek("ps-118"); ok {
		t.Fatal("entry survived invalidation")
	}
}
