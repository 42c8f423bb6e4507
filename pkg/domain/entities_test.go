package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"arxcore/pkg/address"
)

func testRepository(t *testing.T) *Repository {
	t.Helper()
	repo := &Repository{
		ID:   "ps-118",
		Site: Site{Country: "usa", Region: "ny", Locality: "brooklyn", Building: "ps-118"},
		Info: BuildingInfo{
			Name:      "PS 118",
			CreatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			UpdatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			Version:   1,
		},
	}
	boiler := Equipment{
		ID:      "eq-boiler-01",
		Name:    "Boiler 01",
		Address: address.MustParse("/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-01"),
		Type:    "boiler",
		Status:  StatusOperational,
		Health:  97,
		Properties: Properties{
			"manufacturer": "weil-mclain",
			"capacity_kw":  440.0,
		},
	}
	if err := repo.AddEquipment("floor-02", "north", boiler); err != nil {
		t.Fatalf("AddEquipment: %v", err)
	}
	pump := Equipment{
		ID:      "eq-pump-07",
		Name:    "Circulator Pump 07",
		Address: address.MustParse("/usa/ny/brooklyn/ps-118/floor-02/mech/pump-07"),
		Type:    "pump",
		Status:  StatusOperational,
		Health:  88,
	}
	if err := repo.AddEquipment("floor-02", "north", pump); err != nil {
		t.Fatalf("AddEquipment: %v", err)
	}
	ahu := Equipment{
		ID:      "eq-ahu-01",
		Name:    "AHU 01",
		Address: address.MustParse("/usa/ny/brooklyn/ps-118/roof/plant/ahu-01"),
		Type:    "ahu",
		Status:  StatusMaintenance,
		Health:  60,
	}
	if err := repo.AddEquipment("roof", "general", ahu); err != nil {
		t.Fatalf("AddEquipment: %v", err)
	}
	return repo
}

func TestCloneIsDeep(t *testing.T) {
	repo := testRepository(t)
	cp := repo.Clone()
	addr := address.MustParse("/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-01")
	if _, err := cp.UpdateEquipment(addr, func(e *Equipment) error {
		e.Status = StatusFault
		e.Properties["manufacturer"] = "other"
		return nil
	}); err != nil {
		t.Fatalf("UpdateEquipment: %v", err)
	}
	orig, ok := repo.FindEquipment(addr)
	if !ok {
		t.Fatal("original lost equipment")
	}
	if orig.Status != StatusOperational || orig.Properties["manufacturer"] != "weil-mclain" {
		t.Fatal("mutating a clone leaked into the original")
	}
}

func TestWalkOrder(t *testing.T) {
	repo := testRepository(t)
	var order []string
	repo.WalkEquipment(func(e *Equipment) bool {
		order = append(order, e.ID)
		return true
	})
	want := []string{"eq-boiler-01", "eq-pump-07", "eq-ahu-01"}
	if len(order) != len(want) {
		t.Fatalf("walked %d items, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("traversal order %v, want %v", order, want)
		}
	}
}

func TestValidateAddress(t *testing.T) {
	repo := testRepository(t)
	dup := address.MustParse("/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-01")
	if err := repo.ValidateAddress(dup); !errors.Is(err, address.ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	outside := address.MustParse("/usa/ny/queens/ps-200/floor-01/mech/boiler-01")
	if err := repo.ValidateAddress(outside); !errors.Is(err, address.ErrMalformed) {
		t.Fatalf("want ErrMalformed for out-of-site, got %v", err)
	}
	fresh := address.MustParse("/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-02")
	if err := repo.ValidateAddress(fresh); err != nil {
		t.Fatalf("fresh address rejected: %v", err)
	}
}

func TestTombstoneBlocksReuse(t *testing.T) {
	repo := testRepository(t)
	addr := address.MustParse("/usa/ny/brooklyn/ps-118/floor-02/mech/pump-07")
	if !repo.RemoveEquipment(addr, "decommissioned") {
		t.Fatal("RemoveEquipment returned false")
	}
	if err := repo.ValidateAddress(addr); !errors.Is(err, address.ErrDuplicate) {
		t.Fatalf("tombstoned address must be rejected, got %v", err)
	}
}

func TestRemoveRoomReparentsEquipment(t *testing.T) {
	repo := testRepository(t)
	if err := repo.RemoveRoom("floor-02", "north", "mech"); err != nil {
		t.Fatalf("RemoveRoom: %v", err)
	}
	boiler, ok := repo.FindEquipment(address.MustParse("/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-01"))
	if !ok {
		t.Fatal("equipment deleted along with room; weak reference violated")
	}
	if boiler.Room != "" {
		t.Fatalf("room reference not cleared: %q", boiler.Room)
	}
	floor, found := repo.floor("floor-02")
	if !found {
		t.Fatal("floor missing")
	}
	if len(floor.Equipment) != 2 {
		t.Fatalf("floor-level equipment count %d, want 2", len(floor.Equipment))
	}
}

func TestMoveEquipmentTombstonesOldAddress(t *testing.T) {
	repo := testRepository(t)
	old := address.MustParse("/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-01")
	next := address.MustParse("/usa/ny/brooklyn/ps-118/floor-03/mech/boiler-01")
	if err := repo.MoveEquipment(old, next, "floor-03", "north"); err != nil {
		t.Fatalf("MoveEquipment: %v", err)
	}
	if _, ok := repo.FindEquipment(old); ok {
		t.Fatal("equipment still at old address")
	}
	if _, ok := repo.FindEquipment(next); !ok {
		t.Fatal("equipment missing at new address")
	}
	if err := repo.ValidateAddress(old); !errors.Is(err, address.ErrDuplicate) {
		t.Fatalf("old address must be tombstoned, got %v", err)
	}
}

func TestCanonicalMarshalRoundTrip(t *testing.T) {
	repo := testRepository(t)
	raw, err := repo.MarshalCanonical()
	if err != nil {
		t.Fatalf("MarshalCanonical: %v", err)
	}
	var back Repository
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	again, err := back.MarshalCanonical()
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}
	if string(raw) != string(again) {
		t.Fatal("canonical form is not stable across a round-trip")
	}
}

func TestContentHashStable(t *testing.T) {
	repo := testRepository(t)
	h1, err := repo.ContentHash()
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	h2, err := repo.Clone().ContentHash()
	if err != nil {
		t.Fatalf("ContentHash clone: %v", err)
	}
	if h1 != h2 {
		t.Fatal("clone hash differs")
	}
	if _, err := repo.UpdateEquipment(address.MustParse("/usa/ny/brooklyn/ps-118/roof/plant/ahu-01"), func(e *Equipment) error {
		e.Health = 61
		return nil
	}); err != nil {
		t.Fatalf("UpdateEquipment: %v", err)
	}
	h3, err := repo.ContentHash()
	if err != nil {
		t.Fatalf("ContentHash after edit: %v", err)
	}
	if h3 == h1 {
		t.Fatal("hash unchanged after edit")
	}
}

func TestRefreshMetadata(t *testing.T) {
	repo := testRepository(t)
	repo.RefreshMetadata()
	if repo.Metadata.FloorCount != 2 || repo.Metadata.EquipmentCount != 3 || repo.Metadata.RoomCount != 2 {
		t.Fatalf("unexpected metadata %+v", repo.Metadata)
	}
}
