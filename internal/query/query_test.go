package query

import (
	"errors"
	"testing"

	"arxcore/pkg/address"
	"arxcore/pkg/domain"
)

func testRepo(t *testing.T) *domain.Repository {
	t.Helper()
	repo := &domain.Repository{
		ID:   "ps-118",
		Site: domain.Site{Country: "usa", Region: "ny", Locality: "brooklyn", Building: "ps-118"},
		Info: domain.BuildingInfo{Name: "PS 118"},
	}
	add := func(floor, wing, addr, typ string, status domain.EquipmentStatus, health int) {
		t.Helper()
		a := address.MustParse(addr)
		eq := domain.Equipment{
			ID:      "eq-" + a.Fixture(),
			Name:    a.Fixture(),
			Address: a,
			Type:    typ,
			Status:  status,
			Health:  health,
		}
		if err := repo.AddEquipment(floor, wing, eq); err != nil {
			t.Fatalf("AddEquipment %s: %v", addr, err)
		}
	}
	add("floor-02", "north", "/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-01", "boiler", domain.StatusOperational, 97)
	add("floor-02", "north", "/usa/ny/brooklyn/ps-118/floor-02/mech/pump-07", "pump", domain.StatusOperational, 88)
	add("floor-03", "north", "/usa/ny/brooklyn/ps-118/floor-03/mech/boiler-02", "boiler", domain.StatusFault, 41)
	add("floor-03", "south", "/usa/ny/brooklyn/ps-118/floor-03/lab/fcu-12", "fcu", domain.StatusOperational, 90)
	add("roof", "general", "/usa/ny/brooklyn/ps-118/roof/plant/ahu-01", "ahu", domain.StatusMaintenance, 60)
	return repo
}

func TestFindByPattern(t *testing.T) {
	repo := testRepo(t)
	cases := []struct {
		name    string
		pattern string
		want    []string
	}{
		{
			name:    "boilers in any mech room",
			pattern: "/usa/ny/*/*/floor-*/mech/boiler-*",
			want:    []string{"boiler-01", "boiler-02"},
		},
		{
			name:    "everything on floor-02",
			pattern: "/usa/ny/brooklyn/ps-118/floor-02/*/*",
			want:    []string{"boiler-01", "pump-07"},
		},
		{
			name:    "exact address",
			pattern: "/usa/ny/brooklyn/ps-118/roof/plant/ahu-01",
			want:    []string{"ahu-01"},
		},
		{
			name:    "no matches",
			pattern: "/usa/ny/brooklyn/ps-118/floor-09/*/*",
			want:    nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seq, err := Find(repo, tc.pattern)
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			var got []string
			for e := range seq {
				got = append(got, e.Address.Fixture())
			}
			if len(got) != len(tc.want) {
				t.Fatalf("matched %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("matched %v, want %v in traversal order", got, tc.want)
				}
			}
		})
	}
}

func TestFindInvalidPattern(t *testing.T) {
	repo := testRepo(t)
	if _, err := Find(repo, "/usa/ny/brooklyn"); !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("short pattern: want ErrInvalidPattern, got %v", err)
	}
	if _, err := Find(repo, "/usa/ny/**x/*/floor-*/mech/boiler-*"); !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("double star segment: want ErrInvalidPattern, got %v", err)
	}
}

func TestSequenceIsRestartable(t *testing.T) {
	repo := testRepo(t)
	seq, err := Find(repo, "/usa/ny/*/*/floor-*/mech/*")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	first := len(Collect(seq))
	second := len(Collect(seq))
	if first != 3 || second != 3 {
		t.Fatalf("ranges yielded %d then %d, want 3 both times", first, second)
	}
}

func TestEarlyBreak(t *testing.T) {
	repo := testRepo(t)
	seq, err := Find(repo, "/usa/ny/*/*/*/*/*")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("yielded %d before break", n)
	}
}

func TestFilterPredicatesAreAnded(t *testing.T) {
	repo := testRepo(t)
	seq, err := Filter(repo, "/usa/ny/*/*/*/*/*",
		ByType("boiler"),
		ByStatus(domain.StatusFault),
	)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	got := Collect(seq)
	if len(got) != 1 || got[0].Address.Fixture() != "boiler-02" {
		t.Fatalf("filtered %+v, want only the faulted boiler", got)
	}
}

func TestFilterByFloorAndHealth(t *testing.T) {
	repo := testRepo(t)
	seq, err := Filter(repo, "/usa/ny/*/*/*/*/*",
		OnFloor("floor-03"),
		HealthBelow(50),
	)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	got := Collect(seq)
	if len(got) != 1 || got[0].Address.Fixture() != "boiler-02" {
		t.Fatalf("filtered %+v", got)
	}
}

func TestFilterInRoom(t *testing.T) {
	repo := testRepo(t)
	seq, err := Filter(repo, "/usa/ny/*/*/*/*/*", InRoom("lab"))
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	got := Collect(seq)
	if len(got) != 1 || got[0].Type != "fcu" {
		t.Fatalf("filtered %+v", got)
	}
}

func TestCount(t *testing.T) {
	repo := testRepo(t)
	n, err := Count(repo, "/usa/ny/*/*/floor-*/*/*")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 4 {
		t.Fatalf("count %d, want 4", n)
	}
	if _, err := Count(repo, "not-an-address"); !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("want ErrInvalidPattern, got %v", err)
	}
}
