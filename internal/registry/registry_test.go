package registry

import (
	"context"
	stdErrors "errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"Evolve-Chain/internal/evolution"
	"Evolve-Chain/internal/oracle"
	"Evolve-Chain/internal/policy"
	"Evolve-Chain/internal/storage/sqldb"
)

const (
	alice = "0x00000000000000000000000000000000000a11ce"
	bob   = "0x0000000000000000000000000000000000000b0b"
)

func newSQLRegistry(t *testing.T) *SQL {
	t.Helper()
	db, err := sqldb.Open(context.Background(), sqldb.Config{Driver: sqldb.DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQL(db)
}

func registries(t *testing.T) map[string]Registry {
	return map[string]Registry{
		"memory": NewMemory(),
		"sql":    newSQLRegistry(t),
	}
}

func TestRegistryContract(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := reg.Mint(ctx, alice)
			if err != nil {
				t.Fatalf("mint: %v", err)
			}
			second, err := reg.Mint(ctx, bob)
			if err != nil {
				t.Fatalf("mint: %v", err)
			}
			if first.ID != 1 || second.ID != 2 {
				t.Fatalf("ids must be sequential from 1, got %d and %d", first.ID, second.ID)
			}

			ok, err := reg.Exists(ctx, 2)
			if err != nil || !ok {
				t.Fatalf("asset 2 should exist: %v %v", ok, err)
			}
			ok, err = reg.Exists(ctx, 3)
			if err != nil || ok {
				t.Fatalf("asset 3 should not exist: %v %v", ok, err)
			}

			owner, err := reg.OwnerOf(ctx, 1)
			if err != nil {
				t.Fatalf("owner of: %v", err)
			}
			if owner != common.HexToAddress(alice).Hex() {
				t.Fatalf("owner should be checksummed, got %s", owner)
			}
			if _, err := reg.Get(ctx, 99); !stdErrors.Is(err, ErrAssetNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}

			all, err := reg.List(ctx, 0, 0)
			if err != nil || len(all) != 2 {
				t.Fatalf("list all: %v %+v", err, all)
			}
			page, err := reg.List(ctx, 1, 1)
			if err != nil || len(page) != 1 || page[0].ID != 2 {
				t.Fatalf("list page: %v %+v", err, page)
			}
			empty, err := reg.List(ctx, 10, 5)
			if err != nil || len(empty) != 0 {
				t.Fatalf("list past end: %v %+v", err, empty)
			}

			if _, err := reg.Mint(ctx, "not-an-address"); !stdErrors.Is(err, ErrInvalidOwner) {
				t.Fatalf("expected invalid owner, got %v", err)
			}
		})
	}
}

func TestRegistryConcurrentMint(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			const n = 20
			var wg sync.WaitGroup
			ids := make(chan uint64, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					asset, err := reg.Mint(context.Background(), alice)
					if err != nil {
						t.Errorf("mint: %v", err)
						return
					}
					ids <- asset.ID
				}()
			}
			wg.Wait()
			close(ids)

			seen := map[uint64]bool{}
			for id := range ids {
				if seen[id] {
					t.Fatalf("duplicate id %d", id)
				}
				seen[id] = true
			}
			if len(seen) != n {
				t.Fatalf("expected %d distinct ids, got %d", n, len(seen))
			}
		})
	}
}

func TestTokenURI(t *testing.T) {
	cases := []struct {
		base  string
		stage evolution.Stage
		want  string
	}{
		{"https://meta.example/", evolution.StageAncientTree, "https://meta.example/7/ancient-tree.json"},
		{"ipfs://cid", evolution.StageSeedling, "ipfs://cid/7/seedling.json"},
		{"", evolution.StageTree, ""},
	}
	for _, tc := range cases {
		if got := TokenURI(tc.base, 7, tc.stage); got != tc.want {
			t.Fatalf("TokenURI(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestSQLRegistryTreatsOversizedIDsAsUnknown(t *testing.T) {
	ctx := context.Background()
	reg := newSQLRegistry(t)
	if _, err := reg.Mint(ctx, alice); err != nil {
		t.Fatalf("mint: %v", err)
	}

	for _, id := range []uint64{math.MaxInt64 + 1, math.MaxUint64} {
		ok, err := reg.Exists(ctx, id)
		if err != nil || ok {
			t.Fatalf("Exists(%d) = %v, %v; want false, nil", id, ok, err)
		}
		if _, err := reg.Get(ctx, id); !stdErrors.Is(err, ErrAssetNotFound) {
			t.Fatalf("Get(%d) should be not found, got %v", id, err)
		}
		if _, err := reg.OwnerOf(ctx, id); !stdErrors.Is(err, ErrAssetNotFound) {
			t.Fatalf("OwnerOf(%d) should be not found, got %v", id, err)
		}
	}
}

func TestMinterCreatesEvolutionRecord(t *testing.T) {
	store, err := policy.NewStore(policy.Policy{
		LowThreshold:  decimal.NewFromInt(1000),
		HighThreshold: decimal.NewFromInt(50000),
		Cooldown:      time.Hour,
		MinCooldown:   time.Minute,
		MaxCooldown:   24 * time.Hour,
	}, "static", oracle.NewStatic(decimal.NewFromInt(20000)))
	if err != nil {
		t.Fatalf("policy store: %v", err)
	}
	reg := NewMemory()
	engine := evolution.NewEngine(store, evolution.WithRegistry(reg))
	minter := NewMinter(reg, engine)

	asset, rec, err := minter.Mint(context.Background(), alice)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if rec.AssetID != asset.ID || rec.Level != evolution.MinLevel || rec.Stage != evolution.StageSeedling {
		t.Fatalf("unexpected record %+v for asset %+v", rec, asset)
	}
	if _, err := engine.Get(context.Background(), asset.ID); err != nil {
		t.Fatalf("engine should know the minted asset: %v", err)
	}

	if _, _, err := minter.Mint(context.Background(), "0xzz"); !stdErrors.Is(err, ErrInvalidOwner) {
		t.Fatalf("expected invalid owner, got %v", err)
	}
}
