package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Evolve-Chain/internal/errors"
	"Evolve-Chain/internal/evolution"
)

const (
	CodeAssetNotFound xerrors.Code = "REGISTRY_ASSET_NOT_FOUND"
	CodeInvalidOwner  xerrors.Code = "REGISTRY_INVALID_OWNER"
)

var (
	// ErrAssetNotFound 表示资产尚未铸造。
	ErrAssetNotFound = xerrors.New(CodeAssetNotFound, "asset not minted")
	// ErrInvalidOwner 表示持有人地址不是合法的以太坊地址。
	ErrInvalidOwner = xerrors.New(CodeInvalidOwner, "owner is not a valid address")
)

func init() {
	xerrors.Register(CodeAssetNotFound, xerrors.Attributes{Message: "asset not minted", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeInvalidOwner, xerrors.Attributes{Message: "owner is not a valid address", Severity: xerrors.SeverityInfo})
}

// Asset is one minted token.
type Asset struct {
	ID       uint64    `json:"id"`
	Owner    string    `json:"owner"`
	MintedAt time.Time `json:"minted_at"`
}

// Registry stores minted assets. IDs are assigned sequentially from 1.
type Registry interface {
	Mint(ctx context.Context, owner string) (Asset, error)
	Exists(ctx context.Context, id uint64) (bool, error)
	Get(ctx context.Context, id uint64) (Asset, error)
	OwnerOf(ctx context.Context, id uint64) (string, error)
	// List returns assets ordered by ID. A non-positive limit means no limit.
	List(ctx context.Context, limit, offset int) ([]Asset, error)
}

// NormalizeOwner validates an owner address and returns its checksummed form.
func NormalizeOwner(owner string) (string, error) {
	owner = strings.TrimSpace(owner)
	if !common.IsHexAddress(owner) {
		return "", xerrors.Wrap(CodeInvalidOwner, ErrInvalidOwner, fmt.Sprintf("owner %q", owner))
	}
	return common.HexToAddress(owner).Hex(), nil
}

// TokenURI formats the metadata location of id at the given stage, e.g.
// https://meta.example/7/ancient-tree.json.
func TokenURI(baseURI string, id uint64, stage evolution.Stage) string {
	if baseURI == "" {
		return ""
	}
	if !strings.HasSuffix(baseURI, "/") {
		baseURI += "/"
	}
	return baseURI + strconv.FormatUint(id, 10) + "/" + stage.Slug() + ".json"
}

func notFound(id uint64) error {
	return xerrors.Wrap(CodeAssetNotFound, ErrAssetNotFound, fmt.Sprintf("asset %d", id))
}

// RecordCreator initialises evolution state for a freshly minted asset.
type RecordCreator interface {
	CreateRecord(ctx context.Context, id uint64) (evolution.Record, error)
}

// Minter mints an asset and seeds its evolution record in one call.
type Minter struct {
	registry Registry
	records  RecordCreator
}

// NewMinter wires a registry to the evolution engine.
func NewMinter(reg Registry, records RecordCreator) *Minter {
	return &Minter{registry: reg, records: records}
}

// Mint registers a new asset for owner and creates its level-1 record.
func (m *Minter) Mint(ctx context.Context, owner string) (Asset, evolution.Record, error) {
	asset, err := m.registry.Mint(ctx, owner)
	if err != nil {
		return Asset{}, evolution.Record{}, err
	}
	rec, err := m.records.CreateRecord(ctx, asset.ID)
	if err != nil {
		return asset, evolution.Record{}, fmt.Errorf("create evolution record for asset %d: %w", asset.ID, err)
	}
	return asset, rec, nil
}
