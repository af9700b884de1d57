package api

import (
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	xerrors "Evolve-Chain/internal/errors"
	"Evolve-Chain/internal/auth"
	"Evolve-Chain/internal/evolution"
	"Evolve-Chain/internal/policy"
	"Evolve-Chain/internal/registry"
	"Evolve-Chain/pkg/logger"
)

type assetView struct {
	ID        uint64          `json:"id"`
	Owner     string          `json:"owner"`
	MintedAt  time.Time       `json:"minted_at"`
	Level     evolution.Level `json:"level,omitempty"`
	Stage     evolution.Stage `json:"stage,omitempty"`
	LastCheck *time.Time      `json:"last_check,omitempty"`
	TokenURI  string          `json:"token_uri,omitempty"`
}

func (s *Server) view(asset registry.Asset, rec evolution.Record, ok bool) assetView {
	v := assetView{ID: asset.ID, Owner: asset.Owner, MintedAt: asset.MintedAt}
	if ok {
		last := rec.LastCheck
		v.Level = rec.Level
		v.Stage = rec.Stage
		v.LastCheck = &last
		v.TokenURI = registry.TokenURI(s.deps.BaseURI, asset.ID, rec.Stage)
	}
	return v
}

type mintRequest struct {
	Owner string `json:"owner"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asset, rec, err := s.deps.Minter.Mint(r.Context(), req.Owner)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(asset, rec, true))
}

type listResponse struct {
	Items  []assetView `json:"items"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit == 0 || limit > 500 {
		limit = 500
	}
	offset := queryInt(r, "offset", 0)

	assets, err := s.deps.Registry.List(r.Context(), limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]assetView, 0, len(assets))
	for _, asset := range assets {
		rec, err := s.deps.Engine.Get(r.Context(), asset.ID)
		items = append(items, s.view(asset, rec, err == nil))
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Limit: limit, Offset: offset})
}

type describeResponse struct {
	evolution.Description
	Owner    string `json:"owner"`
	TokenURI string `json:"token_uri,omitempty"`
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAssetID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "资产 ID 无效")
		return
	}
	desc, err := s.deps.Engine.Describe(r.Context(), id, s.clock())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	owner, err := s.deps.Registry.OwnerOf(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, describeResponse{
		Description: desc,
		Owner:       owner,
		TokenURI:    registry.TokenURI(s.deps.BaseURI, id, desc.Stage),
	})
}

type evaluateResponse struct {
	AssetID   uint64          `json:"asset_id"`
	Changed   bool            `json:"changed"`
	Level     evolution.Level `json:"level"`
	Stage     evolution.Stage `json:"stage"`
	LastCheck time.Time       `json:"last_check"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAssetID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "资产 ID 无效")
		return
	}
	changed, err := s.deps.Engine.Evaluate(r.Context(), id, s.clock())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	rec, err := s.deps.Engine.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{
		AssetID:   id,
		Changed:   changed,
		Level:     rec.Level,
		Stage:     rec.Stage,
		LastCheck: rec.LastCheck,
	})
}

func (s *Server) handleRequirements(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAssetID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "资产 ID 无效")
		return
	}
	req, err := s.deps.Engine.Requirements(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotImplemented, "HISTORY_DISABLED", "未启用进化流水")
		return
	}
	id, ok := parseAssetID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "资产 ID 无效")
		return
	}
	if _, err := s.deps.Engine.Get(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	events, err := s.deps.History.History(r.Context(), id, queryInt(r, "limit", 100))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type overrideRequest struct {
	Level evolution.Level `json:"level"`
	Stage evolution.Stage `json:"stage,omitempty"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAssetID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "资产 ID 无效")
		return
	}
	var req overrideRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.deps.Engine.AdminOverride(r.Context(), id, req.Level, req.Stage, s.clock())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	logger.Audit().Info("admin_override_requested",
		slog.String("actor", auth.Actor(r.Context())),
		slog.Uint64("asset_id", id),
		slog.Int("level", int(rec.Level)),
	)
	writeJSON(w, http.StatusOK, rec)
}

type policyResponse struct {
	LowThreshold       decimal.Decimal `json:"low_threshold"`
	HighThreshold      decimal.Decimal `json:"high_threshold"`
	CooldownSeconds    int64           `json:"cooldown_seconds"`
	MinCooldownSeconds int64           `json:"min_cooldown_seconds"`
	MaxCooldownSeconds int64           `json:"max_cooldown_seconds"`
	Oracle             string          `json:"oracle"`
}

func (s *Server) policyView(p policy.Policy) policyResponse {
	return policyResponse{
		LowThreshold:       p.LowThreshold,
		HighThreshold:      p.HighThreshold,
		CooldownSeconds:    int64(p.Cooldown / time.Second),
		MinCooldownSeconds: int64(p.MinCooldown / time.Second),
		MaxCooldownSeconds: int64(p.MaxCooldown / time.Second),
		Oracle:             s.deps.Policy.OracleName(),
	}
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.policyView(s.deps.Policy.Snapshot()))
}

type thresholdsRequest struct {
	Low  decimal.Decimal `json:"low_threshold"`
	High decimal.Decimal `json:"high_threshold"`
}

func (s *Server) handleSetThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	updated, err := s.deps.Policy.SetThresholds(req.Low, req.High)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.policyView(updated))
}

type cooldownRequest struct {
	CooldownSeconds int64 `json:"cooldown_seconds"`
}

func (s *Server) handleSetCooldown(w http.ResponseWriter, r *http.Request) {
	var req cooldownRequest
	if !decodeBody(w, r, &req) {
		return
	}
	// 超出 time.Duration 范围的秒数会在乘法中溢出。
	if req.CooldownSeconds <= 0 || req.CooldownSeconds > math.MaxInt64/int64(time.Second) {
		writeError(w, http.StatusBadRequest, string(policy.CodeInvalid), "cooldown_seconds 超出允许范围")
		return
	}
	updated, err := s.deps.Policy.SetCooldown(time.Duration(req.CooldownSeconds) * time.Second)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.policyView(updated))
}

type oracleRequest struct {
	Feed string `json:"feed"`
}

func (s *Server) handleSetOracle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feeds == nil {
		writeError(w, http.StatusNotImplemented, "FEEDS_DISABLED", "未配置价格源目录")
		return
	}
	var req oracleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.deps.Feeds.Open(r.Context(), req.Feed)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.deps.Policy.SetOracle(req.Feed, o); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.policyView(s.deps.Policy.Snapshot()))
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feeds == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Feeds.Feeds())
}
