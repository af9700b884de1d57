package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	xerrors "Evolve-Chain/internal/errors"
	"Evolve-Chain/internal/evolution"
	"Evolve-Chain/internal/policy"
	"Evolve-Chain/internal/registry"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// statusOf 将统一错误码映射为 HTTP 状态码。
func statusOf(code xerrors.Code) int {
	switch code {
	case evolution.CodeNotFound, registry.CodeAssetNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case evolution.CodeCooldownActive:
		return http.StatusTooManyRequests
	case evolution.CodeOracleUnavailable, xerrors.CodeUnavailable, xerrors.CodeTimeout:
		return http.StatusServiceUnavailable
	case evolution.CodeInvalidSignal:
		return http.StatusBadGateway
	case evolution.CodeInvalidLevel, evolution.CodeStageMismatch, policy.CodeInvalid,
		registry.CodeInvalidOwner, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case evolution.CodeRecordExists, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusOf(code)
	detail := errorDetail{Code: string(code), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		detail.Metadata = e.Metadata()
		if retry, ok := detail.Metadata["retry_after_seconds"]; ok {
			w.Header().Set("Retry-After", retry)
		}
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败", "code", code, "error", err)
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func parseAssetID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败: "+err.Error())
		return false
	}
	return true
}
