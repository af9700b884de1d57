package evolution

import (
	xerrors "Evolve-Chain/internal/errors"
)

const (
	CodeNotFound          xerrors.Code = "EVOLUTION_NOT_FOUND"
	CodeCooldownActive    xerrors.Code = "EVOLUTION_COOLDOWN_ACTIVE"
	CodeOracleUnavailable xerrors.Code = "EVOLUTION_ORACLE_UNAVAILABLE"
	CodeInvalidSignal     xerrors.Code = "EVOLUTION_INVALID_SIGNAL"
	CodeInvalidLevel      xerrors.Code = "EVOLUTION_INVALID_LEVEL"
	CodeStageMismatch     xerrors.Code = "EVOLUTION_STAGE_MISMATCH"
	CodeRecordExists      xerrors.Code = "EVOLUTION_RECORD_EXISTS"
)

var (
	// ErrNotFound 表示资产没有进化记录。
	ErrNotFound = xerrors.New(CodeNotFound, "asset has no evolution record")
	// ErrCooldownActive 表示冷却时间尚未结束。
	ErrCooldownActive = xerrors.New(CodeCooldownActive, "evolution cooldown active")
	// ErrOracleUnavailable 表示预言机读取失败，记录未被修改。
	ErrOracleUnavailable = xerrors.New(CodeOracleUnavailable, "price oracle unavailable")
	// ErrInvalidSignal 表示预言机返回了不可用的价格，记录未被修改。
	ErrInvalidSignal = xerrors.New(CodeInvalidSignal, "invalid price signal")
	// ErrInvalidLevel 表示等级超出范围。
	ErrInvalidLevel = xerrors.New(CodeInvalidLevel, "evolution level out of range")
	// ErrStageMismatch 表示管理员覆盖时提供的阶段与等级不一致。
	ErrStageMismatch = xerrors.New(CodeStageMismatch, "stage does not match level")
	// ErrRecordExists 表示资产已经创建过进化记录。
	ErrRecordExists = xerrors.New(CodeRecordExists, "evolution record already exists")
)

func init() {
	xerrors.Register(CodeNotFound, xerrors.Attributes{
		Message:  "asset has no evolution record",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeCooldownActive, xerrors.Attributes{
		Message:   "evolution cooldown active",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
	})
	xerrors.Register(CodeOracleUnavailable, xerrors.Attributes{
		Message:   "price oracle unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeInvalidSignal, xerrors.Attributes{
		Message:   "invalid price signal",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeInvalidLevel, xerrors.Attributes{
		Message:  "evolution level out of range",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeStageMismatch, xerrors.Attributes{
		Message:  "stage does not match level",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRecordExists, xerrors.Attributes{
		Message:  "evolution record already exists",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}
