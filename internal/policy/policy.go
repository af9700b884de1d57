package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"Evolve-Chain/internal/config"
	xerrors "Evolve-Chain/internal/errors"
	"Evolve-Chain/internal/oracle"
	"Evolve-Chain/pkg/logger"
)

// CodeInvalid marks a policy write that would break an invariant.
const CodeInvalid xerrors.Code = "POLICY_INVALID"

// ErrInvalid is the sentinel for rejected policy writes.
var ErrInvalid = xerrors.New(CodeInvalid, "invalid evolution policy")

func init() {
	xerrors.Register(CodeInvalid, xerrors.Attributes{
		Message:  "invalid evolution policy",
		Severity: xerrors.SeverityInfo,
	})
}

// Policy is the process-wide evolution policy. Values are immutable once
// published by a Store; writers publish a modified copy.
type Policy struct {
	LowThreshold  decimal.Decimal `json:"low_threshold"`
	HighThreshold decimal.Decimal `json:"high_threshold"`
	Cooldown      time.Duration   `json:"cooldown"`
	MinCooldown   time.Duration   `json:"min_cooldown"`
	MaxCooldown   time.Duration   `json:"max_cooldown"`
}

// FromConfig converts the file/env representation into a Policy.
func FromConfig(cfg config.PolicyConfig) Policy {
	return Policy{
		LowThreshold:  cfg.LowThreshold,
		HighThreshold: cfg.HighThreshold,
		Cooldown:      time.Duration(cfg.CooldownSeconds) * time.Second,
		MinCooldown:   time.Duration(cfg.MinCooldownSeconds) * time.Second,
		MaxCooldown:   time.Duration(cfg.MaxCooldownSeconds) * time.Second,
	}
}

// Validate reports every violated invariant.
func (p Policy) Validate() error {
	var errs []error
	if !p.LowThreshold.IsPositive() {
		errs = append(errs, fmt.Errorf("low threshold %s must be positive", p.LowThreshold))
	}
	if !p.HighThreshold.IsPositive() {
		errs = append(errs, fmt.Errorf("high threshold %s must be positive", p.HighThreshold))
	}
	if !p.LowThreshold.LessThan(p.HighThreshold) {
		errs = append(errs, fmt.Errorf("low threshold %s must be below high threshold %s", p.LowThreshold, p.HighThreshold))
	}
	if p.MinCooldown <= 0 {
		errs = append(errs, fmt.Errorf("minimum cooldown %s must be positive", p.MinCooldown))
	}
	if p.MaxCooldown < p.MinCooldown {
		errs = append(errs, fmt.Errorf("cooldown bounds [%s, %s] are inverted", p.MinCooldown, p.MaxCooldown))
	}
	if p.Cooldown < p.MinCooldown || p.Cooldown > p.MaxCooldown {
		errs = append(errs, fmt.Errorf("cooldown %s outside [%s, %s]", p.Cooldown, p.MinCooldown, p.MaxCooldown))
	}
	if len(errs) == 0 {
		return nil
	}
	return xerrors.Wrap(CodeInvalid, errors.Join(errs...), "invalid evolution policy")
}

// Store publishes the active policy and oracle handle. Reads are lock-free
// snapshots; writes are serialized and validated before they become visible.
type Store struct {
	writeMu sync.Mutex
	current atomic.Pointer[Policy]
	oracle  atomic.Pointer[oracleHandle]
}

type oracleHandle struct {
	name   string
	oracle oracle.Oracle
}

// NewStore validates the initial policy and oracle.
func NewStore(initial Policy, name string, o oracle.Oracle) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	if o == nil {
		return nil, xerrors.New(CodeInvalid, "oracle handle is required")
	}
	s := &Store{}
	s.current.Store(&initial)
	s.oracle.Store(&oracleHandle{name: name, oracle: o})
	return s, nil
}

// Snapshot returns the active policy.
func (s *Store) Snapshot() Policy {
	return *s.current.Load()
}

// Oracle returns the active oracle handle.
func (s *Store) Oracle() oracle.Oracle {
	return s.oracle.Load().oracle
}

// OracleName returns the label of the active oracle.
func (s *Store) OracleName() string {
	return s.oracle.Load().name
}

// SetThresholds replaces the low/high pair atomically.
func (s *Store) SetThresholds(low, high decimal.Decimal) (Policy, error) {
	return s.update("thresholds", func(p *Policy) {
		p.LowThreshold = low
		p.HighThreshold = high
	})
}

// SetCooldown replaces the cooldown duration; it must stay inside the
// configured bounds.
func (s *Store) SetCooldown(cooldown time.Duration) (Policy, error) {
	return s.update("cooldown", func(p *Policy) {
		p.Cooldown = cooldown
	})
}

// SetOracle swaps the active oracle handle.
func (s *Store) SetOracle(name string, o oracle.Oracle) error {
	if o == nil {
		return xerrors.New(CodeInvalid, "oracle handle is required")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	previous := s.oracle.Load().name
	s.oracle.Store(&oracleHandle{name: name, oracle: o})
	logger.Audit().Info("policy_oracle_changed",
		slog.String("previous", previous),
		slog.String("oracle", name),
	)
	return nil
}

func (s *Store) update(field string, mutate func(*Policy)) (Policy, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := *s.current.Load()
	mutate(&next)
	if err := next.Validate(); err != nil {
		return s.Snapshot(), err
	}
	s.current.Store(&next)
	logger.Audit().Info("policy_changed",
		slog.String("field", field),
		slog.String("low_threshold", next.LowThreshold.String()),
		slog.String("high_threshold", next.HighThreshold.String()),
		slog.Duration("cooldown", next.Cooldown),
	)
	return next, nil
}
