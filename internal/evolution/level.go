package evolution

import (
	"fmt"
	"strings"

	xerrors "Evolve-Chain/internal/errors"
)

// Level is the evolution rank of an asset.
type Level int

const (
	LevelSeedling Level = iota + 1
	LevelSprout
	LevelSapling
	LevelTree
	LevelAncientTree
)

const (
	MinLevel = LevelSeedling
	MaxLevel = LevelAncientTree
)

// Stage is the human-readable label of a level.
type Stage string

const (
	StageSeedling    Stage = "Seedling"
	StageSprout      Stage = "Sprout"
	StageSapling     Stage = "Sapling"
	StageTree        Stage = "Tree"
	StageAncientTree Stage = "Ancient Tree"
)

// Valid reports whether l lies in [MinLevel, MaxLevel].
func (l Level) Valid() bool {
	return l >= MinLevel && l <= MaxLevel
}

// MapLevelToStage returns the stage label of level. Levels outside
// [MinLevel, MaxLevel] yield ErrInvalidLevel.
func MapLevelToStage(level Level) (Stage, error) {
	switch level {
	case LevelSeedling:
		return StageSeedling, nil
	case LevelSprout:
		return StageSprout, nil
	case LevelSapling:
		return StageSapling, nil
	case LevelTree:
		return StageTree, nil
	case LevelAncientTree:
		return StageAncientTree, nil
	default:
		return "", xerrors.Wrap(CodeInvalidLevel, ErrInvalidLevel, fmt.Sprintf("level %d outside [%d, %d]", level, MinLevel, MaxLevel))
	}
}

// mustStage is used on paths that have already clamped level into range.
func mustStage(level Level) Stage {
	stage, err := MapLevelToStage(level)
	if err != nil {
		panic(err)
	}
	return stage
}

// Slug renders the stage for URLs and metadata file names.
func (s Stage) Slug() string {
	return strings.ReplaceAll(strings.ToLower(string(s)), " ", "-")
}
