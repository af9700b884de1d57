package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	xerrors "Evolve-Chain/internal/errors"
	"Evolve-Chain/internal/evolution"
	"Evolve-Chain/internal/storage/sqldb"
)

// Journal 把事件追加写入 evolution_events 表，重启时可据此恢复最新状态。
type Journal struct {
	db    *sql.DB
	clock func() time.Time
}

// NewJournal 基于已迁移的数据库创建流水。
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db, clock: time.Now}
}

// Name 实现 Sink。
func (j *Journal) Name() string { return "journal" }

// Publish 实现 Sink。
func (j *Journal) Publish(ctx context.Context, event Event) error {
	const stmt = `INSERT INTO evolution_events
        (id, asset_id, level, stage, reason, occurred_at, written_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := j.db.ExecContext(ctx, stmt,
		event.ID,
		event.AssetID,
		int(event.Level),
		string(event.Stage),
		string(event.Reason),
		event.At.UnixNano(),
		j.clock().UnixNano(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入进化流水失败")
	}
	return nil
}

// SaveLastCheck 记录最近一次有效评估的时间，较早的时间不会覆盖已有值。
func (j *Journal) SaveLastCheck(ctx context.Context, assetID uint64, at time.Time) error {
	ts := at.UnixNano()
	res, err := j.db.ExecContext(ctx,
		`UPDATE evolution_checks SET last_check = ? WHERE asset_id = ? AND last_check < ?`, ts, assetID, ts)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新评估时间失败")
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO evolution_checks (asset_id, last_check) VALUES (?, ?)`, assetID, ts)
	// 主键冲突说明已有不早于 at 的记录。
	if err != nil && !sqldb.IsDuplicateKey(err) {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入评估时间失败")
	}
	return nil
}

// LatestStates 返回每个资产最后一次写入的等级，LastCheck 取事件时间与评估时间中较晚者。
func (j *Journal) LatestStates(ctx context.Context) ([]evolution.Record, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT asset_id, level, occurred_at FROM evolution_events
        ORDER BY asset_id, occurred_at, written_at`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询进化流水失败")
	}
	defer rows.Close()

	var (
		records []evolution.Record
		current *evolution.Record
	)
	for rows.Next() {
		var (
			assetID  uint64
			level    int
			occurred int64
		)
		if err := rows.Scan(&assetID, &level, &occurred); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析进化流水失败")
		}
		if current == nil || current.AssetID != assetID {
			records = append(records, evolution.Record{AssetID: assetID})
			current = &records[len(records)-1]
		}
		current.Level = evolution.Level(level)
		current.LastCheck = time.Unix(0, occurred).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历进化流水失败")
	}
	rows.Close()

	if err := j.mergeChecks(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// mergeChecks 用 evolution_checks 中的时间推进 LastCheck，没有流水的资产不在此补建。
func (j *Journal) mergeChecks(ctx context.Context, records []evolution.Record) error {
	if len(records) == 0 {
		return nil
	}
	index := make(map[uint64]int, len(records))
	for i, rec := range records {
		index[rec.AssetID] = i
	}

	rows, err := j.db.QueryContext(ctx, `SELECT asset_id, last_check FROM evolution_checks`)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询评估时间失败")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			assetID uint64
			checked int64
		)
		if err := rows.Scan(&assetID, &checked); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析评估时间失败")
		}
		i, ok := index[assetID]
		if !ok {
			continue
		}
		if at := time.Unix(0, checked).UTC(); at.After(records[i].LastCheck) {
			records[i].LastCheck = at
		}
	}
	if err := rows.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历评估时间失败")
	}
	return nil
}

// History 返回单个资产最近的 limit 条事件，按发生顺序排列。
func (j *Journal) History(ctx context.Context, assetID uint64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `SELECT id, asset_id, level, stage, reason, occurred_at FROM (
            SELECT id, asset_id, level, stage, reason, occurred_at, written_at FROM evolution_events
            WHERE asset_id = ? ORDER BY occurred_at DESC, written_at DESC LIMIT ?
        ) recent ORDER BY occurred_at, written_at`, assetID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("查询资产 %d 的流水失败", assetID))
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			event    Event
			level    int
			stage    string
			reason   string
			occurred int64
		)
		if err := rows.Scan(&event.ID, &event.AssetID, &level, &stage, &reason, &occurred); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析进化流水失败")
		}
		event.Level = evolution.Level(level)
		event.Stage = evolution.Stage(stage)
		event.Reason = evolution.Reason(reason)
		event.At = time.Unix(0, occurred).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历进化流水失败")
	}
	return events, nil
}
