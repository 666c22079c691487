package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/workflow"
	"SkyAgents-Hub/pkg/logger"
)

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SkipMigrations  bool
}

// SQLStore 使用 MySQL 保存执行记录。
type SQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewMySQLStore 创建连接池、校验连通性并执行内置迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*SQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	parsed, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "MySQL DSN 无效")
	}
	connector, err := mysql.NewConnector(parsed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 MySQL 连接器失败")
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(positiveOr(cfg.MaxOpenConns, 10))
	db.SetMaxIdleConns(positiveOr(cfg.MaxIdleConns, 5))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := NewSQLStore(db)
	store.logger.Info("已连接 MySQL", slog.String("addr", parsed.Addr), slog.String("db", parsed.DBName))
	if !cfg.SkipMigrations {
		if err := store.runMigrations(ctx); err != nil {
			_ = db.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "")
		}
	}
	return store, nil
}

// NewSQLStore 包装已有连接池，不执行迁移。
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, logger: logger.Named("history")}
}

// Migrate 显式执行内置迁移。
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.runMigrations(ctx)
}

// Save 实现 Store 接口；同一 attempt 重复写入时更新结果。
func (s *SQLStore) Save(ctx context.Context, record Record) error {
	if record.AttemptID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "attempt id is empty")
	}
	const stmt = `INSERT INTO execution_attempts
        (attempt_id, agent_name, agent_id, prompt, status, message, data, step_count, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE status = VALUES(status), message = VALUES(message), data = VALUES(data), finished_at = VALUES(finished_at)`

	var data any
	if len(record.Data) > 0 {
		data = string(record.Data)
	}
	if _, err := s.db.ExecContext(ctx, stmt,
		record.AttemptID,
		record.Agent,
		record.AgentID,
		record.Prompt,
		string(record.Status),
		record.Message,
		data,
		record.Steps,
		record.StartedAt.UnixMilli(),
		record.FinishedAt.UnixMilli(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入执行记录失败")
	}
	return nil
}

// List 实现 Store 接口。
func (s *SQLStore) List(ctx context.Context, query Query) ([]Record, error) {
	base := `SELECT attempt_id, agent_name, agent_id, prompt, status, message, data, step_count, started_at, finished_at
        FROM execution_attempts`
	args := make([]any, 0, 2)
	if query.Agent != "" {
		base += ` WHERE agent_name = ?`
		args = append(args, query.Agent)
	}
	base += ` ORDER BY finished_at DESC LIMIT ?`
	args = append(args, query.limit())

	rows, err := s.db.QueryContext(ctx, base, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行记录失败")
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			record     Record
			status     string
			data       []byte
			startedAt  int64
			finishedAt int64
		)
		if err := rows.Scan(&record.AttemptID, &record.Agent, &record.AgentID, &record.Prompt,
			&status, &record.Message, &data, &record.Steps, &startedAt, &finishedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行记录失败")
		}
		record.Status = workflow.Status(status)
		if len(data) > 0 {
			record.Data = json.RawMessage(data)
		}
		record.StartedAt = time.UnixMilli(startedAt).UTC()
		record.FinishedAt = time.UnixMilli(finishedAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历执行记录失败")
	}
	return records, nil
}

// Close 关闭连接池。
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
