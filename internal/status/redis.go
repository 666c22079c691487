package status

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/workflow"
)

// RedisConfig 描述 Redis 状态表的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	// StaleAfter 之后仍未结束的进行中条目不再阻止新的尝试，0 表示永不过期。
	StaleAfter time.Duration
}

// 每个智能体一个 hash，写入通过脚本在服务端原子完成。
var (
	beginScript = redis.NewScript(`
if ARGV[1] == '1' then
  local current = redis.call('HGET', KEYS[1], 'status')
  if current == 'pending' or current == 'running' then
    local stale = tonumber(ARGV[9])
    local updated = tonumber(redis.call('HGET', KEYS[1], 'updated_ms') or '0') or 0
    if stale == 0 or updated + stale > tonumber(ARGV[8]) then
      return 0
    end
  end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'agent', ARGV[2], 'attempt_id', ARGV[3], 'status', ARGV[4], 'message', ARGV[5], 'data', ARGV[6], 'updated_at', ARGV[7], 'updated_ms', ARGV[8])
redis.call('SADD', KEYS[2], ARGV[2])
return 1
`)

	updateScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'attempt_id') ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'message', ARGV[3], 'data', ARGV[4], 'updated_at', ARGV[5], 'updated_ms', ARGV[6])
return 1
`)

	resolveScript = redis.NewScript(`
local attempt = redis.call('HGET', KEYS[1], 'attempt_id')
if not attempt then
  attempt = ''
end
redis.call('HSET', KEYS[1], 'agent', ARGV[1], 'attempt_id', attempt, 'status', ARGV[2], 'message', ARGV[3], 'data', ARGV[4], 'updated_at', ARGV[5], 'updated_ms', ARGV[6])
redis.call('SADD', KEYS[2], ARGV[1])
return attempt
`)
)

// RedisStore 使用 Redis hash 保存状态表，适合多进程共享。
type RedisStore struct {
	client     *redis.Client
	prefix     string
	staleAfter time.Duration
	now        func() time.Time
}

// RedisOption 定义 RedisStore 的可选配置。
type RedisOption func(*RedisStore)

// WithStaleAfter 让长时间未更新的进行中条目（例如进程崩溃后遗留的条目）
// 不再阻止同一智能体的新尝试。
func WithStaleAfter(d time.Duration) RedisOption {
	return func(r *RedisStore) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// WithRedisClock 替换时间来源。
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *RedisStore) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRedisStore 连接 Redis 并创建状态表。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewRedisStoreWithClient(client, cfg.Prefix, WithStaleAfter(cfg.StaleAfter)), nil
}

// NewRedisStoreWithClient 复用已有的 Redis 客户端。
func NewRedisStoreWithClient(client *redis.Client, prefix string, opts ...RedisOption) *RedisStore {
	if prefix == "" {
		prefix = "skyagents:status"
	}
	r := &RedisStore{client: client, prefix: prefix, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *RedisStore) key(agent string) string {
	return r.prefix + ":agent:" + agent
}

func (r *RedisStore) indexKey() string {
	return r.prefix + ":agents"
}

// Begin 实现 Store 接口。
func (r *RedisStore) Begin(ctx context.Context, agent, attemptID string, result workflow.ExecutionResult, exclusive bool) error {
	if err := validAgent(agent); err != nil {
		return err
	}
	flag := "0"
	if exclusive {
		flag = "1"
	}
	applied, err := beginScript.Run(ctx, r.client, []string{r.key(agent), r.indexKey()},
		flag, agent, attemptID, string(result.Status), result.Message, string(result.Data), r.timestamp(),
		r.millis(), r.staleAfter.Milliseconds()).Int()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入执行状态失败")
	}
	if applied == 0 {
		return xerrors.New(xerrors.CodeAttemptInProgress, "")
	}
	return nil
}

// Update 实现 Store 接口。
func (r *RedisStore) Update(ctx context.Context, agent, attemptID string, result workflow.ExecutionResult) (bool, error) {
	if err := validAgent(agent); err != nil {
		return false, err
	}
	applied, err := updateScript.Run(ctx, r.client, []string{r.key(agent)},
		attemptID, string(result.Status), result.Message, string(result.Data), r.timestamp(), r.millis()).Int()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新执行状态失败")
	}
	return applied == 1, nil
}

// Resolve 实现 Store 接口。
func (r *RedisStore) Resolve(ctx context.Context, agent string, result workflow.ExecutionResult) (string, error) {
	if err := validAgent(agent); err != nil {
		return "", err
	}
	attemptID, err := resolveScript.Run(ctx, r.client, []string{r.key(agent), r.indexKey()},
		agent, string(result.Status), result.Message, string(result.Data), r.timestamp(), r.millis()).Text()
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入执行结果失败")
	}
	return attemptID, nil
}

// Get 实现 Store 接口。
func (r *RedisStore) Get(ctx context.Context, agent string) (Entry, error) {
	fields, err := r.client.HGetAll(ctx, r.key(agent)).Result()
	if err != nil {
		return Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取执行状态失败")
	}
	if len(fields) == 0 {
		return Entry{}, ErrNotFound
	}
	return decodeEntry(agent, fields)
}

// List 实现 Store 接口。
func (r *RedisStore) List(ctx context.Context) ([]Entry, error) {
	agents, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取状态索引失败")
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(agents))
	for i, agent := range agents {
		cmds[i] = pipe.HGetAll(ctx, r.key(agent))
	}
	if len(agents) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取执行状态失败")
		}
	}
	entries := make([]Entry, 0, len(agents))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		entry, err := decodeEntry(agents[i], fields)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Agent < entries[j].Agent })
	return entries, nil
}

// Close 关闭 Redis 连接。
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) timestamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

func (r *RedisStore) millis() int64 {
	return r.now().UnixMilli()
}

func decodeEntry(agent string, fields map[string]string) (Entry, error) {
	status := workflow.Status(fields["status"])
	if !status.Valid() {
		return Entry{}, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("agent %s has invalid status %q", agent, status))
	}
	entry := Entry{
		ExecutionResult: workflow.ExecutionResult{Status: status, Message: fields["message"]},
		Agent:           agent,
		AttemptID:       fields["attempt_id"],
	}
	if data := fields["data"]; data != "" {
		entry.Data = []byte(data)
	}
	if ts := fields["updated_at"]; ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err == nil {
			entry.UpdatedAt = parsed
		}
	}
	return entry, nil
}
