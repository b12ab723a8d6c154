// Package sqlstore 基于sqlx的持久化缓存存储，方言由 storage.Dialect 决定
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/statflow/pkg/storage"
	"github.com/LENAX/statflow/pkg/storage/dao"
)

const cacheEntryTable = "cache_entry"

var cacheEntryColumns = []string{"cache_key", "payload", "expires_at", "created_at"}

// Option 仓储选项
type Option func(*CacheEntryRepo)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(r *CacheEntryRepo) { r.now = now }
}

// CacheEntryRepo 缓存条目Repository的sqlx实现（对外导出）
type CacheEntryRepo struct {
	db        *sqlx.DB
	dialect   storage.Dialect
	upsertSQL string
	now       func() time.Time
}

// NewCacheEntryRepo 基于已有连接创建Repository（对外导出）
func NewCacheEntryRepo(db *sqlx.DB, dialect storage.Dialect, opts ...Option) (*CacheEntryRepo, error) {
	repo := &CacheEntryRepo{
		db:        db,
		dialect:   dialect,
		upsertSQL: dialect.UpsertSQL(cacheEntryTable, cacheEntryColumns, "cache_key"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(repo)
	}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return repo, nil
}

// NewCacheEntryRepoFromDSN 通过DSN创建Repository（对外导出）
func NewCacheEntryRepoFromDSN(dialect storage.Dialect, dsn string, opts ...Option) (*CacheEntryRepo, error) {
	db, err := Open(dialect, dsn)
	if err != nil {
		return nil, err
	}
	repo, err := NewCacheEntryRepo(db, dialect, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Open 打开并配置数据库连接
func Open(dialect storage.Dialect, dsn string) (*sqlx.DB, error) {
	dsn, err := dialect.PrepareDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	for _, stmt := range dialect.SessionSQL() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("配置%s失败: %w", dialect.Name(), err)
		}
	}
	return db, nil
}

// GetDB 获取底层数据库连接（对外导出）
func (r *CacheEntryRepo) GetDB() *sqlx.DB {
	return r.db
}

// Close 关闭数据库连接（对外导出）
func (r *CacheEntryRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// initSchema 初始化数据库表结构
func (r *CacheEntryRepo) initSchema() error {
	createSQL := `
	CREATE TABLE IF NOT EXISTS cache_entry (
		cache_key VARCHAR(255) PRIMARY KEY,
		payload BLOB NOT NULL,
		expires_at BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL DEFAULT 0
	);`
	if _, err := r.db.Exec(r.dialect.CreateTableSQL(createSQL)); err != nil {
		return fmt.Errorf("创建cache_entry表失败: %w", err)
	}
	return nil
}

// Get 读取未过期条目，过期条目顺带删除
func (r *CacheEntryRepo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row dao.CacheEntryDAO
	query := r.db.Rebind("SELECT cache_key, payload, expires_at, created_at FROM cache_entry WHERE cache_key = ?")
	if err := r.db.GetContext(ctx, &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("查询缓存条目失败: %w", err)
	}

	entry := daoToEntry(&row)
	if entry.Expired(r.now()) {
		if err := r.Delete(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return entry.Payload, true, nil
}

// Put 写入或覆盖条目
func (r *CacheEntryRepo) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := r.now()
	row := dao.CacheEntryDAO{
		CacheKey:  key,
		Payload:   data,
		CreatedAt: now.UnixNano(),
	}
	if ttl > 0 {
		row.ExpiresAt = now.Add(ttl).UnixNano()
	}
	if _, err := r.db.NamedExecContext(ctx, r.upsertSQL, &row); err != nil {
		return fmt.Errorf("写入缓存条目失败: %w", err)
	}
	return nil
}

// Delete 删除条目
func (r *CacheEntryRepo) Delete(ctx context.Context, key string) error {
	query := r.db.Rebind("DELETE FROM cache_entry WHERE cache_key = ?")
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("删除缓存条目失败: %w", err)
	}
	return nil
}

// Clear 清空所有条目
func (r *CacheEntryRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM cache_entry"); err != nil {
		return fmt.Errorf("清空缓存失败: %w", err)
	}
	return nil
}

// PurgeExpired 删除所有已过期条目
func (r *CacheEntryRepo) PurgeExpired(ctx context.Context) (int64, error) {
	query := r.db.Rebind("DELETE FROM cache_entry WHERE expires_at > 0 AND expires_at <= ?")
	res, err := r.db.ExecContext(ctx, query, r.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("清理过期缓存失败: %w", err)
	}
	return res.RowsAffected()
}

// Count 条目总数
func (r *CacheEntryRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM cache_entry"); err != nil {
		return 0, fmt.Errorf("统计缓存条目失败: %w", err)
	}
	return n, nil
}

func daoToEntry(row *dao.CacheEntryDAO) *storage.CacheEntry {
	entry := &storage.CacheEntry{
		Key:     row.CacheKey,
		Payload: row.Payload,
	}
	if row.ExpiresAt > 0 {
		entry.ExpiresAt = time.Unix(0, row.ExpiresAt)
	}
	if row.CreatedAt > 0 {
		entry.CreatedAt = time.Unix(0, row.CreatedAt)
	}
	return entry
}

// 确保实现接口
var _ storage.CacheEntryRepository = (*CacheEntryRepo)(nil)
