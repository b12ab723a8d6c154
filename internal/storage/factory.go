package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/LENAX/statflow/pkg/storage"
	"github.com/LENAX/statflow/pkg/storage/mysql"
	"github.com/LENAX/statflow/pkg/storage/postgres"
	pkgsqlite "github.com/LENAX/statflow/pkg/storage/sqlite"
	"github.com/LENAX/statflow/pkg/storage/sqlstore"
)

// ConnectOptions 连接重试参数（内部使用）
type ConnectOptions struct {
	MaxRetries uint64
	MaxElapsed time.Duration
}

// DialectFor 根据数据库类型返回方言（内部方法）
// dbType: 数据库类型（sqlite/mysql/postgres）
func DialectFor(dbType string) (storage.Dialect, error) {
	switch dbType {
	case "sqlite":
		return pkgsqlite.NewSQLiteDialect(), nil
	case "mysql":
		return mysql.NewMySQLDialect(), nil
	case "postgres", "postgresql":
		return postgres.NewPostgresDialect(), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// NewCacheEntryRepo 创建持久化缓存Repository，连接失败按指数退避重试（内部方法）
func NewCacheEntryRepo(ctx context.Context, dbType, dsn string, opts ConnectOptions) (storage.CacheEntryRepository, error) {
	dialect, err := DialectFor(dbType)
	if err != nil {
		return nil, err
	}

	eb := backoff.NewExponentialBackOff()
	if opts.MaxElapsed > 0 {
		eb.MaxElapsedTime = opts.MaxElapsed
	}
	var b backoff.BackOff = eb
	if opts.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, opts.MaxRetries)
	}

	var repo *sqlstore.CacheEntryRepo
	attempt := 0
	operation := func() error {
		attempt++
		r, err := sqlstore.NewCacheEntryRepoFromDSN(dialect, dsn)
		if err != nil {
			log.Printf("⚠️ [Storage] 连接%s失败（第%d次）: %v", dialect.Name(), attempt, err)
			return err
		}
		repo = r
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("create %s cache repository failed: %w", dialect.Name(), err)
	}

	log.Printf("✅ [Storage] 持久化缓存已连接: %s", dialect.Name())
	return repo, nil
}
