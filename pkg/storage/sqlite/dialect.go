// Package sqlite 本地缓存库和默认数仓使用的SQLite方言
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/LENAX/statflow/pkg/storage"
)

// SQLiteDialect SQLite方言（对外导出）
type SQLiteDialect struct{}

// NewSQLiteDialect 创建SQLite方言
func NewSQLiteDialect() *SQLiteDialect {
	return &SQLiteDialect{}
}

func (d *SQLiteDialect) Name() string { return "sqlite" }

func (d *SQLiteDialect) DriverName() string { return "sqlite3" }

// PrepareDSN 数据库文件所在目录不存在时先创建
// 支持 file: 前缀和查询参数；内存库不处理
func (d *SQLiteDialect) PrepareDSN(dsn string) (string, error) {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return dsn, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("创建sqlite目录失败: %w", err)
	}
	return dsn, nil
}

// UpsertSQL INSERT ... ON CONFLICT DO UPDATE，保留行而不是先删后插
// 没有可覆盖的列时冲突即忽略
func (d *SQLiteDialect) UpsertSQL(table string, columns []string, keyColumns ...string) string {
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), storage.NamedValues(columns))
	values := storage.ValueColumns(columns, keyColumns)
	if len(values) == 0 {
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", insert, strings.Join(keyColumns, ", "))
	}
	sets := make([]string, len(values))
	for i, col := range values {
		sets[i] = col + " = excluded." + col
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", insert, strings.Join(keyColumns, ", "), strings.Join(sets, ", "))
}

// CreateTableSQL 表结构本身就是SQLite写法
func (d *SQLiteDialect) CreateTableSQL(ddl string) string {
	return ddl
}

// SessionSQL WAL模式下缓存写入与数仓读取可以并发
func (d *SQLiteDialect) SessionSQL() []string {
	return []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=30000;",
		"PRAGMA synchronous=NORMAL;",
	}
}

var _ storage.Dialect = (*SQLiteDialect)(nil)
