package storage

import "strings"

// Dialect 缓存表与数仓表用到的SQL方言差异（对外导出）
// 表结构统一按SQLite写法声明，由方言转换
type Dialect interface {
	// Name 方言名称，与配置中的driver一致（sqlite / mysql / postgres）
	Name() string

	// DriverName database/sql驱动名
	DriverName() string

	// PrepareDSN 打开连接前处理DSN（如创建sqlite文件目录）
	PrepareDSN(dsn string) (string, error)

	// UpsertSQL 按冲突键写入一行，其余列覆盖（sqlx命名参数形式）
	// cache_entry 以 cache_key 为键；数仓表以 game_id 或经纬度为键
	UpsertSQL(table string, columns []string, keyColumns ...string) string

	// CreateTableSQL 把SQLite写法的建表语句转换为当前方言
	CreateTableSQL(ddl string) string

	// SessionSQL 连接建立后执行的设置
	SessionSQL() []string
}

// NamedValues 列名转为sqlx命名参数列表，如 ":a, :b"
func NamedValues(columns []string) string {
	named := make([]string, len(columns))
	for i, col := range columns {
		named[i] = ":" + col
	}
	return strings.Join(named, ", ")
}

// ValueColumns 去掉冲突键后需要覆盖的列
func ValueColumns(columns, keyColumns []string) []string {
	keys := make(map[string]bool, len(keyColumns))
	for _, k := range keyColumns {
		keys[k] = true
	}
	out := make([]string, 0, len(columns))
	for _, col := range columns {
		if !keys[col] {
			out = append(out, col)
		}
	}
	return out
}
