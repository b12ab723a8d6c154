package dao

// CacheEntryDAO cache_entry表的数据访问对象（内部使用）
// 过期时间以UnixNano存储，0表示永不过期，避免各数据库时间类型差异
type CacheEntryDAO struct {
	CacheKey  string `db:"cache_key"`
	Payload   []byte `db:"payload"`
	ExpiresAt int64  `db:"expires_at"`
	CreatedAt int64  `db:"created_at"`
}
