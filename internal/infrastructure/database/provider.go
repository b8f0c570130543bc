package database

import "github.com/google/wire"

// ProviderSet 提供 PostgreSQL 连接池，供视频状态写入与 /readyz 探活使用。
var ProviderSet = wire.NewSet(NewPgxPool)
