package logger

import "github.com/google/wire"

// ProviderSet 提供带服务元数据与 trace 字段的 Logger。
var ProviderSet = wire.NewSet(NewLogger)
