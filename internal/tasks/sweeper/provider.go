package sweeper

import "github.com/google/wire"

// ProviderSet 提供 Sweeper。
var ProviderSet = wire.NewSet(New)
