package cache

import "github.com/tliron/commonlog"

var logger = commonlog.GetLogger("typstd.cache")
