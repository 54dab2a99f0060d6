package vm

import (
	"github.com/tliron/commonlog"
)

var (
	gcLog = commonlog.GetLogger("mlrt.gc")
	vmLog = commonlog.GetLogger("mlrt.vm")
)
