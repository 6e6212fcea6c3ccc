package poller

import logx "matchcall/pkg/logx"

func testLog() logx.Logger { return logx.Nop() }
