package adapter

import logx "orderbot/pkg/logx"

func nopLogger() logx.Logger { return logx.Nop() }
