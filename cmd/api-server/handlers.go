package main

import (
	"github.com/maumercado/coprocrt/internal/bridge"
	"github.com/maumercado/coprocrt/internal/diag"
	"github.com/maumercado/coprocrt/internal/handlers"
	"github.com/maumercado/coprocrt/internal/scheduler"
)

// registerDemoHandlers wires the example echo/sleep/compute/fail
// coprocess bodies into the diag API's spawn-by-type registry.
func registerDemoHandlers(reg *diag.HandlerRegistry, sched *scheduler.Scheduler) {
	reg.Register("echo", diag.Handler(handlers.Echo))
	reg.Register("sleep", diag.Handler(handlers.Sleep(sched)))
	reg.Register("compute", diag.Handler(handlers.Compute(sched)))
	reg.Register("fail", diag.Handler(handlers.Fail))
}

// registerBridgeHandlers wires the same example bodies into the bridge's
// remote-spawn registry, so a SpawnRequest arriving from another process
// can ask this one to run them too.
func registerBridgeHandlers(reg *bridge.HandlerRegistry, sched *scheduler.Scheduler) {
	reg.Register("echo", bridge.SpawnHandler(handlers.Echo))
	reg.Register("sleep", bridge.SpawnHandler(handlers.Sleep(sched)))
	reg.Register("compute", bridge.SpawnHandler(handlers.Compute(sched)))
	reg.Register("fail", bridge.SpawnHandler(handlers.Fail))
}
