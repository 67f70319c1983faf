//go:build js && wasm

// Command wasm runs the GTU engine inside a browser page. It installs two
// functions on the JavaScript global object:
//
//	runSimulation(input, [configYAML]) -> string | {error: string}
//	gtuEngineVersion() -> string
//
// input is a JSON SimulationInput and the result a JSON SimulationLog.
// configYAML has the format of the CLI's gtu.yaml; without it the built-in
// defaults apply. Log records go to the browser console.
package main

import (
	"context"
	"log/slog"
	"os"
	"syscall/js"

	"github.com/cxd309/gtu-engine/internal/config"
	"github.com/cxd309/gtu-engine/internal/engine"
)

var version = "dev"

func main() {
	js.Global().Set("runSimulation", js.FuncOf(runSimulation))
	js.Global().Set("gtuEngineVersion", js.FuncOf(func(js.Value, []js.Value) any { return version }))
	select {}
}

func runSimulation(_ js.Value, args []js.Value) any {
	if len(args) == 0 || args[0].Type() != js.TypeString {
		return failure("runSimulation expects a JSON string")
	}
	cfg := config.Default()
	if len(args) > 1 && args[1].Type() == js.TypeString {
		var err error
		if cfg, err = config.Parse([]byte(args[1].String())); err != nil {
			return failure(err.Error())
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	out, err := engine.RunJSONContext(context.Background(), args[0].String(), engine.WithConfig(cfg), engine.WithLogger(logger))
	if err != nil {
		logger.Error("simulation failed", slog.String("error", err.Error()))
		return failure(err.Error())
	}
	return out
}

func failure(msg string) map[string]any {
	return map[string]any{"error": msg}
}
