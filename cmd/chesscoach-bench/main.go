// Command chesscoach-bench runs a fixed-node-count search over a handful
// of demo positions and reports nodes-per-second, the way a chess engine's
// bench command establishes a reproducible performance baseline across
// commits.
//
// Grounded on pkg/bench's fixed-node-count progress-line style and on
// ChizhovVadim-CounterGo/cmd/arena/arena.go's fixed-node-count timing loop,
// adapted from a versus-arena match runner to a single-engine throughput
// benchmark. Styling uses github.com/muesli/termenv, the teacher's own
// terminal-output dependency, carried over here since this is the one
// command in the module writing to a terminal a human watches rather than
// a UCI-parsed pipe.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/muesli/termenv"

	"github.com/chesscoach/enginecore/internal/mockgame"
	"github.com/chesscoach/enginecore/pkg/cache"
	"github.com/chesscoach/enginecore/pkg/node"
	"github.com/chesscoach/enginecore/pkg/search"
)

const imagePlanes = 112 * 8 * 8

var output = termenv.NewOutput(os.Stdout)

func main() {
	nodes := flag.Int64("nodes", 200_000, "fixed node budget per position")
	threads := flag.Int("threads", 1, "search worker threads")
	parallelism := flag.Int("parallelism", 8, "concurrent games per worker thread")
	cacheGiB := flag.Int("cache-gib", 1, "prediction cache size in GiB")
	flag.Parse()

	c := cache.New()
	if err := c.Allocate(*cacheGiB, 0); err != nil {
		fmt.Fprintf(os.Stderr, "chesscoach-bench: %v\n", err)
		os.Exit(1)
	}

	positions := []struct {
		name string
		kind mockgame.Kind
	}{
		{"open-middlegame", mockgame.KindOpen},
		{"rook-mate-in-two", mockgame.KindRookMateInTwo},
	}

	evaluator := mockgame.UniformEvaluator{Value: 0.5}
	tablebase := mockgame.NoTablebase{}

	var totalNodes int64
	var totalElapsed time.Duration

	for _, p := range positions {
		pos := mockgame.New(p.kind, 24, 7)
		root := node.NewRoot()
		cfg := search.DefaultConfig(imagePlanes)
		ctl := search.NewController(root, pos, c, evaluator, tablebase, cfg)

		limits := search.DefaultLimits()
		limits.SetNodes(*nodes)
		limits.SetThreads(*threads)
		limits.SetParallelism(*parallelism)

		start := time.Now()
		best := ctl.Run(context.Background(), limits, false)
		elapsed := time.Since(start)

		nps := float64(*nodes) / elapsed.Seconds()
		name := output.String(fmt.Sprintf("%-20s", p.name)).Bold()
		move := output.String(best.String()).Foreground(termenv.ANSIBrightGreen)
		fmt.Printf("%s bestmove %-8s nodes %-10d time %8s nps %.0f\n",
			name, move, *nodes, elapsed.Round(time.Millisecond), nps)

		totalNodes += *nodes
		totalElapsed += elapsed
		c.Clear()
	}

	summary := output.String(fmt.Sprintf("\ntotal nps %.0f, cache %.1f%% full\n",
		float64(totalNodes)/totalElapsed.Seconds(), float64(c.PermilleFull())/10)).Bold()
	fmt.Print(summary)
}
