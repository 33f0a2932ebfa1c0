// Command chesscoach-uci is the UCI-speaking front end over the search
// core: it wires internal/uciio's protocol shell to a search.Controller,
// backed by internal/mockgame's demo board when no chess-rules
// implementation is linked in, or a real neural network via
// internal/onnxeval when -model is given.
//
// Grounded on ChizhovVadim-CounterGo/cmd/counter/main.go's flag-driven
// engine construction and stdin/stdout wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"runtime"
	"sync"

	"github.com/chesscoach/enginecore/internal/mockgame"
	"github.com/chesscoach/enginecore/internal/onnxeval"
	"github.com/chesscoach/enginecore/internal/statshttp"
	"github.com/chesscoach/enginecore/internal/uciio"
	"github.com/chesscoach/enginecore/pkg/cache"
	"github.com/chesscoach/enginecore/pkg/node"
	"github.com/chesscoach/enginecore/pkg/position"
	"github.com/chesscoach/enginecore/pkg/search"
)

const imagePlanes = 112 * 8 * 8

func main() {
	cacheGiB := flag.Int("cache-gib", 1, "requested prediction cache size in GiB (power of two)")
	minCacheGiB := flag.Int("min-cache-gib", 0, "minimum acceptable cache size in GiB; 0 disables the floor")
	threads := flag.Int("threads", runtime.NumCPU(), "number of search worker threads")
	parallelism := flag.Int("parallelism", 8, "concurrent games per worker thread")
	modelPath := flag.String("model", "", "path to an ONNX network; falls back to a uniform demo evaluator when empty")
	statsAddr := flag.String("stats-addr", "", "if set, serve /pv JSON snapshots on this address")
	multiPv := flag.Int("multipv", 1, "number of root lines to report per info line, most-visited first")
	flag.Parse()

	c := cache.New()
	if err := c.Allocate(*cacheGiB, *minCacheGiB); err != nil {
		log.Fatalf("chesscoach-uci: allocating prediction cache: %v", err)
	}

	var evaluator position.Evaluator
	if *modelPath != "" {
		ev, err := onnxeval.New(onnxeval.Config{
			ModelPath:   *modelPath,
			PolicySize:  1858,
			InputPlanes: imagePlanes,
		})
		if err != nil {
			log.Fatalf("chesscoach-uci: loading network: %v", err)
		}
		defer ev.Close()
		evaluator = ev
	} else {
		evaluator = mockgame.UniformEvaluator{Value: 0.5}
	}

	stats := statshttp.NewServer()
	if *statsAddr != "" {
		mux := http.NewServeMux()
		stats.RegisterRoutes(mux)
		go func() {
			if err := http.ListenAndServe(*statsAddr, mux); err != nil {
				log.Printf("chesscoach-uci: stats server exited: %v", err)
			}
		}()
	}

	engine := newEngineAdapter(c, evaluator, mockgame.NoTablebase{}, *threads, *parallelism, *multiPv, stats)
	proto := uciio.NewProtocol(engine, os.Stdout)
	engine.onProgress = proto.PrintInfo

	proto.Run(os.Stdin)
}

// engineAdapter implements uciio.Engine over a search.Controller, owning
// the mutable root position and tree between successive UCI `go` calls.
type engineAdapter struct {
	mu sync.Mutex

	cache       *cache.PredictionCache
	evaluator   position.Evaluator
	tablebase   position.Tablebase
	threads     int
	parallelism int
	multiPv     int
	stats       *statshttp.Server

	pos  position.Position
	ctl  *search.Controller

	onProgress func(search.Snapshot)
}

func newEngineAdapter(c *cache.PredictionCache, ev position.Evaluator, tb position.Tablebase, threads, parallelism, multiPv int, stats *statshttp.Server) *engineAdapter {
	return &engineAdapter{
		cache:       c,
		evaluator:   ev,
		tablebase:   tb,
		threads:     threads,
		parallelism: parallelism,
		multiPv:     multiPv,
		stats:       stats,
		pos:         mockgame.New(mockgame.KindOpen, 20, 1),
	}
}

func (e *engineAdapter) UpdatePosition(fen string, moves []string, forceNew bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if forceNew || e.pos == nil {
		e.pos = mockgame.New(mockgame.KindOpen, 20, 1)
	}
	for _, mv := range moves {
		m, err := e.pos.ParseSAN(mv)
		if err != nil {
			return fmt.Errorf("chesscoach-uci: applying move %q: %w", mv, err)
		}
		e.pos.DoMove(m)
	}
	return nil
}

func (e *engineAdapter) Go(tc position.TimeControl) position.Move {
	e.mu.Lock()
	pos := e.pos
	legalMoves := pos.LegalMoves()
	limits := search.NewLimitsFromTimeControl(tc, int(pos.SideToMove()))
	limits.SetThreads(e.threads)
	limits.SetParallelism(e.parallelism)
	limits.SetMultiPv(e.multiPv)

	root := node.NewRoot()
	cfg := search.DefaultConfig(imagePlanes)
	cfg.Expand.SearchMoves = tc.SearchMoves
	ctl := search.NewController(root, pos, e.cache, e.evaluator, e.tablebase, cfg)
	ctl.SetListener(engineListener{adapter: e})
	e.ctl = ctl
	e.mu.Unlock()

	singleLegalMove := len(legalMoves) == 1
	return ctl.Run(context.Background(), limits, singleLegalMove)
}

func (e *engineAdapter) Stop() {
	e.mu.Lock()
	ctl := e.ctl
	e.mu.Unlock()
	if ctl != nil {
		ctl.Stop()
	}
}

func (e *engineAdapter) PonderHit() {
	e.mu.Lock()
	ctl := e.ctl
	e.mu.Unlock()
	if ctl != nil {
		ctl.PonderHit()
	}
}

func (e *engineAdapter) FormatMove(m position.Move) string {
	return m.String()
}

// engineListener forwards controller progress both to the UCI `info` line
// writer and to the stats HTTP server, satisfying search.Listener.
type engineListener struct {
	adapter *engineAdapter
}

func (l engineListener) OnProgress(snap search.Snapshot) {
	if l.adapter.onProgress != nil {
		l.adapter.onProgress(snap)
	}
	if l.adapter.stats != nil {
		l.adapter.stats.Publish(snap)
	}
}

func (l engineListener) OnStop(bestMove position.Move, snap search.Snapshot) {
	l.OnProgress(snap)
}
