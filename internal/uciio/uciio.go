// Package uciio is the thin UCI front end named as out of scope for the
// core in the specification's §1: it owns stdin/stdout parsing and
// formatting only, delegating every decision to search.Controller.
//
// Grounded on ChizhovVadim-CounterGo/uci/uciprotocol.go: the
// bufio.Scanner read loop, first-token dispatch table, and
// parseLimits-style `go` token parsing are carried over closely; the
// info/bestmove line formatting mirrors printSearchInfo in the same file,
// adapted to the specification's exact `info depth D score cp C|mate M
// nodes N nps NPS ... pv ...` wording.
package uciio

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chesscoach/enginecore/pkg/position"
	"github.com/chesscoach/enginecore/pkg/search"
)

// Engine is the minimal surface uciio needs from the rest of the module:
// the four operations §6 names as exposed by the core, plus FormatMove for
// printing moves.
type Engine interface {
	UpdatePosition(fen string, moves []string, forceNew bool) error
	Go(tc position.TimeControl) position.Move
	Stop()
	PonderHit()
	FormatMove(m position.Move) string
}

// Protocol runs the UCI command loop over the given reader/writer.
type Protocol struct {
	engine Engine
	out    io.Writer
}

func NewProtocol(engine Engine, out io.Writer) *Protocol {
	return &Protocol{engine: engine, out: out}
}

func (p *Protocol) Run(in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !p.handle(line) {
			return
		}
	}
}

func (p *Protocol) handle(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	switch fields[0] {
	case "uci":
		p.printf("id name ChessCoach\n")
		p.printf("id author chesscoach\n")
		p.printf("uciok\n")
	case "isready":
		p.printf("readyok\n")
	case "ucinewgame":
		_ = p.engine.UpdatePosition(startFEN, nil, true)
	case "position":
		p.handlePosition(fields[1:])
	case "go":
		p.handleGo(fields[1:])
	case "stop":
		p.engine.Stop()
	case "ponderhit":
		p.engine.PonderHit()
	case "quit":
		return false
	}
	return true
}

const startFEN = "startpos"

func (p *Protocol) handlePosition(args []string) {
	if len(args) == 0 {
		return
	}
	fen := startFEN
	rest := args
	if args[0] == "fen" {
		idx := 1
		fenParts := []string{}
		for idx < len(args) && args[idx] != "moves" {
			fenParts = append(fenParts, args[idx])
			idx++
		}
		fen = strings.Join(fenParts, " ")
		rest = args[idx:]
	} else if args[0] == "startpos" {
		rest = args[1:]
	}

	var moves []string
	if len(rest) > 0 && rest[0] == "moves" {
		moves = rest[1:]
	}
	if err := p.engine.UpdatePosition(fen, moves, false); err != nil {
		p.printf("info string %v\n", err)
	}
}

func (p *Protocol) handleGo(args []string) {
	tc := position.TimeControl{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "infinite":
			tc.Infinite = true
		case "ponder":
			tc.Ponder = true
		case "wtime":
			i++
			tc.TimeRemainingMs[0] = parseInt64(args, i)
		case "btime":
			i++
			tc.TimeRemainingMs[1] = parseInt64(args, i)
		case "winc":
			i++
			tc.IncrementMs[0] = parseInt64(args, i)
		case "binc":
			i++
			tc.IncrementMs[1] = parseInt64(args, i)
		case "movestogo":
			i++
			tc.MovesToGo = int(parseInt64(args, i))
		case "depth":
			i++ // depth is accepted for UCI compatibility; the core is node/time budgeted
		case "nodes":
			i++
			tc.Nodes = parseInt64(args, i)
		case "mate":
			i++
			tc.Mate = int(parseInt64(args, i))
		case "movetime":
			i++
			tc.MoveTimeMs = parseInt64(args, i)
		case "searchmoves":
			for i+1 < len(args) {
				i++
				tc.SearchMoves = append(tc.SearchMoves, parseUCIMove(args[i]))
			}
		}
	}

	// Run the search on its own goroutine so the read loop stays free to
	// deliver `stop`/`ponderhit` while a search is in flight; Stop() is
	// the real cancellation path, wired to the controller's limiter.
	go func() {
		best := p.engine.Go(tc)
		p.printf("bestmove %s\n", p.engine.FormatMove(best))
	}()
}

func parseInt64(args []string, i int) int64 {
	if i < 0 || i >= len(args) {
		return 0
	}
	v, _ := strconv.ParseInt(args[i], 10, 64)
	return v
}

// parseUCIMove decodes a long-algebraic move string ("e2e4", "e7e8q")
// into a position.Move. Full SAN/FEN handling belongs to Position; this is
// only enough to build the SearchMoves filter list from UCI text.
func parseUCIMove(s string) position.Move {
	if len(s) < 4 {
		return position.NoMove
	}
	from := squareIndex(s[0], s[1])
	to := squareIndex(s[2], s[3])
	var promo uint8
	if len(s) >= 5 {
		promo = promoIndex(s[4])
	}
	return position.NewMove(from, to, promo)
}

func squareIndex(file, rank byte) uint8 {
	f := file - 'a'
	r := rank - '1'
	return uint8(r)*8 + uint8(f)
}

func promoIndex(c byte) uint8 {
	switch c {
	case 'n':
		return 1
	case 'b':
		return 2
	case 'r':
		return 3
	case 'q':
		return 4
	default:
		return 0
	}
}

// PrintInfo formats one `info` line with depth, score, nodes, nps, time and
// pv fields (no tbhits or hashfull field), or one `info ... multipv K ...`
// line per reported line when the search was asked to track more than the
// single best move.
func (p *Protocol) PrintInfo(snap search.Snapshot) {
	if len(snap.MultiPvLines) > 1 {
		for i, line := range snap.MultiPvLines {
			p.printMultiPvLine(snap, i+1, line)
		}
		return
	}

	scoreField := fmt.Sprintf("cp %d", snap.ScoreCP)
	if snap.MateIn != 0 {
		scoreField = fmt.Sprintf("mate %d", snap.MateIn)
	}
	pv := make([]string, len(snap.PV))
	for i, m := range snap.PV {
		pv[i] = m.String()
	}
	p.printf("info depth %d score %s nodes %d nps %d time %d pv %s\n",
		len(snap.PV), scoreField, snap.Nodes, snap.NPS, snap.Elapsed.Milliseconds(), strings.Join(pv, " "))
}

func (p *Protocol) printMultiPvLine(snap search.Snapshot, rank int, line search.MultiPvLine) {
	scoreField := fmt.Sprintf("cp %d", line.ScoreCP)
	if line.MateIn != 0 {
		scoreField = fmt.Sprintf("mate %d", line.MateIn)
	}
	pv := make([]string, len(line.PV))
	for i, m := range line.PV {
		pv[i] = m.String()
	}
	p.printf("info depth %d multipv %d score %s nodes %d nps %d time %d pv %s\n",
		len(line.PV), rank, scoreField, snap.Nodes, snap.NPS, snap.Elapsed.Milliseconds(), strings.Join(pv, " "))
}

func (p *Protocol) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}
