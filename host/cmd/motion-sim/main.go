// motion-sim runs a move list through the planner and step generator on a
// simulated clock and logs the profile of every block it executes.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"motionfw/core"
	"motionfw/standalone"
	"motionfw/standalone/config"
	"motionfw/standalone/manager"
	"motionfw/standalone/planner"
	"motionfw/standalone/stepgen"
)

var (
	configPath = flag.String("config", "", "Machine config (YAML); empty uses the Cartesian default")
	movesPath  = flag.String("moves", "moves.yaml", "Move list (YAML)")
	tick       = flag.Duration("tick", time.Millisecond, "Simulated main loop period")
	limit      = flag.Duration("limit", 5*time.Minute, "Simulated time limit (the 32-bit clock wraps just under 6 minutes)")
	verbose    = flag.Bool("verbose", false, "Log every block profile")
)

// MoveList is the move file format. Omitted coordinates keep their
// previous value.
type MoveList struct {
	Start *Point  `yaml:"start"`
	Feed  float64 `yaml:"feed"`
	Moves []Point `yaml:"moves"`
}

// Point is one target; Feed overrides the list default
type Point struct {
	X    *float64 `yaml:"x"`
	Y    *float64 `yaml:"y"`
	Z    *float64 `yaml:"z"`
	E    *float64 `yaml:"e"`
	Feed float64  `yaml:"feed"`
}

func (p Point) apply(pos standalone.Position) standalone.Position {
	if p.X != nil {
		pos.X = *p.X
	}
	if p.Y != nil {
		pos.Y = *p.Y
	}
	if p.Z != nil {
		pos.Z = *p.Z
	}
	if p.E != nil {
		pos.E = *p.E
	}
	return pos
}

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := run(log); err != nil {
		log.Error("simulation failed", "err", err)
		os.Exit(1)
	}
}

func loadMoves(path string) (*MoveList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list MoveList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if list.Feed <= 0 {
		list.Feed = 50
	}
	return &list, nil
}

func run(log *slog.Logger) error {
	cfg := config.DefaultCartesianConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			return err
		}
	}
	list, err := loadMoves(*movesPath)
	if err != nil {
		return err
	}

	core.SetTime(0)
	mgr, err := manager.NewManagerWithConfig(cfg)
	if err != nil {
		return err
	}
	timer := core.NewListTimer()
	timer.ReadCost = 1
	if err := mgr.Initialize(core.NewSimGPIO(), timer); err != nil {
		return err
	}
	defer mgr.Shutdown()

	mgr.OnFault = func(ev stepgen.Event) {
		log.Warn("fault", "reason", stepgen.ReasonString(ev.Reason), "steps", ev.Position)
	}

	pos := mgr.Position()
	if list.Start != nil {
		pos = list.Start.apply(pos)
		if err := mgr.SetPosition(pos); err != nil {
			return err
		}
	}

	s := &sim{mgr: mgr, log: log, period: core.TicksFromDuration(*tick, core.TimerFrequency)}
	deadline := core.TicksFromDuration(*limit, core.TimerFrequency)

	for i, mv := range list.Moves {
		pos = mv.apply(pos)
		feed := list.Feed
		if mv.Feed > 0 {
			feed = mv.Feed
		}
		for {
			err := mgr.BufferLine(pos, feed)
			if err == nil {
				break
			}
			if !errors.Is(err, planner.ErrQueueFull) {
				return fmt.Errorf("move %d: %w", i, err)
			}
			s.step()
			if core.GetTime() > deadline {
				return fmt.Errorf("time limit reached at move %d", i)
			}
		}
	}
	for !mgr.IsIdle() {
		s.step()
		if core.GetTime() > deadline {
			return fmt.Errorf("time limit reached with %d blocks queued", mgr.Planner().QueuedBlocks())
		}
	}

	ps, gs := mgr.Planner().Stats(), mgr.Generator().Stats()
	log.Info("done",
		"elapsed", time.Duration(uint64(core.GetTime())*uint64(time.Second)/uint64(core.TicksPerSecond(core.TimerFrequency))),
		"position", mgr.Position(),
		"steps", mgr.State().Steps,
		"blocks", gs.Blocks,
		"step_events", gs.Steps,
		"clamped", gs.Clamped,
		"late", gs.Late,
		"replans", ps.Replans,
		"segmented", ps.Segmented,
		"zero_length", ps.ZeroLength,
	)
	return nil
}

type sim struct {
	mgr     *manager.Manager
	log     *slog.Logger
	period  uint32
	lastSeq uint32
	seen    bool
}

// step advances the clock by one main loop period and logs a block the
// generator picked up since the last step
func (s *sim) step() {
	core.AdvanceTo(core.GetTime() + s.period)
	s.mgr.Poll()

	q := s.mgr.Planner().Queue()
	b := q.Current()
	if b == nil {
		return
	}
	seq := q.Tail()
	if s.seen && seq == s.lastSeq {
		return
	}
	s.seen, s.lastSeq = true, seq
	s.log.Debug("block",
		"seq", seq,
		"mm", b.Millimeters,
		"events", b.StepEventCount,
		"entry", b.EntrySpeed,
		"nominal", b.NominalSpeed,
		"exit", b.ExitSpeed,
		"initial_rate", b.Profile.InitialRate,
		"nominal_rate", b.NominalRate,
		"final_rate", b.Profile.FinalRate,
		"accel_until", b.Profile.AccelerateUntil,
		"decel_after", b.Profile.DecelerateAfter,
	)
}
