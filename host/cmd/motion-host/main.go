// motion-host is an interactive shell for a motion controller on a serial
// port. The port is taken from MOTION_DEVICE or the connect command.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/caarlos0/env/v6"

	"motionfw/host/link"
	"motionfw/host/serial"
	"motionfw/protocol"
	"motionfw/standalone"
	"motionfw/standalone/stepgen"
)

type EnvConfig struct {
	Debug       bool          `env:"MOTION_DEBUG" envDefault:"false"`
	Feed        float64       `env:"MOTION_FEED" envDefault:"50"`
	WaitTimeout time.Duration `env:"MOTION_WAIT_TIMEOUT" envDefault:"60s"`
}

type session struct {
	env    EnvConfig
	serial serial.Config
	log    *slog.Logger
	client *link.Client
}

func main() {
	s := &session{}
	if err := env.Parse(&s.env); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := env.Parse(&s.serial); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if s.env.Debug {
		level = slog.LevelDebug
	}
	s.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	shell := ishell.New()
	shell.Println("Motion host shell")
	shell.ShowPrompt(true)

	if err := s.connect(s.serial.Device); err != nil {
		s.log.Warn("not connected", "device", s.serial.Device, "err", err)
	}
	defer s.close()

	shell.AddCmd(&ishell.Cmd{
		Name: "connect",
		Help: "connect [device]",
		Func: func(c *ishell.Context) {
			device := s.serial.Device
			if len(c.Args) >= 1 {
				device = c.Args[0]
			}
			if err := s.connect(device); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "move",
		Help: "move <x> <y> <z> [e] [feed mm/s]",
		Func: s.withClient(func(c *ishell.Context) error {
			if len(c.Args) < 3 {
				return fmt.Errorf("usage: move <x> <y> <z> [e] [feed]")
			}
			v, err := parseFloats(c.Args)
			if err != nil {
				return err
			}
			target := standalone.Position{X: v[0], Y: v[1], Z: v[2]}
			if len(v) > 3 {
				target.E = v[3]
			}
			feed := s.env.Feed
			if len(v) > 4 {
				feed = v[4]
			}
			return s.client.Move(target, feed)
		}),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "home",
		Help: "home <channel>",
		Func: s.withClient(func(c *ishell.Context) error {
			if len(c.Args) < 1 {
				return fmt.Errorf("usage: home <channel>")
			}
			ch, err := strconv.ParseUint(c.Args[0], 10, 8)
			if err != nil {
				return err
			}
			return s.client.Home(uint32(ch))
		}),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "setpos",
		Help: "setpos <x> <y> <z> [e]",
		Func: s.withClient(func(c *ishell.Context) error {
			if len(c.Args) < 3 {
				return fmt.Errorf("usage: setpos <x> <y> <z> [e]")
			}
			v, err := parseFloats(c.Args)
			if err != nil {
				return err
			}
			pos := standalone.Position{X: v[0], Y: v[1], Z: v[2]}
			if len(v) > 3 {
				pos.E = v[3]
			}
			return s.client.SetPosition(pos)
		}),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "estop",
		Help: "abort all motion",
		Func: s.withClient(func(c *ishell.Context) error {
			return s.client.EmergencyStop()
		}),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "clear",
		Help: "clear a fault",
		Func: s.withClient(func(c *ishell.Context) error {
			return s.client.Clear()
		}),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "query",
		Help: "print step position and queue depth",
		Func: s.withClient(func(c *ishell.Context) error {
			st, err := s.client.Query()
			if err != nil {
				return err
			}
			c.Printf("steps %v queue %d/%d\n", st.Steps, st.Queued, st.Capacity)
			return nil
		}),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "wait",
		Help: "wait until the queue drains",
		Func: s.withClient(func(c *ishell.Context) error {
			return s.client.WaitIdle(s.env.WaitTimeout, 50*time.Millisecond)
		}),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "watch",
		Help: "watch [seconds] - print fault and homed reports",
		Func: s.withClient(func(c *ishell.Context) error {
			d := 10 * time.Second
			if len(c.Args) >= 1 {
				secs, err := strconv.Atoi(c.Args[0])
				if err != nil {
					return err
				}
				d = time.Duration(secs) * time.Second
			}
			timeout := time.After(d)
			for {
				select {
				case ev := <-s.client.Events():
					c.Println(formatEvent(ev))
				case <-timeout:
					return nil
				}
			}
		}),
	})

	shell.Run()
}

func (s *session) connect(device string) error {
	s.close()
	cfg := s.serial
	cfg.Device = device
	client, err := link.Dial(&cfg, s.log)
	if err != nil {
		return err
	}
	if _, err := client.Hello(); err != nil {
		client.Close()
		return err
	}
	s.client = client
	return nil
}

func (s *session) close() {
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
}

func (s *session) withClient(f func(c *ishell.Context) error) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if s.client == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		if err := f(c); err != nil {
			c.Err(err)
		}
	}
}

func parseFloats(args []string) ([]float64, error) {
	v := make([]float64, len(args))
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", a)
		}
		v[i] = f
	}
	return v, nil
}

func formatEvent(ev link.Event) string {
	if ev.Kind == protocol.RptHomed {
		return fmt.Sprintf("homed channel %d at %v", ev.Code, ev.Position)
	}
	return fmt.Sprintf("fault: %s at %v", stepgen.ReasonString(uint8(ev.Code)), ev.Position)
}
