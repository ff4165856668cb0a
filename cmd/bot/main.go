package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"voxarena.gg/internal/client"
	"voxarena.gg/internal/protocol"
	"voxarena.gg/internal/sim/snapcodec"
	"voxarena.gg/internal/sim/voxel"
	"voxarena.gg/internal/sim/world"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "bot", "player name")
		avatar    = flag.Uint("avatar", 0, "avatar id (0-255)")
		team      = flag.String("team", "", "preferred team in team mode (empty: auto)")
		mapsDir   = flag.String("maps", "", "map asset directory (empty: use the generated arena)")
		arenaSize = flag.Int("arena_size", 48, "generated arena edge length when -maps is empty")
		idle      = flag.Bool("idle", false, "send heartbeats only")
		seed      = flag.Int64("seed", 0, "input script seed (0: time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("load .env: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	join, err := joinMsg(*name, *avatar, *team)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := client.Dial(dialCtx, *url, join)
	dialCancel()
	if err != nil {
		logger.Fatalf("join: %v (code=%s)", err, protocol.CodeOf(err))
	}
	defer conn.Close()

	w := conn.Welcome
	logger.Printf("WELCOME server=%s player=%d map=%s tick=%d tick_rate=%d", w.ServerID, w.PlayerID, w.MapName, w.Tick, w.Tuning.TickRateHz)

	var m *voxel.Map
	if *mapsDir == "" {
		m = voxel.Arena(w.MapName, *arenaSize)
	} else if m, err = voxel.Load(*mapsDir, w.MapName); err != nil {
		logger.Fatalf("load map: %v", err)
	}

	var base *snapcodec.Snapshot
	select {
	case base = <-conn.Snapshots():
	case <-conn.Disconnected():
		logger.Fatalf("disconnected before baseline: %v", conn.Err())
	case <-ctx.Done():
		return
	}

	if err := base.Validate(w.Tuning); err != nil {
		logger.Fatalf("baseline: %v", err)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	b := &bot{
		conn:   conn,
		pred:   client.NewPredictor(conn.PlayerID(), m, w.Tuning, base),
		interp: client.NewInterpolator(w.Tuning),
		rng:    rand.New(rand.NewSource(*seed)),
		log:    logger,
		idle:   *idle,
	}
	b.interp.Push(base)
	b.run(ctx, w.Tuning.TickRateHz, w.Tuning.Net.HeartbeatTicks)
}

func joinMsg(name string, avatar uint, team string) (protocol.JoinMsg, error) {
	if avatar > 255 {
		return protocol.JoinMsg{}, fmt.Errorf("avatar %d out of range 0-255", avatar)
	}
	return protocol.JoinMsg{Name: name, Avatar: uint8(avatar), Team: team}, nil
}

type bot struct {
	conn   *client.Conn
	pred   *client.Predictor
	interp *client.Interpolator
	rng    *rand.Rand
	log    *log.Logger
	idle   bool

	ticks       uint64
	lastSnap    time.Time
	corrections int
}

func (b *bot) run(ctx context.Context, tickRate, heartbeatTicks int) {
	interval := time.Second / time.Duration(tickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	b.lastSnap = time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.conn.Disconnected():
			b.log.Printf("disconnected: %v (code=%s)", b.conn.Err(), protocol.CodeOf(b.conn.Err()))
			return
		case s := <-b.conn.Snapshots():
			if b.pred.OnSnapshot(s) && b.pred.Correction > 0.01 {
				b.corrections++
			}
			b.interp.Push(s)
			b.lastSnap = time.Now()
		case ev := <-b.conn.Events():
			b.logEvents(ev)
		case <-ticker.C:
			b.ticks++
			if b.idle {
				if heartbeatTicks > 0 && b.ticks%uint64(heartbeatTicks) == 0 {
					if err := b.conn.Heartbeat(); err != nil {
						b.log.Printf("heartbeat: %v", err)
					}
				}
				continue
			}
			in := b.pred.Apply(b.script())
			if err := b.conn.SendInput(in); err != nil {
				b.log.Printf("send input: %v", err)
			}
			if b.ticks%uint64(5*tickRate) == 0 {
				b.report(float64(time.Since(b.lastSnap)) / float64(interval))
			}
		}
	}
}

// script wanders: mostly forward with slow turns, an occasional jump and
// short bursts of fire.
func (b *bot) script() (world.Buttons, int16, int16, uint8) {
	buttons := world.BtnForward
	if b.rng.Intn(40) == 0 {
		buttons |= world.BtnJump
	}
	if b.ticks%90 < 10 {
		buttons |= world.BtnFire
	}
	if b.ticks%120 < 30 {
		buttons |= world.BtnLeft
	}
	dyaw := int16(b.rng.Intn(801) - 300)
	dpitch := int16(b.rng.Intn(201) - 100)
	return buttons, dyaw, dpitch, 0
}

func (b *bot) report(elapsedTicks float64) {
	v := client.BuildView(b.pred, b.interp, elapsedTicks)
	for _, p := range v.Players {
		if !p.Local {
			continue
		}
		b.log.Printf("tick=%d render=%.1f pos=(%.2f,%.2f,%.2f) hp=%d kills=%d anim=%s pending=%d corrections=%d others=%d",
			v.Tick, v.RenderTick, p.Pose.Pos.X, p.Pose.Pos.Y, p.Pose.Pos.Z, p.Health, p.Kills, p.Anim,
			len(b.pred.Pending()), b.corrections, len(v.Players)-1)
		return
	}
	b.log.Printf("tick=%d local player not in view", v.Tick)
}

func (b *bot) logEvents(ev protocol.EventsMsg) {
	for _, e := range ev.Events {
		switch world.EventKind(e.Kind) {
		case world.EventKill:
			b.log.Printf("tick=%d KILL attacker=%d victim=%d weapon=%d", ev.Tick, e.Actor, e.Target, e.Weapon)
		case world.EventSuicide:
			b.log.Printf("tick=%d SUICIDE player=%d", ev.Tick, e.Target)
		case world.EventJoin:
			b.log.Printf("tick=%d JOIN player=%d", ev.Tick, e.Actor)
		case world.EventLeave:
			b.log.Printf("tick=%d LEAVE player=%d", ev.Tick, e.Actor)
		}
	}
}
