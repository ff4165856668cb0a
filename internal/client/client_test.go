package client

import (
	"math"
	"testing"

	"voxarena.gg/internal/sim/mathx"
	"voxarena.gg/internal/sim/snapcodec"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
	"voxarena.gg/internal/sim/world"
)

// authority is a minimal stand-in for the server loop.
type authority struct {
	t *testing.T
	w *world.World
}

func newAuthority(t *testing.T, ids ...world.PlayerID) *authority {
	t.Helper()
	w, err := world.New(world.Config{Map: voxel.Arena("t", 32), Tuning: tuning.Defaults()})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	a := &authority{t: t, w: w}
	e := world.TickLogEntry{Tick: w.Tick}
	for _, id := range ids {
		e.Joins = append(e.Joins, world.RecordedJoin{ID: id, Name: "p"})
	}
	a.advance(e)
	return a
}

func (a *authority) advance(e world.TickLogEntry) {
	a.t.Helper()
	e.Tick = a.w.Tick
	w, err := world.Advance(a.w, &e)
	if err != nil {
		a.t.Fatalf("advance: %v", err)
	}
	a.w = w
}

func (a *authority) input(id world.PlayerID, in world.Input) {
	a.advance(world.TickLogEntry{Inputs: []world.RecordedInput{{ID: id, Input: in}}})
}

func (a *authority) snapshot() *snapcodec.Snapshot { return snapcodec.Capture(a.w) }

func TestPredictor_DiscardsAckedReplaysRest(t *testing.T) {
	srv := newAuthority(t, 1)
	for seq := uint32(1); seq <= 9; seq++ {
		srv.input(1, world.Input{Seq: seq, Tick: srv.w.Tick, Buttons: world.BtnForward})
	}
	p := NewPredictor(1, srv.w.Map, srv.w.Tuning, srv.snapshot())

	var sent []world.Input
	for i := 0; i < 3; i++ {
		sent = append(sent, p.Apply(world.BtnForward|world.BtnLeft, 400, 0, 0))
	}
	if sent[0].Seq != 10 || sent[2].Seq != 12 {
		t.Fatalf("seqs %d..%d", sent[0].Seq, sent[2].Seq)
	}

	srv.input(1, sent[0])
	srv.input(1, sent[1])
	if !p.OnSnapshot(srv.snapshot()) {
		t.Fatalf("snapshot rejected")
	}
	pending := p.Pending()
	if len(pending) != 1 || pending[0].Seq != 12 {
		t.Fatalf("pending=%+v", pending)
	}

	// Replaying 12 onto the confirmed state lands where the server will.
	srv.input(1, sent[2])
	if got, want := p.Predicted().Digest(), srv.w.Digest(); got != want {
		t.Fatalf("prediction diverged from authority")
	}
	if p.Correction != 0 {
		t.Fatalf("correction=%v on a faithful server", p.Correction)
	}
}

func TestPredictor_StaleSnapshotIgnored(t *testing.T) {
	srv := newAuthority(t, 1)
	old := srv.snapshot()
	srv.advance(world.TickLogEntry{})
	p := NewPredictor(1, srv.w.Map, srv.w.Tuning, srv.snapshot())
	p.Apply(world.BtnForward, 0, 0, 0)
	before := p.Predicted()
	if p.OnSnapshot(old) || p.OnSnapshot(p.Confirmed()) {
		t.Fatalf("stale snapshot applied")
	}
	if p.Predicted() != before || len(p.Pending()) != 1 {
		t.Fatalf("stale snapshot changed prediction")
	}
}

func TestPredictor_RejectsUnknownWeapon(t *testing.T) {
	srv := newAuthority(t, 1)
	p := NewPredictor(1, srv.w.Map, srv.w.Tuning, srv.snapshot())
	srv.advance(world.TickLogEntry{})

	bad := srv.snapshot()
	bad.Projectiles = append(bad.Projectiles, world.ProjectileState{
		ID:         1,
		Owner:      1,
		Weapon:     uint8(len(srv.w.Tuning.Weapons)),
		Pos:        mathx.V(8, 4, 8),
		ExpireTick: bad.Tick + 30,
	})
	if p.OnSnapshot(bad) {
		t.Fatalf("snapshot with unknown weapon applied")
	}
	if p.Rejected != 1 || p.Confirmed().Tick == bad.Tick {
		t.Fatalf("rejected=%d confirmed=%d", p.Rejected, p.Confirmed().Tick)
	}
	p.Apply(world.BtnForward, 0, 0, 0)

	if !p.OnSnapshot(srv.snapshot()) {
		t.Fatalf("valid snapshot rejected after a bad one")
	}
}

func TestPredictor_CorrectsToAuthority(t *testing.T) {
	srv := newAuthority(t, 1)
	p := NewPredictor(1, srv.w.Map, srv.w.Tuning, srv.snapshot())
	in := p.Apply(world.BtnForward, 0, 0, 0)

	srv.input(1, in)
	srv.w.Players[1].Pos = srv.w.Players[1].Pos.Add(mathx.V(2, 0, 0))
	p.OnSnapshot(srv.snapshot())
	if p.Correction < 1.9 {
		t.Fatalf("correction=%v", p.Correction)
	}
	me, _ := p.Local()
	if me.Pos != srv.w.Players[1].Pos {
		t.Fatalf("local=%v authority=%v", me.Pos, srv.w.Players[1].Pos)
	}
}

func TestPredictor_RemovedLocalPlayerDropsPending(t *testing.T) {
	srv := newAuthority(t, 1, 2)
	p := NewPredictor(1, srv.w.Map, srv.w.Tuning, srv.snapshot())
	p.Apply(world.BtnForward, 0, 0, 0)
	srv.advance(world.TickLogEntry{Leaves: []world.PlayerID{1}})
	p.OnSnapshot(srv.snapshot())
	if len(p.Pending()) != 0 {
		t.Fatalf("pending kept for a removed player")
	}
	if _, ok := p.Local(); ok {
		t.Fatalf("removed player still predicted")
	}
}

func movingSnapshot(tick uint64, dt float64) *snapcodec.Snapshot {
	vel := mathx.V(3, 0, 0)
	return &snapcodec.Snapshot{
		Tick: tick,
		Players: []world.PlayerState{{
			ID:    2,
			Alive: true,
			Pos:   mathx.V(vel.X*float64(tick)*dt, 1, 0),
			Vel:   vel,
			Yaw:   uint16(tick * 100),
		}},
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestInterpolator_BlendsBetweenSamples(t *testing.T) {
	tu := tuning.Defaults()
	dt := tu.DT()
	ip := NewInterpolator(tu)
	for tick := uint64(1); tick <= 10; tick++ {
		ip.Push(movingSnapshot(tick, dt))
	}
	rt := ip.RenderTick(0.5) // 10 + 0.5 - 2
	pose, ok := ip.Sample(2, rt)
	if !ok {
		t.Fatalf("no pose")
	}
	if !near(pose.Pos.X, 3*8.5*dt) || pose.Extrapolated {
		t.Fatalf("pose=%+v want x=%v", pose, 3*8.5*dt)
	}
	if pose.Yaw != 850 {
		t.Fatalf("yaw=%d", pose.Yaw)
	}
}

func TestInterpolator_ExtrapolatesThenHolds(t *testing.T) {
	tu := tuning.Defaults()
	dt := tu.DT()
	ip := NewInterpolator(tu)
	for tick := uint64(1); tick <= 10; tick++ {
		ip.Push(movingSnapshot(tick, dt))
	}
	last := 3 * 10 * dt

	// Five ticks without a snapshot: render tick 13, three past the newest.
	pose, _ := ip.Sample(2, ip.RenderTick(5))
	if !pose.Extrapolated || !near(pose.Pos.X, last+3*3*dt) {
		t.Fatalf("pose=%+v", pose)
	}
	limit := last + 3*float64(tu.Net.MaxExtrapolationTicks)*dt
	for _, elapsed := range []float64{10, 20, 100} {
		pose, _ = ip.Sample(2, ip.RenderTick(elapsed))
		if !near(pose.Pos.X, limit) {
			t.Fatalf("elapsed %v: x=%v want frozen at %v", elapsed, pose.Pos.X, limit)
		}
	}
}

func TestInterpolator_ForgetsRemovedEntities(t *testing.T) {
	tu := tuning.Defaults()
	ip := NewInterpolator(tu)
	ip.Push(movingSnapshot(1, tu.DT()))
	ip.Push(&snapcodec.Snapshot{Tick: 2})
	if _, ok := ip.Sample(2, 2); ok {
		t.Fatalf("removed entity still sampled")
	}
	// Older snapshots never rewind the interpolator.
	ip.Push(movingSnapshot(1, tu.DT()))
	if ip.Latest() != 2 {
		t.Fatalf("latest=%d", ip.Latest())
	}
}

func TestInterpolator_NoBlendAcrossRespawn(t *testing.T) {
	tu := tuning.Defaults()
	ip := NewInterpolator(tu)
	ip.Push(movingSnapshot(1, tu.DT()))
	dead := movingSnapshot(2, tu.DT())
	dead.Players[0].Alive = false
	ip.Push(dead)
	back := movingSnapshot(3, tu.DT())
	back.Players[0].Pos = mathx.V(20, 1, 20)
	ip.Push(back)
	pose, _ := ip.Sample(2, 2.5)
	if pose.Pos != back.Players[0].Pos {
		t.Fatalf("blended across respawn: %v", pose.Pos)
	}
}

func TestLerpYaw_ShortWay(t *testing.T) {
	if got := lerpYaw(65000, 500, 0.5); got != 65518 {
		t.Fatalf("yaw=%d", got)
	}
}

func TestBuildView_Animations(t *testing.T) {
	srv := newAuthority(t, 1, 2, 3)
	srv.w.Players[2].Pos = srv.w.Players[2].Pos.Add(mathx.V(0, 4, 0))
	srv.w.Players[3].Alive = false
	srv.w.Players[3].RespawnTick = 1 << 40
	snap := srv.snapshot()

	p := NewPredictor(1, srv.w.Map, srv.w.Tuning, snap)
	ip := NewInterpolator(srv.w.Tuning)
	ip.Push(snap)
	v := BuildView(p, ip, 0)
	if len(v.Players) != 3 || len(v.Pickups) != len(snap.Pickups) {
		t.Fatalf("view=%+v", v)
	}
	want := map[world.PlayerID]Anim{1: AnimIdle, 2: AnimAirborne, 3: AnimDead}
	for _, pv := range v.Players {
		if pv.Anim != want[pv.ID] {
			t.Fatalf("player %d anim=%s want %s", pv.ID, pv.Anim, want[pv.ID])
		}
		if pv.Local != (pv.ID == 1) {
			t.Fatalf("player %d local=%v", pv.ID, pv.Local)
		}
	}

	for i := 0; i < 5; i++ {
		p.Apply(world.BtnForward, 0, 0, 0)
	}
	v = BuildView(p, ip, 0)
	if v.Players[0].Anim != AnimRunning {
		t.Fatalf("local anim=%s", v.Players[0].Anim)
	}
}
