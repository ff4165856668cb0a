package world

import (
	"testing"

	"voxarena.gg/internal/sim/mathx"
	"voxarena.gg/internal/sim/tuning"
)

const (
	yawNorth uint16 = 0     // looks down -Z
	yawSouth uint16 = 32768 // looks down +Z
)

func noCooldown(tu *tuning.Tuning) {
	for i := range tu.Weapons {
		tu.Weapons[i].CooldownTicks = 0
	}
}

func TestScenario_LastRoundThenEmpty(t *testing.T) {
	w := newWorld(t, flatMap(t), noCooldown)
	p := place(t, w, 1, mathx.V(20, 1, 40), yawNorth)
	p.Ammo[0] = 1
	w.Tick = 100

	w = Step(w, map[PlayerID]Input{1: {Seq: 1, Tick: 100, Buttons: BtnFire}})
	if len(w.Projectiles) != 1 {
		t.Fatalf("projectiles=%d, want 1", len(w.Projectiles))
	}
	for _, pr := range w.Projectiles {
		if pr.SpawnTick != 100 || pr.Owner != 1 {
			t.Fatalf("projectile=%+v", pr)
		}
	}
	if got := w.Players[1].Ammo[0]; got != 0 {
		t.Fatalf("ammo=%d, want 0", got)
	}

	next := w.NextProjectile
	w = Step(w, map[PlayerID]Input{1: {Seq: 2, Tick: 101, Buttons: BtnFire}})
	if w.NextProjectile != next {
		t.Fatalf("empty weapon spawned a projectile")
	}
	if got := w.Players[1].Ammo[0]; got != 0 {
		t.Fatalf("ammo=%d after dry fire", got)
	}
}

func TestFire_RespectsCooldown(t *testing.T) {
	w := newWorld(t, flatMap(t), nil)
	place(t, w, 1, mathx.V(20, 1, 40), yawNorth)
	w = run(w, 7, hold(1, BtnFire))
	want := 0
	for tick := 0; tick < 7; tick += w.Tuning.Weapons[0].CooldownTicks {
		want++
	}
	if got := int(w.NextProjectile) - 1; got != want {
		t.Fatalf("shots=%d, want %d", got, want)
	}
	if got := w.Players[1].Ammo[0]; got != w.Tuning.Weapons[0].StartAmmo-want {
		t.Fatalf("ammo=%d", got)
	}
}

func TestScenario_SimultaneousKillCreditsBoth(t *testing.T) {
	w := newWorld(t, flatMap(t), nil)
	victim := place(t, w, 1, mathx.V(32.5, 1, 32.5), yawNorth)
	place(t, w, 2, mathx.V(32.5, 1, 42.5), yawNorth)
	place(t, w, 3, mathx.V(32.5, 1, 22.5), yawSouth)
	// Neither hit alone is lethal; together they are.
	victim.Health = 40

	w = Step(w, map[PlayerID]Input{
		2: {Seq: 1, Tick: 0, Buttons: BtnFire},
		3: {Seq: 1, Tick: 0, Buttons: BtnFire},
	})
	if len(w.Projectiles) != 2 {
		t.Fatalf("projectiles=%d", len(w.Projectiles))
	}

	deaths := 0
	for i := 0; i < 20 && w.Players[1].Alive; i++ {
		w = Step(w, nil)
	}
	v := w.Players[1]
	if v.Alive {
		t.Fatalf("victim survived with health %d", v.Health)
	}
	if v.Health != 0 || v.Deaths != 1 {
		t.Fatalf("victim health=%d deaths=%d", v.Health, v.Deaths)
	}
	for _, e := range w.Events {
		if e.Kind == EventKill && e.Target == 1 {
			deaths++
		}
	}
	if deaths != 2 {
		t.Fatalf("kill events=%d, want 2", deaths)
	}
	if w.Players[2].Kills != 1 || w.Players[3].Kills != 1 {
		t.Fatalf("kills a=%d b=%d", w.Players[2].Kills, w.Players[3].Kills)
	}
	if len(w.Projectiles) != 0 {
		t.Fatalf("projectiles left=%d", len(w.Projectiles))
	}

	w = run(w, 5, nil)
	if w.Players[1].Deaths != 1 {
		t.Fatalf("victim died again: deaths=%d", w.Players[1].Deaths)
	}
}

func TestMutualLethalHitsKillBoth(t *testing.T) {
	w := newWorld(t, flatMap(t), nil)
	a := place(t, w, 1, mathx.V(32.5, 1, 42.5), yawNorth)
	b := place(t, w, 2, mathx.V(32.5, 1, 32.5), yawSouth)
	a.Health, b.Health = 10, 10

	w = Step(w, map[PlayerID]Input{
		1: {Seq: 1, Tick: 0, Buttons: BtnFire},
		2: {Seq: 1, Tick: 0, Buttons: BtnFire},
	})
	for i := 0; i < 20 && (w.Players[1].Alive || w.Players[2].Alive); i++ {
		w = Step(w, nil)
	}
	for _, id := range []PlayerID{1, 2} {
		p := w.Players[id]
		if p.Alive || p.Deaths != 1 || p.Kills != 1 {
			t.Fatalf("player %d alive=%v deaths=%d kills=%d", id, p.Alive, p.Deaths, p.Kills)
		}
	}
}

func TestZeroHealthBoundary(t *testing.T) {
	w := newWorld(t, flatMap(t), nil)
	victim := place(t, w, 1, mathx.V(32.5, 1, 32.5), yawNorth)
	place(t, w, 2, mathx.V(32.5, 1, 42.5), yawNorth)
	victim.Health = w.Tuning.Weapons[0].Damage

	w = Step(w, map[PlayerID]Input{2: {Seq: 1, Tick: 0, Buttons: BtnFire}})
	for i := 0; i < 20 && w.Players[1].Alive; i++ {
		w = Step(w, nil)
	}
	v := w.Players[1]
	if v.Alive || v.Health != 0 || v.Deaths != 1 {
		t.Fatalf("alive=%v health=%d deaths=%d", v.Alive, v.Health, v.Deaths)
	}

	// Dead players neither move nor fire, but their inputs are consumed.
	pos := v.Pos
	shots := w.NextProjectile
	w = Step(w, map[PlayerID]Input{1: {Seq: 1, Tick: w.Tick, Buttons: BtnForward | BtnFire | BtnJump, DYaw: 500}})
	v = w.Players[1]
	if v.Pos != pos || v.Yaw != yawNorth {
		t.Fatalf("dead player moved: %+v", v.Pos)
	}
	if w.NextProjectile != shots {
		t.Fatalf("dead player fired")
	}
	if v.LastSeq != 1 {
		t.Fatalf("last seq=%d", v.LastSeq)
	}
	if v.Health != 0 || v.Deaths != 1 {
		t.Fatalf("health=%d deaths=%d", v.Health, v.Deaths)
	}
}

func TestOverkillClampsAtZero(t *testing.T) {
	w := newWorld(t, flatMap(t), nil)
	victim := place(t, w, 1, mathx.V(32.5, 1, 32.5), yawNorth)
	place(t, w, 2, mathx.V(32.5, 1, 42.5), yawNorth)
	victim.Health = 3

	w = Step(w, map[PlayerID]Input{2: {Seq: 1, Tick: 0, Buttons: BtnFire}})
	for i := 0; i < 20 && w.Players[1].Alive; i++ {
		w = Step(w, nil)
	}
	if got := w.Players[1].Health; got != 0 {
		t.Fatalf("health=%d, want 0", got)
	}
}

func TestRespawnAfterDelayWithProtection(t *testing.T) {
	w := newWorld(t, flatMap(t), nil)
	p := place(t, w, 1, mathx.V(32.5, 1, 32.5), yawNorth)
	w.die(p, nil, 0)
	if p.Alive {
		t.Fatalf("expected dead")
	}
	due := p.RespawnTick
	spawnAt := p.RespawnPos

	for w.Tick < due {
		w = Step(w, nil)
		if w.Players[1].Alive && w.Tick <= due {
			t.Fatalf("respawned early at tick %d", w.Tick)
		}
	}
	w = Step(w, nil)
	p = w.Players[1]
	if !p.Alive || p.Health != w.Tuning.Combat.MaxHealth {
		t.Fatalf("alive=%v health=%d", p.Alive, p.Health)
	}
	if p.Pos != spawnAt.Quantized() {
		t.Fatalf("pos=%+v want %+v", p.Pos, spawnAt)
	}
	if p.InvulnUntil <= w.Tick {
		t.Fatalf("no spawn protection: until=%d tick=%d", p.InvulnUntil, w.Tick)
	}
}

func TestInvulnerableTakesNoDamage(t *testing.T) {
	w := newWorld(t, flatMap(t), nil)
	victim := place(t, w, 1, mathx.V(32.5, 1, 32.5), yawNorth)
	place(t, w, 2, mathx.V(32.5, 1, 42.5), yawNorth)
	victim.InvulnUntil = 1000

	w = Step(w, map[PlayerID]Input{2: {Seq: 1, Tick: 0, Buttons: BtnFire}})
	w = run(w, 10, nil)
	if got := w.Players[1].Health; got != w.Tuning.Combat.MaxHealth {
		t.Fatalf("health=%d", got)
	}
	if len(w.Projectiles) != 0 {
		t.Fatalf("projectile should be consumed by the hit")
	}
}

func TestProjectileStopsAtThinWall(t *testing.T) {
	w := newWorld(t, flatMap(t), nil)
	w.Map.Fill(0, 1, 37, 63, 5, 37, 1)
	victim := place(t, w, 1, mathx.V(32.5, 1, 32.5), yawNorth)
	place(t, w, 2, mathx.V(32.5, 1, 42.5), yawNorth)
	victim.Health = 1

	w = Step(w, map[PlayerID]Input{2: {Seq: 1, Tick: 0, Buttons: BtnFire}})
	w = run(w, 10, nil)
	if !w.Players[1].Alive {
		t.Fatalf("projectile went through the wall")
	}
	if len(w.Projectiles) != 0 {
		t.Fatalf("projectile survived a wall hit")
	}
}

func TestTeamMode_NoFriendlyFireAndTeamScore(t *testing.T) {
	w := newWorld(t, flatMap(t), func(tu *tuning.Tuning) { tu.GameMode = tuning.ModeTeam })
	red, err := w.Join(1, "r1", 0, TeamRed)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	mate, _ := w.Join(2, "r2", 0, TeamRed)
	foe, _ := w.Join(3, "b1", 0, TeamBlue)
	for _, p := range []*PlayerState{red, mate, foe} {
		p.InvulnUntil = 0
	}
	red.Pos, red.Yaw = mathx.V(32.5, 1, 42.5), yawNorth
	mate.Pos, mate.Health = mathx.V(32.5, 1, 32.5), 1
	foe.Pos, foe.Health = mathx.V(40.5, 1, 32.5), 1

	w = Step(w, map[PlayerID]Input{1: {Seq: 1, Tick: 0, Buttons: BtnFire}})
	w = run(w, 10, nil)
	if !w.Players[2].Alive {
		t.Fatalf("teammate killed with friendly fire off")
	}

	w.Players[1].Pos, w.Players[1].Yaw = mathx.V(40.5, 1, 42.5), yawNorth
	w = Step(w, map[PlayerID]Input{1: {Seq: 2, Tick: w.Tick, Buttons: BtnFire}})
	for i := 0; i < 20 && w.Players[3].Alive; i++ {
		w = Step(w, nil)
	}
	if w.Players[3].Alive {
		t.Fatalf("enemy survived")
	}
	if w.TeamScore[TeamRed] != 1 || w.TeamScore[TeamBlue] != 0 {
		t.Fatalf("team score=%v", w.TeamScore)
	}
}

func TestHazards_LavaAndKillFloor(t *testing.T) {
	w := newWorld(t, flatMap(t), nil)
	w.Map.Fill(10, 0, 10, 12, 0, 12, 2)
	w.Map.Fill(40, 0, 40, 42, 0, 42, 0)
	lava := place(t, w, 1, mathx.V(11.5, 1, 11.5), yawNorth)
	faller := place(t, w, 2, mathx.V(41.5, 1, 41.5), yawNorth)
	lava.InvulnUntil = 1000

	w = Step(w, nil)
	if w.Players[1].Alive {
		t.Fatalf("lava did not kill")
	}
	if w.Players[1].Kills != -1 {
		t.Fatalf("suicide kills=%d", w.Players[1].Kills)
	}
	_ = faller
	w = run(w, 120, hold(2, 0))
	if w.Players[2].Deaths == 0 {
		t.Fatalf("player fell through the hole without dying (y=%v)", w.Players[2].Pos.Y)
	}
}
