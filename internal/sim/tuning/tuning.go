package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Game modes.
const (
	ModeDeathmatch = "deathmatch"
	ModeTeam       = "team"
)

type Tuning struct {
	TickRateHz int    `yaml:"tick_rate_hz"`
	MaxPlayers int    `yaml:"max_players"`
	GameMode   string `yaml:"game_mode"`
	Seed       int64  `yaml:"seed"`

	Net     Net      `yaml:"net"`
	Physics Physics  `yaml:"physics"`
	Combat  Combat   `yaml:"combat"`
	Weapons []Weapon `yaml:"weapons"`
	Pickups Pickups  `yaml:"pickups"`
}

type Net struct {
	TimeoutTicks          int `yaml:"timeout_ticks"`
	HeartbeatTicks        int `yaml:"heartbeat_ticks"`
	IDCooldownTicks       int `yaml:"id_cooldown_ticks"`
	InputStaleTicks       int `yaml:"input_stale_ticks"`
	InputQueueMax         int `yaml:"input_queue_max"`
	HistoryTicks          int `yaml:"history_ticks"`
	RenderDelayTicks      int `yaml:"render_delay_ticks"`
	MaxExtrapolationTicks int `yaml:"max_extrapolation_ticks"`
	OutboxSize            int `yaml:"outbox_size"`
}

type Physics struct {
	Gravity     float64 `yaml:"gravity"`
	WalkSpeed   float64 `yaml:"walk_speed"`
	AirControl  float64 `yaml:"air_control"`
	JumpSpeed   float64 `yaml:"jump_speed"`
	MaxFall     float64 `yaml:"max_fall_speed"`
	HalfWidth   float64 `yaml:"half_width"`
	Height      float64 `yaml:"height"`
	EyeHeight   float64 `yaml:"eye_height"`
	StepHeight  float64 `yaml:"step_height"`
	KillFloorY  float64 `yaml:"kill_floor_y"`
	SubstepSize float64 `yaml:"substep_size"`
}

type Combat struct {
	MaxHealth        int     `yaml:"max_health"`
	RespawnTicks     int     `yaml:"respawn_ticks"`
	InvulnTicks      int     `yaml:"invuln_ticks"`
	SpawnMinDistance float64 `yaml:"spawn_min_distance"`
	FriendlyFire     bool    `yaml:"friendly_fire"`
}

type Weapon struct {
	Name          string  `yaml:"name"`
	Damage        int     `yaml:"damage"`
	Speed         float64 `yaml:"speed"`
	LifetimeTicks int     `yaml:"lifetime_ticks"`
	CooldownTicks int     `yaml:"cooldown_ticks"`
	MaxAmmo       int     `yaml:"max_ammo"`
	StartAmmo     int     `yaml:"start_ammo"`
	GravityScale  float64 `yaml:"gravity_scale"`
	StartOwned    bool    `yaml:"start_owned"`
}

type Pickups struct {
	Radius        float64 `yaml:"radius"`
	HealthAmount  int     `yaml:"health_amount"`
	AmmoAmount    int     `yaml:"ammo_amount"`
	CooldownTicks int     `yaml:"cooldown_ticks"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 30,
		MaxPlayers: 16,
		GameMode:   ModeDeathmatch,
		Seed:       1337,
		Net: Net{
			TimeoutTicks:          150,
			HeartbeatTicks:        30,
			IDCooldownTicks:       300,
			InputStaleTicks:       30,
			InputQueueMax:         8,
			HistoryTicks:          64,
			RenderDelayTicks:      2,
			MaxExtrapolationTicks: 4,
			OutboxSize:            64,
		},
		Physics: Physics{
			Gravity:     20,
			WalkSpeed:   6,
			AirControl:  0.25,
			JumpSpeed:   7,
			MaxFall:     40,
			HalfWidth:   0.4,
			Height:      1.8,
			EyeHeight:   1.6,
			StepHeight:  1,
			KillFloorY:  -32,
			SubstepSize: 0.25,
		},
		Combat: Combat{
			MaxHealth:        100,
			RespawnTicks:     90,
			InvulnTicks:      45,
			SpawnMinDistance: 8,
		},
		Weapons: []Weapon{
			{Name: "rifle", Damage: 25, Speed: 60, LifetimeTicks: 30, CooldownTicks: 3, MaxAmmo: 60, StartAmmo: 30, StartOwned: true},
			{Name: "launcher", Damage: 60, Speed: 25, LifetimeTicks: 60, CooldownTicks: 20, MaxAmmo: 10, StartAmmo: 0, GravityScale: 0.5},
		},
		Pickups: Pickups{
			Radius:        1,
			HealthAmount:  50,
			AmmoAmount:    20,
			CooldownTicks: 300,
		},
	}
}

// Load reads a tuning file over the defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values with defaults.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := Defaults()
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.MaxPlayers <= 0 {
		t.MaxPlayers = d.MaxPlayers
	}
	t.GameMode = strings.ToLower(strings.TrimSpace(t.GameMode))
	if t.GameMode == "" {
		t.GameMode = d.GameMode
	}
	fillInt(&t.Net.TimeoutTicks, d.Net.TimeoutTicks)
	fillInt(&t.Net.HeartbeatTicks, d.Net.HeartbeatTicks)
	fillInt(&t.Net.IDCooldownTicks, d.Net.IDCooldownTicks)
	fillInt(&t.Net.InputStaleTicks, d.Net.InputStaleTicks)
	fillInt(&t.Net.InputQueueMax, d.Net.InputQueueMax)
	fillInt(&t.Net.HistoryTicks, d.Net.HistoryTicks)
	fillInt(&t.Net.RenderDelayTicks, d.Net.RenderDelayTicks)
	fillInt(&t.Net.MaxExtrapolationTicks, d.Net.MaxExtrapolationTicks)
	fillInt(&t.Net.OutboxSize, d.Net.OutboxSize)

	fillFloat(&t.Physics.Gravity, d.Physics.Gravity)
	fillFloat(&t.Physics.WalkSpeed, d.Physics.WalkSpeed)
	fillFloat(&t.Physics.JumpSpeed, d.Physics.JumpSpeed)
	fillFloat(&t.Physics.MaxFall, d.Physics.MaxFall)
	fillFloat(&t.Physics.HalfWidth, d.Physics.HalfWidth)
	fillFloat(&t.Physics.Height, d.Physics.Height)
	fillFloat(&t.Physics.EyeHeight, d.Physics.EyeHeight)
	fillFloat(&t.Physics.SubstepSize, d.Physics.SubstepSize)
	if t.Physics.KillFloorY == 0 {
		t.Physics.KillFloorY = d.Physics.KillFloorY
	}

	fillInt(&t.Combat.MaxHealth, d.Combat.MaxHealth)
	fillInt(&t.Combat.RespawnTicks, d.Combat.RespawnTicks)
	if len(t.Weapons) == 0 {
		t.Weapons = d.Weapons
	}
	fillFloat(&t.Pickups.Radius, d.Pickups.Radius)
	fillInt(&t.Pickups.HealthAmount, d.Pickups.HealthAmount)
	fillInt(&t.Pickups.AmmoAmount, d.Pickups.AmmoAmount)
	fillInt(&t.Pickups.CooldownTicks, d.Pickups.CooldownTicks)
}

func (t Tuning) Validate() error {
	if t.TickRateHz > 240 {
		return fmt.Errorf("tick_rate_hz %d out of range", t.TickRateHz)
	}
	if t.MaxPlayers > 255 {
		return fmt.Errorf("max_players %d out of range", t.MaxPlayers)
	}
	if t.GameMode != ModeDeathmatch && t.GameMode != ModeTeam {
		return fmt.Errorf("unknown game_mode %q", t.GameMode)
	}
	if len(t.Weapons) > 8 {
		return errors.New("at most 8 weapons")
	}
	owned := false
	for i, w := range t.Weapons {
		if strings.TrimSpace(w.Name) == "" {
			return fmt.Errorf("weapons[%d]: missing name", i)
		}
		if w.Speed <= 0 || w.LifetimeTicks <= 0 || w.MaxAmmo <= 0 {
			return fmt.Errorf("weapons[%d] %s: speed, lifetime_ticks and max_ammo must be positive", i, w.Name)
		}
		if w.StartAmmo > w.MaxAmmo {
			return fmt.Errorf("weapons[%d] %s: start_ammo exceeds max_ammo", i, w.Name)
		}
		owned = owned || w.StartOwned
	}
	if !owned {
		return errors.New("no weapon is owned at spawn")
	}
	if t.Physics.EyeHeight > t.Physics.Height {
		return errors.New("eye_height exceeds height")
	}
	if t.Physics.StepHeight > 1 {
		return errors.New("step_height must be at most one voxel")
	}
	if t.Physics.SubstepSize > 0.5 {
		return errors.New("substep_size must be at most half a voxel")
	}
	if t.Net.TimeoutTicks <= t.Net.HeartbeatTicks {
		return errors.New("timeout_ticks must exceed heartbeat_ticks")
	}
	return nil
}

// DT is the fixed step length in seconds.
func (t Tuning) DT() float64 { return 1 / float64(t.TickRateHz) }

func (t Tuning) Team() bool { return t.GameMode == ModeTeam }

func fillInt(v *int, d int) {
	if *v <= 0 {
		*v = d
	}
}

func fillFloat(v *float64, d float64) {
	if *v <= 0 {
		*v = d
	}
}
