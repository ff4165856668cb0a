package world

type Buttons uint8

const (
	BtnForward Buttons = 1 << iota
	BtnBack
	BtnLeft
	BtnRight
	BtnJump
	BtnFire
)

func (b Buttons) Has(f Buttons) bool { return b&f != 0 }

// Input is one sampled client command. Weapon 0 keeps the current weapon;
// n selects weapon n-1.
type Input struct {
	Seq     uint32
	Tick    uint64
	Buttons Buttons
	DYaw    int16
	DPitch  int16
	Weapon  uint8
}

func (in Input) Fire() bool { return in.Buttons.Has(BtnFire) }
