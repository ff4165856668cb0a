package voxel

// Arena builds the stock test arena: a floor, four pillars, a raised ledge
// with steps, a lava strip and spawn points in each corner.
func Arena(name string, size int) *Map {
	if size < 24 {
		size = 24
	}
	const height = 16
	m, _ := New(name, size, height, size)
	m.Fill(0, 0, 0, size-1, 0, size-1, Solid)

	mid := size / 2
	for _, c := range [][2]int{{mid - 6, mid - 6}, {mid + 5, mid - 6}, {mid - 6, mid + 5}, {mid + 5, mid + 5}} {
		m.Fill(c[0], 1, c[1], c[0]+1, 5, c[1]+1, Solid)
	}
	// Ledge along the north wall reachable by two steps.
	m.Fill(2, 1, 1, size-3, 2, 3, Solid)
	m.Fill(mid-1, 1, 4, mid, 1, 4, Solid)
	// Lava strip under the middle.
	m.Fill(mid-2, 0, mid-1, mid+1, 0, mid, Lava)

	f := float64(size)
	m.Meta = Metadata{
		Name: name,
		Spawns: []SpawnPoint{
			{X: 3.5, Y: 1, Z: f - 3.5, Team: "red"},
			{X: f - 3.5, Y: 1, Z: f - 3.5, Team: "blue"},
			{X: 3.5, Y: 1, Z: 6.5, Team: "red"},
			{X: f - 3.5, Y: 1, Z: 6.5, Team: "blue"},
		},
		Pickups: []PickupPoint{
			{Kind: "health", X: float64(mid) + 0.5, Y: 1, Z: f - 5.5},
			{Kind: "ammo", X: 5.5, Y: 1, Z: float64(mid) + 0.5},
			{Kind: "weapon", Weapon: 1, X: float64(mid) + 0.5, Y: 3, Z: 2.5},
		},
	}
	return m
}
