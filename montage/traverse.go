package montage

// Sequence orders a planned grid into a boustrophedon path and assigns
// sequence indices.  Rows are processed bottom to top; the bottom row runs
// left to right and each subsequent row reverses, so consecutive tiles are
// always physically adjacent and cumulative stage travel is minimized
// relative to naive row-major order.
func Sequence(g TileGrid) TileGrid {
	byIndex := make(map[[2]int]TilePosition, len(g.Tiles))
	for _, t := range g.Tiles {
		byIndex[[2]int{t.Row, t.Col}] = t
	}

	ordered := make([]TilePosition, 0, len(g.Tiles))
	seq := 0
	for row := 0; row < g.Rows; row++ {
		if row%2 == 0 {
			for col := 0; col < g.Cols; col++ {
				t := byIndex[[2]int{row, col}]
				t.Seq = seq
				seq++
				ordered = append(ordered, t)
			}
		} else {
			for col := g.Cols - 1; col >= 0; col-- {
				t := byIndex[[2]int{row, col}]
				t.Seq = seq
				seq++
				ordered = append(ordered, t)
			}
		}
	}
	g.Tiles = ordered
	return g
}
