package engine

import "math"

const (
	DefaultEloStart = 1500.0
	DefaultEloK     = 24.0
)

// Elo scores a single decided match. Ratings live on the agents table.
type Elo struct {
	K float64
}

func NewElo(k float64) Elo {
	if k <= 0 {
		k = DefaultEloK
	}
	return Elo{K: k}
}

func (e Elo) expect(a, b float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (b-a)/400.0))
}

// Update returns the rating deltas for winner and loser (dW >= 0 >= dL).
func (e Elo) Update(winner, loser float64) (dW, dL float64) {
	ew := e.expect(winner, loser)
	dW = e.K * (1 - ew)
	dL = e.K * (0 - (1 - ew))
	return round2(dW), round2(dL)
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }

// WinRate is round(100 * wins / (wins + losses)), 0 when nothing was decided.
func WinRate(wins, losses int) int {
	total := wins + losses
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(wins) / float64(total)))
}
