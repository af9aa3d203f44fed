package ranking

// Spectatable lists the players a finished racer can watch: everyone still racing except us.
func Spectatable(standings []Standing) []string {
	var ids []string
	for _, s := range standings {
		if !s.Local && !s.Finished() {
			ids = append(ids, s.PlayerID)
		}
	}
	return ids
}

// NextSpectated steps the spectator camera through n targets, wrapping at both ends.
// It returns -1 when there is nobody to watch.
func NextSpectated(current, dir, n int) int {
	if n <= 0 {
		return -1
	}
	switch {
	case dir > 0:
		dir = 1
	case dir < 0:
		dir = -1
	}
	current = ((current % n) + n) % n
	return (current + dir + n) % n
}
