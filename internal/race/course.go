package race

import "math"

// PassRadiusSquared is how close (squared) a car must get to a gate to pass it.
const PassRadiusSquared = 256.0

// Course is an ordered list of gate positions. The last gate is the finish line.
type Course struct {
	Gates []Vec3
}

func (c Course) Total() int { return len(c.Gates) }

// Loop lays out n gates on a circle of the given radius, finish gate last.
func Loop(n int, radius float64) Course {
	gates := make([]Vec3, n)
	for i := range gates {
		a := 2 * math.Pi * float64(i+1) / float64(n)
		gates[i] = Vec3{X: radius * math.Sin(a), Z: radius - radius*math.Cos(a)}
	}
	return Course{Gates: gates}
}

// Progress tracks the next gate for a single car.
type Progress struct {
	course Course
	gate   int
}

func NewProgress(c Course) *Progress { return &Progress{course: c} }

func (p *Progress) Gate() int { return p.gate }

func (p *Progress) Done() bool { return p.gate >= p.course.Total() }

// Next returns the position of the gate to pass next.
func (p *Progress) Next() (Vec3, bool) {
	if p.Done() {
		return Vec3{}, false
	}
	return p.course.Gates[p.gate], true
}

// Update advances past the next gate when pos is inside its radius and returns
// the gate index plus the squared distance to the gate after that.
func (p *Progress) Update(pos Vec3) (gate int, distSq float64) {
	if next, ok := p.Next(); ok && pos.DistanceSquared(next) < PassRadiusSquared {
		p.gate++
	}
	next, ok := p.Next()
	if !ok {
		return p.gate, DefaultDistance
	}
	return p.gate, pos.DistanceSquared(next)
}

func (p *Progress) Reset() { p.gate = 0 }
