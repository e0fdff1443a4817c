package trajectory

import "math"

// profile is a rest-to-rest trapezoidal velocity profile for one joint,
// stretched to a shared duration. A profile whose ramp covers half the
// duration has no cruise phase. A braking profile is the second half of a
// triangular one, entered offset seconds in.
type profile struct {
	start    float64
	distance float64 // signed
	cruise   float64 // peak speed, non-negative
	accel    float64 // non-negative
	ramp     float64 // seconds spent accelerating
	total    float64 // seconds from rest to rest
	offset   float64
}

// minimumTime is the fastest rest-to-rest move over distance d.
func minimumTime(d, vmax, amax float64) float64 {
	if d == 0 {
		return 0
	}
	if d <= vmax*vmax/amax {
		return 2 * math.Sqrt(d/amax)
	}
	return d/vmax + vmax/amax
}

// stretch builds the profile covering distance in exactly total seconds
// using acceleration amax. total must be at least minimumTime.
func stretch(start, distance, amax, total float64) profile {
	d := math.Abs(distance)
	if d == 0 || total == 0 {
		return profile{start: start}
	}
	// d = v*T - v^2/a, smaller root
	disc := math.Max(0, amax*amax*total*total-4*amax*d)
	v := (amax*total - math.Sqrt(disc)) / 2
	return profile{
		start:    start,
		distance: distance,
		cruise:   v,
		accel:    amax,
		ramp:     v / amax,
		total:    total,
	}
}

// brake decelerates from position at velocity to rest at amax.
func brake(position, velocity, amax float64) profile {
	v := math.Abs(velocity)
	if v == 0 {
		return profile{start: position}
	}
	sign := 1.0
	if velocity < 0 {
		sign = -1
	}
	ramp := v / amax
	return profile{
		start:    position - sign*v*v/(2*amax),
		distance: sign * v * v / amax,
		cruise:   v,
		accel:    amax,
		ramp:     ramp,
		total:    2 * ramp,
		offset:   ramp,
	}
}

// end is when the profile comes to rest, measured from its first sample.
func (p profile) end() float64 {
	return p.total - p.offset
}

// at evaluates the profile t seconds after its first sample.
func (p profile) at(t float64) (pos, vel, acc float64) {
	if p.distance == 0 {
		return p.start, 0, 0
	}
	t += p.offset
	total := p.total
	if t <= 0 {
		return p.start, 0, 0
	}
	if t >= total {
		return p.start + p.distance, 0, 0
	}
	sign := 1.0
	if p.distance < 0 {
		sign = -1
	}
	var x float64
	switch {
	case t < p.ramp:
		x, vel, acc = 0.5*p.accel*t*t, p.accel*t, p.accel
	case t <= total-p.ramp:
		x, vel = 0.5*p.accel*p.ramp*p.ramp+p.cruise*(t-p.ramp), p.cruise
	default:
		tau := total - t
		x, vel, acc = math.Abs(p.distance)-0.5*p.accel*tau*tau, p.accel*tau, -p.accel
	}
	return p.start + sign*x, sign * vel, sign * acc
}
