package coord

import (
	"math"
	"time"
)

const (
	deg2rad    = math.Pi / 180
	arcsec2rad = deg2rad / 3600
)

// Precess moves equatorial coordinates (ra in hours, dec in degrees) from the
// epoch jd0 to jd1 using the IAU 1976 rigorous formulae.
func Precess(ra, dec, jd0, jd1 float64) (float64, float64) {
	T := (jd0 - jdJ2000) / 36525
	t := (jd1 - jd0) / 36525

	k := 2306.2181 + 1.39656*T - 0.000139*T*T
	zeta := (k*t + (0.30188-0.000344*T)*t*t + 0.017998*t*t*t) * arcsec2rad
	z := (k*t + (1.09468+0.000066*T)*t*t + 0.018203*t*t*t) * arcsec2rad
	theta := ((2004.3109-0.85330*T-0.000217*T*T)*t - (0.42665+0.000217*T)*t*t - 0.041833*t*t*t) * arcsec2rad

	a0 := ra * 15 * deg2rad
	d0 := dec * deg2rad

	A := math.Cos(d0) * math.Sin(a0+zeta)
	B := math.Cos(theta)*math.Cos(d0)*math.Cos(a0+zeta) - math.Sin(theta)*math.Sin(d0)
	C := math.Sin(theta)*math.Cos(d0)*math.Cos(a0+zeta) + math.Cos(theta)*math.Sin(d0)

	a := math.Atan2(A, B) + z
	d := math.Asin(math.Max(-1, math.Min(1, C)))

	return NormalizeHours(a / deg2rad / 15), d / deg2rad
}

// nutation returns the nutation in longitude and obliquity (radians) and the
// true obliquity of the ecliptic for jd, keeping the four largest terms.
func nutation(jd float64) (dpsi, deps, eps float64) {
	T := (jd - jdJ2000) / 36525

	omega := (125.04452 - 1934.136261*T) * deg2rad
	L := (280.4665 + 36000.7698*T) * deg2rad
	Lm := (218.3165 + 481267.8813*T) * deg2rad

	dpsi = (-17.20*math.Sin(omega) - 1.32*math.Sin(2*L) - 0.23*math.Sin(2*Lm) + 0.21*math.Sin(2*omega)) * arcsec2rad
	deps = (9.20*math.Cos(omega) + 0.57*math.Cos(2*L) + 0.10*math.Cos(2*Lm) - 0.09*math.Cos(2*omega)) * arcsec2rad

	eps0 := (23.43929111 - 0.0130041667*T - 1.6389e-7*T*T + 5.0361e-7*T*T*T) * deg2rad
	return dpsi, deps, eps0 + deps
}

// nutate returns the nutation correction in ra (hours) and dec (degrees).
func nutate(ra, dec, jd float64) (float64, float64) {
	dpsi, deps, eps := nutation(jd)
	a := ra * 15 * deg2rad
	d := dec * deg2rad

	// the tan(dec) terms diverge at the poles
	if math.Abs(dec) > 89.99 {
		return 0, 0
	}

	da := (math.Cos(eps)+math.Sin(eps)*math.Sin(a)*math.Tan(d))*dpsi - math.Cos(a)*math.Tan(d)*deps
	dd := math.Sin(eps)*math.Cos(a)*dpsi + math.Sin(a)*deps
	return da / deg2rad / 15, dd / deg2rad
}

// J2000ToJNow converts catalogue coordinates into the apparent epoch at t.
func J2000ToJNow(ra, dec float64, t time.Time) (float64, float64) {
	jd := JulianDate(t)
	ra, dec = Precess(ra, dec, jdJ2000, jd)
	da, dd := nutate(ra, dec, jd)
	return NormalizeHours(ra + da), dec + dd
}

// JNowToJ2000 converts apparent coordinates at t back into J2000.
func JNowToJ2000(ra, dec float64, t time.Time) (float64, float64) {
	jd := JulianDate(t)
	da, dd := nutate(ra, dec, jd)
	return Precess(NormalizeHours(ra-da), dec-dd, jd, jdJ2000)
}
