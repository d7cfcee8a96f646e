package airport

import "math"

// WGS84 ellipsoid parameters.
const (
	semiMajorAxisM = 6378137.0
	flattening     = 1.0 / 298.257223563
)

// Distance returns the geodesic distance between two airports in kilometers
// rounded to two decimals, or (0, false) when either code is empty or not in
// the coordinate table. A same-airport pair yields 0.
func Distance(originCode, destinationCode string) (float64, bool) {
	origin, ok := LookupCode(originCode)
	if !ok {
		return 0, false
	}
	dest, ok := LookupCode(destinationCode)
	if !ok {
		return 0, false
	}
	km := geodesicMeters(origin, dest) / 1000.0
	return math.Round(km*100) / 100, true
}

// geodesicMeters computes the inverse geodesic on the WGS84 ellipsoid using
// Vincenty's formulae. Spherical great-circle math undershoots long routes
// by a few tenths of a percent, which is visible against reference emission
// distances, hence the ellipsoidal solution.
func geodesicMeters(a, b Coordinates) float64 {
	if a == b {
		return 0
	}

	f := flattening
	bAxis := semiMajorAxisM * (1 - f)

	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	L := (b.Lon - a.Lon) * math.Pi / 180

	u1 := math.Atan((1 - f) * math.Tan(phi1))
	u2 := math.Atan((1 - f) * math.Tan(phi2))
	sinU1, cosU1 := math.Sincos(u1)
	sinU2, cosU2 := math.Sincos(u2)

	lambda := L
	var sinSigma, cosSigma, sigma, sinAlpha, cos2Alpha, cos2SigmaM float64
	for i := 0; i < 200; i++ {
		sinLambda, cosLambda := math.Sincos(lambda)
		sinSigma = math.Sqrt(math.Pow(cosU2*sinLambda, 2) +
			math.Pow(cosU1*sinU2-sinU1*cosU2*cosLambda, 2))
		if sinSigma == 0 {
			return 0 // coincident points
		}
		cosSigma = sinU1*sinU2 + cosU1*cosU2*cosLambda
		sigma = math.Atan2(sinSigma, cosSigma)
		sinAlpha = cosU1 * cosU2 * sinLambda / sinSigma
		cos2Alpha = 1 - sinAlpha*sinAlpha
		if cos2Alpha == 0 {
			cos2SigmaM = 0 // equatorial line
		} else {
			cos2SigmaM = cosSigma - 2*sinU1*sinU2/cos2Alpha
		}
		C := f / 16 * cos2Alpha * (4 + f*(4-3*cos2Alpha))
		prev := lambda
		lambda = L + (1-C)*f*sinAlpha*
			(sigma+C*sinSigma*(cos2SigmaM+C*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))
		if math.Abs(lambda-prev) < 1e-12 {
			break
		}
	}

	uSq := cos2Alpha * (semiMajorAxisM*semiMajorAxisM - bAxis*bAxis) / (bAxis * bAxis)
	A := 1 + uSq/16384*(4096+uSq*(-768+uSq*(320-175*uSq)))
	B := uSq / 1024 * (256 + uSq*(-128+uSq*(74-47*uSq)))
	deltaSigma := B * sinSigma * (cos2SigmaM + B/4*
		(cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)-
			B/6*cos2SigmaM*(-3+4*sinSigma*sinSigma)*(-3+4*cos2SigmaM*cos2SigmaM)))

	return bAxis * A * (sigma - deltaSigma)
}
