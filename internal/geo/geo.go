package geo

import "math"

const earthRadiusM = 6371000.0

// Estimate is a smoothed position with its confidence radius in meters.
type Estimate struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	ConfidenceM float64 `json:"confidence_m"`
}

// Site is the geofenced target of an assignment.
type Site struct {
	Lat         float64
	Lon         float64
	BaseRadiusM float64
}

// Result carries the admission verdict plus the audit detail that must
// accompany any attendance record produced from it.
type Result struct {
	Accepted   bool    `json:"accepted"`
	DistanceM  float64 `json:"distance_m"`
	ToleranceM float64 `json:"tolerance_m"`
}

// HaversineMeters returns the great-circle distance between two WGS84 points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// CheckGeofence tests the smoothed estimate against the site. Half the
// device's own uncertainty is granted as slack on top of the base radius; the
// tolerance never drops below the base radius. Rejections are reported upward,
// re-sampling is the caller's call.
func CheckGeofence(est Estimate, site Site) Result {
	distance := HaversineMeters(est.Lat, est.Lon, site.Lat, site.Lon)
	tolerance := site.BaseRadiusM + math.Floor(est.ConfidenceM*0.5)
	if tolerance < site.BaseRadiusM {
		tolerance = site.BaseRadiusM
	}
	return Result{
		Accepted:   distance <= tolerance,
		DistanceM:  distance,
		ToleranceM: tolerance,
	}
}
