package converter

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	earthRadiusM = 6371008.8
	metersPerDeg = 111320.0
)

const (
	LocationBin      = 10 * time.Minute
	MaxClusterRadius = 500.0
	MaxClusters      = 20

	// StationarySpeed separates stationary from moving bins, in m/s.
	StationarySpeed = 0.5
)

// LatLon is a point in degrees.
type LatLon struct {
	Lat float64
	Lon float64
}

// Haversine returns the great-circle distance in meters.
func Haversine(a, b LatLon) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// LocationFeatures are the per-day mobility features.
type LocationFeatures struct {
	Points            int
	Bins              int
	TotalDistance     float64
	TransitionTime    float64
	StationaryVar     float64
	Clusters          int
	Entropy           float64
	NormalizedEntropy float64
}

var LocationColumns = []string{
	"n_points", "n_bins", "total_distance_m", "transition_time",
	"stationary_variance_m2", "n_clusters", "entropy", "normalized_entropy",
}

func (f LocationFeatures) Row() Row {
	return Row{
		f.Points, f.Bins, round(f.TotalDistance, 1), round(f.TransitionTime, 4),
		round(f.StationaryVar, 1), f.Clusters, round(f.Entropy, 4), round(f.NormalizedEntropy, 4),
	}
}

type timedPoint struct {
	ts float64
	p  LatLon
}

// ComputeLocationFeatures derives mobility features from one day of points.
// Points are averaged into LocationBin windows first.
func ComputeLocationFeatures(ts []float64, pts []LatLon) LocationFeatures {
	f := LocationFeatures{Points: len(pts)}
	bins := binPoints(ts, pts)
	f.Bins = len(bins)
	if len(bins) == 0 {
		return f
	}

	stationary := make([]LatLon, 0, len(bins))
	moving := 0
	for i := range bins {
		speed := 0.0
		if i > 0 {
			d := Haversine(bins[i-1].p, bins[i].p)
			f.TotalDistance += d
			if dt := bins[i].ts - bins[i-1].ts; dt > 0 {
				speed = d / dt
			}
		}
		if speed >= StationarySpeed {
			moving++
			continue
		}
		stationary = append(stationary, bins[i].p)
	}
	f.TransitionTime = float64(moving) / float64(len(bins))
	f.StationaryVar = variance(stationary)

	if len(stationary) == 0 {
		return f
	}
	assign, k := clusterCount(stationary)
	f.Clusters = k
	f.Entropy = entropy(assign, k)
	if k > 1 {
		f.NormalizedEntropy = f.Entropy / math.Log(float64(k))
	}
	return f
}

func binPoints(ts []float64, pts []LatLon) []timedPoint {
	type acc struct {
		lat, lon, t float64
		n           int
	}
	width := LocationBin.Seconds()
	sums := map[int64]*acc{}
	for i, p := range pts {
		key := int64(math.Floor(ts[i] / width))
		a, ok := sums[key]
		if !ok {
			a = &acc{}
			sums[key] = a
		}
		a.lat += p.Lat
		a.lon += p.Lon
		a.t += ts[i]
		a.n++
	}
	keys := make([]int64, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]timedPoint, 0, len(keys))
	for _, k := range keys {
		a := sums[k]
		n := float64(a.n)
		out = append(out, timedPoint{ts: a.t / n, p: LatLon{Lat: a.lat / n, Lon: a.lon / n}})
	}
	return out
}

// variance returns var(lat)+var(lon) in square meters, scaling longitude by
// the cosine of the mean latitude.
func variance(pts []LatLon) float64 {
	if len(pts) < 2 {
		return 0
	}
	var mLat, mLon float64
	for _, p := range pts {
		mLat += p.Lat
		mLon += p.Lon
	}
	n := float64(len(pts))
	mLat /= n
	mLon /= n
	lonScale := metersPerDeg * math.Cos(mLat*math.Pi/180)
	var vLat, vLon float64
	for _, p := range pts {
		dy := (p.Lat - mLat) * metersPerDeg
		dx := (p.Lon - mLon) * lonScale
		vLat += dy * dy
		vLon += dx * dx
	}
	return (vLat + vLon) / n
}

// clusterCount raises k until every cluster fits in MaxClusterRadius or k
// reaches MaxClusters.
func clusterCount(pts []LatLon) ([]int, int) {
	var assign []int
	for k := 1; k <= MaxClusters && k <= len(pts); k++ {
		var radius float64
		assign, radius = kmeans(pts, k)
		if radius <= MaxClusterRadius {
			return assign, k
		}
	}
	k := MaxClusters
	if len(pts) < k {
		k = len(pts)
	}
	return assign, k
}

// kmeans runs Lloyd iterations with haversine distance from a farthest-point
// seeding, which keeps the result deterministic.
func kmeans(pts []LatLon, k int) ([]int, float64) {
	centers := []LatLon{pts[0]}
	for len(centers) < k {
		best, bestDist := 0, -1.0
		for i, p := range pts {
			d := math.MaxFloat64
			for _, c := range centers {
				d = math.Min(d, Haversine(p, c))
			}
			if d > bestDist {
				best, bestDist = i, d
			}
		}
		centers = append(centers, pts[best])
	}

	assign := make([]int, len(pts))
	for iter := 0; iter < 50; iter++ {
		changed := false
		for i, p := range pts {
			best, bestDist := 0, math.MaxFloat64
			for j, c := range centers {
				if d := Haversine(p, c); d < bestDist {
					best, bestDist = j, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		next := make([]LatLon, k)
		counts := make([]int, k)
		for i, p := range pts {
			next[assign[i]].Lat += p.Lat
			next[assign[i]].Lon += p.Lon
			counts[assign[i]]++
		}
		for j := range next {
			if counts[j] == 0 {
				next[j] = centers[j]
				continue
			}
			next[j].Lat /= float64(counts[j])
			next[j].Lon /= float64(counts[j])
		}
		centers = next
		if !changed && iter > 0 {
			break
		}
	}

	radius := 0.0
	for i, p := range pts {
		radius = math.Max(radius, Haversine(p, centers[assign[i]]))
	}
	return assign, radius
}

func entropy(assign []int, k int) float64 {
	counts := make([]int, k)
	for _, a := range assign {
		counts[a]++
	}
	n := float64(len(assign))
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log(p)
	}
	return h
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}

// LocationExtractor pulls (time, point) pairs from a packet.
type LocationExtractor func(p Packet) ([]float64, []LatLon, error)

// NewLocationDaily aggregates location points into daily mobility features.
func NewLocationDaily(extract LocationExtractor, loc *time.Location) *Daily {
	return &Daily{
		Columns:  LocationColumns,
		Location: loc,
		Extract: func(p Packet) ([]TimedRecord, error) {
			ts, pts, err := extract(p)
			if err != nil {
				return nil, err
			}
			out := make([]TimedRecord, len(pts))
			for i := range pts {
				out[i] = TimedRecord{TS: ts[i], Rec: Record{"lat": pts[i].Lat, "lon": pts[i].Lon}}
			}
			return out, nil
		},
		Aggregate: func(day Day, recs []TimedRecord) (Row, error) {
			ts := make([]float64, 0, len(recs))
			pts := make([]LatLon, 0, len(recs))
			for _, r := range recs {
				lat, ok1 := Float(r.Rec["lat"])
				lon, ok2 := Float(r.Rec["lon"])
				if !ok1 || !ok2 {
					return nil, fmt.Errorf("location without coordinates on %s", day)
				}
				ts = append(ts, r.TS)
				pts = append(pts, LatLon{Lat: lat, Lon: lon})
			}
			return ComputeLocationFeatures(ts, pts).Row(), nil
		},
	}
}
