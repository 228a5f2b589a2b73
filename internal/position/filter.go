package position

import (
	"errors"
	"time"

	"github.com/hzakaria/guardpoint_backend/internal/geo"
)

const (
	// MaxWindow bounds the smoothing FIFO.
	MaxWindow = 10
	// AccuracyCeilingM is the hard ceiling beyond which a fix is noise.
	AccuracyCeilingM = 10000.0
	// MinSamples is the buffer size at which the estimate settles.
	MinSamples = 3
	// DefaultTimeout hard-caps a sampling run.
	DefaultTimeout = 60 * time.Second
)

var (
	ErrPermissionDenied  = errors.New("position: permission denied")
	ErrSourceUnavailable = errors.New("position: source unavailable")
	ErrTimeout           = errors.New("position: timed out with no samples")
)

// Fix is a single raw location reading. Never persisted from here; the
// presence service owns persistence of admitted readings.
type Fix struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AccuracyM  float64   `json:"accuracy_m"`
	CapturedAt time.Time `json:"captured_at"`
}

// Progress is the intermediate feedback emitted after each accepted fix.
type Progress struct {
	Samples     int     `json:"samples"`
	ConfidenceM float64 `json:"confidence_m"`
	Settled     bool    `json:"settled"`
}

// Filter smooths repeated noisy fixes into one estimate. It keeps the
// MaxWindow most recent accepted fixes and averages them. Not safe for
// concurrent use; each sampling session owns its own filter.
type Filter struct {
	window []Fix
}

func NewFilter() *Filter {
	return &Filter{window: make([]Fix, 0, MaxWindow)}
}

// Add accepts fix into the window unless its accuracy exceeds the ceiling.
// Returns whether the fix was accepted.
func (f *Filter) Add(fix Fix) bool {
	if fix.AccuracyM > AccuracyCeilingM {
		return false
	}
	if len(f.window) == MaxWindow {
		copy(f.window, f.window[1:])
		f.window = f.window[:MaxWindow-1]
	}
	f.window = append(f.window, fix)
	return true
}

func (f *Filter) Len() int { return len(f.window) }

// Estimate returns the arithmetic mean of the window. ok is false while the
// window is empty.
func (f *Filter) Estimate() (est geo.Estimate, ok bool) {
	n := len(f.window)
	if n == 0 {
		return geo.Estimate{}, false
	}
	var lat, lon, acc float64
	for _, fx := range f.window {
		lat += fx.Lat
		lon += fx.Lon
		acc += fx.AccuracyM
	}
	fn := float64(n)
	return geo.Estimate{Lat: lat / fn, Lon: lon / fn, ConfidenceM: acc / fn}, true
}

// Progress reports the current sampling state.
func (f *Filter) Progress() Progress {
	est, _ := f.Estimate()
	return Progress{
		Samples:     len(f.window),
		ConfidenceM: est.ConfidenceM,
		Settled:     len(f.window) >= MinSamples,
	}
}
