package termuxapi

import "fmt"

// Object is one decoded response line.
type Object map[string]any

// Has reports whether key is present, even with a null value.
func (o Object) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns the value at key if it is a JSON string.
func (o Object) String(key string) (string, bool) {
	s, ok := o[key].(string)
	return s, ok
}

// Float returns the value at key if it is a JSON number.
func (o Object) Float(key string) (float64, bool) {
	f, ok := o[key].(float64)
	return f, ok
}

// Fix is a location reading as reported by the Termux Location method.
type Fix struct {
	Latitude         float64
	Longitude        float64
	Altitude         float64
	Accuracy         float64
	VerticalAccuracy float64
	Bearing          float64
	Speed            float64
	ElapsedMs        int64
	Provider         string
}

func (f Fix) String() string {
	return fmt.Sprintf("%.6f,%.6f (±%.0fm via %s)", f.Latitude, f.Longitude, f.Accuracy, f.Provider)
}

// Location decodes o as a location fix. ok is false when latitude or
// longitude are missing or not numbers.
func (o Object) Location() (fix Fix, ok bool) {
	if fix.Latitude, ok = o.Float("latitude"); !ok {
		return Fix{}, false
	}
	if fix.Longitude, ok = o.Float("longitude"); !ok {
		return Fix{}, false
	}
	fix.Altitude, _ = o.Float("altitude")
	fix.Accuracy, _ = o.Float("accuracy")
	fix.VerticalAccuracy, _ = o.Float("vertical_accuracy")
	fix.Bearing, _ = o.Float("bearing")
	fix.Speed, _ = o.Float("speed")
	if ms, found := o.Float("elapsedMs"); found {
		fix.ElapsedMs = int64(ms)
	}
	fix.Provider, _ = o.String("provider")
	return fix, true
}
