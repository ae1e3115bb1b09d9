package portal

import (
	"fmt"
	"time"
)

// Riga is the time zone every portal date and chart timestamp is expressed
// in. The portal has no notion of any other zone.
var Riga = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Riga")
	if err != nil {
		panic(fmt.Errorf("failed to load Riga location: %w", err))
	}
	return loc
}()

// Midnight returns the start of the day t falls on in the portal's zone.
func Midnight(t time.Time) time.Time {
	t = t.In(Riga)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Riga)
}
