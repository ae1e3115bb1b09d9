package portal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMidnight(t *testing.T) {
	in := time.Date(2024, time.March, 10, 15, 42, 7, 123, Riga)
	assert.True(t, Midnight(in).Equal(time.Date(2024, time.March, 10, 0, 0, 0, 0, Riga)))

	// a UTC instant that is already the next day in Riga
	utc := time.Date(2024, time.March, 9, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, 10, Midnight(utc).Day(), "midnight is computed in the portal's zone")
}

func TestMidnightAcrossDST(t *testing.T) {
	// Riga springs forward on 2024-03-31, leaving a 23 hour day
	spring := Midnight(time.Date(2024, time.March, 31, 12, 0, 0, 0, Riga))
	next := Midnight(spring.AddDate(0, 0, 1))
	assert.Equal(t, 23*time.Hour, next.Sub(spring))

	// and falls back on 2024-10-27, a 25 hour day
	fall := Midnight(time.Date(2024, time.October, 27, 12, 0, 0, 0, Riga))
	next = Midnight(fall.AddDate(0, 0, 1))
	assert.Equal(t, 25*time.Hour, next.Sub(fall))
}
