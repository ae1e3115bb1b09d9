package types

import (
	"fmt"
	"time"
)

const (
	// SourceEST tags every series produced from the e-st.lv portal.
	SourceEST = "e_st"

	// UnitKWH is the unit of measurement for all energy series.
	UnitKWH = "kWh"

	// AccountDefault names the portal account when only one is configured.
	AccountDefault = "default"
)

// Direction identifies which way energy flowed through a meter.
type Direction string

const (
	// DirectionConsumed is energy drawn from the grid.
	DirectionConsumed Direction = "consumed"
	// DirectionReturned is energy exported back to the grid.
	DirectionReturned Direction = "returned"
)

// Directions lists every flow direction a meter reports.
var Directions = []Direction{DirectionConsumed, DirectionReturned}

// Meter represents a single smart meter registered on a portal account.
type Meter struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// StatisticID returns the stable series identifier for one direction of a
// meter, e.g. "e_st:12345_consumed".
func StatisticID(meterID string, direction Direction) string {
	return fmt.Sprintf("%s:%s_%s", SourceEST, meterID, direction)
}

// MetadataFor builds the metadata written alongside the records of one
// direction of a meter.
func MetadataFor(m Meter, direction Direction) SeriesMetadata {
	return SeriesMetadata{
		StatisticID: StatisticID(m.ID, direction),
		Name:        fmt.Sprintf("%s (%s) %s", m.Address, m.ID, direction),
		Source:      SourceEST,
		Unit:        UnitKWH,
		HasSum:      true,
	}
}

// IntervalPoint is a single hourly reading as served by the portal. TS marks
// the end of the metering interval.
type IntervalPoint struct {
	TS  time.Time `json:"ts"`
	KWH float64   `json:"kwh"`
}

// CumulativeRecord is one stored point of a running-total series. Start marks
// the beginning of the hour the record covers.
type CumulativeRecord struct {
	StatisticID string    `json:"statisticID"`
	Start       time.Time `json:"start"`
	Sum         float64   `json:"sum"`
}

// SeriesMetadata describes one statistic series.
type SeriesMetadata struct {
	StatisticID string `json:"statisticID"`
	Name        string `json:"name"`
	Source      string `json:"source"`
	Unit        string `json:"unit"`
	HasSum      bool   `json:"hasSum"`
}

// Customer represents the portal account holder.
type Customer struct {
	FullName string `json:"fullName"`
	EICCode  string `json:"eicCode"`
}
