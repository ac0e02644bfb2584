// Package emissions estimates the carbon cost of fitting and scoring.
package emissions

import (
	"context"
	"fmt"
	"time"
)

// #region tracker
// Tracker opens a scoped measurement around one unit of work.
type Tracker interface {
	Enabled() bool
	Start(ctx context.Context) Measurement
}

// Measurement is an open scope; Stop returns kilograms of CO2-equivalent.
type Measurement interface {
	Stop() (float64, error)
}

// Disabled is the null tracker. Results carry no emissions column with it.
type Disabled struct{}

func (Disabled) Enabled() bool                     { return false }
func (Disabled) Start(context.Context) Measurement { return noMeasurement{} }

type noMeasurement struct{}

func (noMeasurement) Stop() (float64, error) { return 0, nil }

// OrDisabled returns t, or Disabled when t is nil.
func OrDisabled(t Tracker) Tracker {
	if t == nil {
		return Disabled{}
	}
	return t
}

// #endregion tracker

// #region power
// PowerTracker converts wall time at a constant power draw into emissions
// using a grid carbon intensity.
type PowerTracker struct {
	Watts       float64
	GramsPerKWh float64
	Now         func() time.Time // defaults to time.Now
}

// NewPowerTracker validates the power draw and carbon intensity.
func NewPowerTracker(watts, gramsPerKWh float64) (*PowerTracker, error) {
	if watts <= 0 || gramsPerKWh <= 0 {
		return nil, fmt.Errorf("power tracker needs positive watts and intensity, got %g W, %g g/kWh", watts, gramsPerKWh)
	}
	return &PowerTracker{Watts: watts, GramsPerKWh: gramsPerKWh}, nil
}

func (p *PowerTracker) Enabled() bool { return true }

func (p *PowerTracker) Start(context.Context) Measurement {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &powerMeasurement{p: p, now: now, start: now()}
}

type powerMeasurement struct {
	p       *PowerTracker
	now     func() time.Time
	start   time.Time
	stopped bool
}

func (m *powerMeasurement) Stop() (float64, error) {
	if m.stopped {
		return 0, fmt.Errorf("measurement already stopped")
	}
	m.stopped = true
	kwh := m.p.Watts * m.now().Sub(m.start).Hours() / 1000
	return kwh * m.p.GramsPerKWh / 1000, nil
}

// #endregion power
