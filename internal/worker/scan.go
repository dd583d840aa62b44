package worker

import (
	"context"
	"errors"

	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/geo"
	"jordanella.com/pogo-fleet/internal/logging"
	"jordanella.com/pogo-fleet/internal/pipeline"
)

// ErrNoPosition is returned when a scan has nowhere to go
var ErrNoPosition = errors.New("no route stop and no account position")

// ScanJob scans one route stop per unit. Workers start at different stops
// so a fleet spreads over the route.
type ScanJob struct {
	route  []geo.Position
	logger *logging.Logger
}

// NewScanJob creates a job cycling through route. With an empty route each
// unit rescans the account's last known position.
func NewScanJob(route []geo.Position) *ScanJob {
	return &ScanJob{
		route:  route,
		logger: logging.NewLogger("ScanJob"),
	}
}

// Stop returns the position a unit scans
func (j *ScanJob) Stop(unit Unit, session *pipeline.Session) (geo.Position, bool) {
	if len(j.route) == 0 {
		if pos := session.Account().Position; pos != nil {
			return *pos, true
		}
		return geo.Position{}, false
	}
	index := (unit.WorkerID - 1 + unit.Seq - 1) % len(j.route)
	if index < 0 {
		index += len(j.route)
	}
	return j.route[index], true
}

// Run implements Job
func (j *ScanJob) Run(ctx context.Context, unit Unit, session *pipeline.Session) error {
	pos, ok := j.Stop(unit, session)
	if !ok {
		return ErrNoPosition
	}

	resp, err := session.Invoke(ctx, gameapi.Request{
		Action:   gameapi.ActionGetMapObjects,
		Position: &pos,
	})
	if err != nil {
		return err
	}

	j.logger.DebugWithContext("Scanned", map[string]interface{}{
		"unit":     unit.ID,
		"account":  session.Username(),
		"position": pos.String(),
		"species":  len(resp.Species),
	})
	return nil
}
