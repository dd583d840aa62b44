package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"jordanella.com/pogo-fleet/internal/pipeline"
)

// Unit identifies one work unit run by a worker
type Unit struct {
	ID       string
	WorkerID int
	Seq      int
	Account  string
}

// Job is the work a worker repeats with its session. Returning an error
// abandons the unit; the worker decides what happens next from the error.
type Job interface {
	Run(ctx context.Context, unit Unit, session *pipeline.Session) error
}

// JobFunc adapts a function to Job
type JobFunc func(ctx context.Context, unit Unit, session *pipeline.Session) error

// Run calls f
func (f JobFunc) Run(ctx context.Context, unit Unit, session *pipeline.Session) error {
	return f(ctx, unit, session)
}

var (
	unitEntropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	unitEntropyMu sync.Mutex
)

// newUnitID returns a sortable unique ID for a work unit
func newUnitID() string {
	unitEntropyMu.Lock()
	defer unitEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), unitEntropy).String()
}
