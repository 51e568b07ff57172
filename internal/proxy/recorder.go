package proxy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
	"github.com/seu-repo/ocpp-bridge/internal/observability/telemetry"
	"github.com/seu-repo/ocpp-bridge/internal/ports"
)

// Recorder appends message-log records off the forwarding hot path. Records
// are handed to a background worker through a bounded queue; when the queue
// is full the oldest queued record is dropped so forwarding never stalls on
// the database.
type Recorder struct {
	repo ports.MessageLogRepository
	log  *zap.Logger
	ch   chan *domain.MessageLog
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

func NewRecorder(repo ports.MessageLogRepository, queueSize int, log *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Recorder{
		repo: repo,
		log:  log,
		ch:   make(chan *domain.MessageLog, queueSize),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Run drains the queue until Close is called. Persistence failures are
// logged and the record is lost; logs are observational.
func (r *Recorder) Run() {
	defer close(r.done)
	for {
		select {
		case rec := <-r.ch:
			r.persist(rec)
		case <-r.quit:
			// Flush whatever is already queued, then exit.
			for {
				select {
				case rec := <-r.ch:
					r.persist(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(rec *domain.MessageLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.repo.Append(ctx, rec); err != nil {
		r.log.Error("Failed to append message log",
			zap.String("charge_point_id", rec.ChargePointID),
			zap.String("direction", string(rec.Direction)),
			zap.Error(err),
		)
	}
}

// Record enqueues one frame record. Never blocks: on a full queue the oldest
// queued record is discarded and counted. Records arriving after Close are
// dropped; sessions may still be forwarding while the server shuts down.
func (r *Recorder) Record(chargePointID string, direction domain.Direction, payload string) {
	telemetry.FramesTotal.WithLabelValues(string(direction)).Inc()

	select {
	case <-r.quit:
		telemetry.LogRecordsDroppedTotal.Inc()
		return
	default:
	}

	rec := &domain.MessageLog{
		ChargePointID: chargePointID,
		Direction:     direction,
		Payload:       payload,
		Timestamp:     time.Now().Unix(),
	}

	select {
	case r.ch <- rec:
		return
	default:
	}

	// Queue full: drop the oldest entry to make room for the newest.
	select {
	case <-r.ch:
		telemetry.LogRecordsDroppedTotal.Inc()
	default:
	}
	select {
	case r.ch <- rec:
	default:
		telemetry.LogRecordsDroppedTotal.Inc()
	}
}

// Close stops the worker after the queue drains. Safe to call more than
// once, and safe against concurrent Record calls: the record channel is
// never closed, so a session racing shutdown drops its record instead of
// panicking.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.quit) })
	<-r.done
}
