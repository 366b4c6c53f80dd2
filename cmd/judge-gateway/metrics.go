package main

import (
	"context"
	"errors"
	"time"

	"github.com/criyle/judge-gateway/gateway"
	"github.com/criyle/judge-gateway/lock"
	"github.com/criyle/judge-gateway/taskqueue"
	"github.com/criyle/judge-gateway/types"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "judge_gateway"
)

var (
	// 1ms -> 10s
	timeBuckets = []float64{
		0.001, 0.002, 0.005, 0.008, 0.010, 0.025, 0.050, 0.075, 0.1, 0.2,
		0.4, 0.6, 0.8, 1.0, 1.5, 2, 5, 10,
	}

	queueEnqueueCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "queue",
		Name:      "enqueue_total",
		Help:      "Number of tasks put into the queue",
	}, []string{"requeue"})

	queueDequeueCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "queue",
		Name:      "dequeue_total",
		Help:      "Number of dequeue attempts by result",
	}, []string{"result"})

	queueDequeueHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "queue",
		Name:      "dequeue_seconds",
		Help:      "Histogram for the dequeue wait",
		Buckets:   timeBuckets,
	})

	lockHeldHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "lock",
		Name:      "held_seconds",
		Help:      "Histogram for the time spent waiting for and holding locks",
		Buckets:   timeBuckets,
	}, []string{"mode"})

	lockErrorCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "lock",
		Name:      "error_total",
		Help:      "Number of lock failures by cause",
	}, []string{"cause"})

	gatewayEventCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "gateway",
		Name:      "event_total",
		Help:      "Number of worker session events by kind",
	}, []string{"kind"})

	gatewaySessionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "gateway",
		Name:      "sessions",
		Help:      "Number of worker sessions on this instance",
	})
)

func init() {
	prometheus.MustRegister(
		queueEnqueueCount, queueDequeueCount, queueDequeueHist,
		lockHeldHist, lockErrorCount,
		gatewayEventCount, gatewaySessionGauge,
	)
}

func registerQueueLength(length func() float64) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "queue",
		Name:      "length",
		Help:      "Number of tasks waiting in the queue",
	}, length))
}

var _ taskqueue.Queue = &metricsQueue{}

type metricsQueue struct {
	taskqueue.Queue
}

func (q *metricsQueue) Enqueue(ctx context.Context, taskID string, score float64, isRequeue bool) error {
	err := q.Queue.Enqueue(ctx, taskID, score, isRequeue)
	if err == nil {
		if isRequeue {
			queueEnqueueCount.WithLabelValues("true").Inc()
		} else {
			queueEnqueueCount.WithLabelValues("false").Inc()
		}
	}
	return err
}

func (q *metricsQueue) Dequeue(ctx context.Context, timeout time.Duration) (*types.Task, error) {
	start := time.Now()
	t, err := q.Queue.Dequeue(ctx, timeout)
	switch {
	case err != nil:
		queueDequeueCount.WithLabelValues("error").Inc()
	case t == nil:
		queueDequeueCount.WithLabelValues("empty").Inc()
	default:
		queueDequeueCount.WithLabelValues("task").Inc()
		queueDequeueHist.Observe(time.Since(start).Seconds())
	}
	return t, err
}

type locker interface {
	Lock(ctx context.Context, name string, body func(context.Context) error) error
	LockReadWrite(ctx context.Context, name string, mode lock.Mode, body func(context.Context) error) error
}

type metricsLocker struct {
	locker
}

func (l *metricsLocker) Lock(ctx context.Context, name string, body func(context.Context) error) error {
	start := time.Now()
	err := l.locker.Lock(ctx, name, body)
	observeLock("exclusive", start, err)
	return err
}

func (l *metricsLocker) LockReadWrite(ctx context.Context, name string, mode lock.Mode, body func(context.Context) error) error {
	start := time.Now()
	err := l.locker.LockReadWrite(ctx, name, mode, body)
	observeLock(mode.String(), start, err)
	return err
}

func observeLock(mode string, start time.Time, err error) {
	lockHeldHist.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, lock.ErrRetryExhausted):
		lockErrorCount.WithLabelValues("retry_exhausted").Inc()
	case errors.Is(err, lock.ErrOwnershipLost):
		lockErrorCount.WithLabelValues("ownership_lost").Inc()
	}
}

func observeGateway(e gateway.Event) {
	gatewayEventCount.WithLabelValues(e.Kind.String()).Inc()
	switch e.Kind {
	case gateway.EventConnected:
		gatewaySessionGauge.Inc()
	case gateway.EventDisconnected:
		gatewaySessionGauge.Dec()
	}
}
