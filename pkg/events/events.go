package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type EventType string

const (
	BlinkStarted EventType = "blink.started"
	LevelChanged EventType = "blink.level"
	CycleDone    EventType = "blink.cycle"
	BlinkStopped EventType = "blink.stopped"
)

type Event struct {
	ID        string
	Type      EventType
	Source    string
	Timestamp time.Time
	Data      map[string]interface{}
}

type Handler func(event Event)

// Publisher is the sending half of the bus. The blink controller only
// needs this, which keeps it testable without a worker pool.
type Publisher interface {
	Publish(event Event)
}

// WorkerPoolConfig holds configuration for the event bus worker pool
type WorkerPoolConfig struct {
	WorkerCount int // Number of worker goroutines (default: 1, keeps per-type ordering)
	BufferSize  int // Channel buffer size (default: 64)

	// Logger receives handler panics. Defaults to a logrus logger on stderr.
	Logger logrus.FieldLogger
}

// DefaultWorkerPoolConfig returns the default configuration
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 1,
		BufferSize:  64,
	}
}

type eventTask struct {
	event   Event
	handler Handler
}

type EventBus struct {
	handlers   map[EventType][]Handler
	mu         sync.RWMutex
	workerPool chan eventTask
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	config     WorkerPoolConfig
}

func NewEventBus() *EventBus {
	return NewEventBusWithConfig(DefaultWorkerPoolConfig())
}

func NewEventBusWithConfig(config WorkerPoolConfig) *EventBus {
	if config.WorkerCount < 1 {
		config.WorkerCount = 1
	}
	if config.BufferSize < 1 {
		config.BufferSize = 1
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())

	eb := &EventBus{
		handlers:   make(map[EventType][]Handler),
		workerPool: make(chan eventTask, config.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
		config:     config,
	}

	for i := 0; i < config.WorkerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	return eb
}

// worker processes events from the worker pool. On shutdown it drains
// whatever is still queued so that late notices (the final cycle, the
// stop event) are not lost.
func (eb *EventBus) worker() {
	defer eb.wg.Done()

	for {
		select {
		case task := <-eb.workerPool:
			eb.execute(task)
		case <-eb.ctx.Done():
			for {
				select {
				case task := <-eb.workerPool:
					eb.execute(task)
				default:
					return
				}
			}
		}
	}
}

func (eb *EventBus) execute(task eventTask) {
	defer func() {
		if r := recover(); r != nil {
			eb.config.Logger.WithFields(logrus.Fields{
				"event": string(task.event.Type),
				"panic": r,
			}).Error("event handler panic")
		}
	}()
	task.handler(task.event)
}

func (eb *EventBus) Subscribe(eventType EventType, handler Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish queues the event for every handler of its type. If the pool is
// full, the handler runs on the publishing goroutine instead of being
// dropped; the controller never publishes while holding its lock.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.ID = uuid.New().String()

	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, handler := range handlers {
		task := eventTask{
			event:   event,
			handler: handler,
		}

		if eb.ctx.Err() != nil {
			eb.execute(task)
			continue
		}

		select {
		case eb.workerPool <- task:
		default:
			eb.execute(task)
		}
	}
}

// Shutdown stops the workers after the queue has been drained.
func (eb *EventBus) Shutdown() {
	eb.cancel()
	eb.wg.Wait()
}
