package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"tickstream/config"
	"tickstream/logger"
)

// Metric is one structured measurement emitted by a component.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     float64
	Type      string
	Fields    logger.Fields
}

// MetricHandler consumes emitted metrics. Handlers run on the emitting
// goroutine and must not block.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registered handler.
type MetricHandlerID uint64

type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[MetricHandlerID]MetricHandler
	nextID   MetricHandlerID
}

var (
	registry = &handlerRegistry{handlers: make(map[MetricHandlerID]MetricHandler)}
	enabled  atomic.Bool
)

// Configure switches metric emission on or off.
func Configure(cfg config.MetricsConfig) {
	enabled.Store(cfg.Enabled)
}

// Enabled reports whether metrics are emitted.
func Enabled() bool {
	return enabled.Load()
}

// RegisterMetricHandler adds a handler receiving every emitted metric.
// A nil handler yields the zero id.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.nextID++
	registry.handlers[registry.nextID] = handler
	return registry.nextID
}

// UnregisterMetricHandler removes a handler. Unknown ids are ignored.
func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}
	registry.mu.Lock()
	delete(registry.handlers, id)
	registry.mu.Unlock()
}

func (r *handlerRegistry) dispatch(m Metric) {
	r.mu.RLock()
	handlers := make([]MetricHandler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(m)
	}
}

// EmitMetric logs a metric at debug level and hands it to every handler.
// Nothing happens while metrics are disabled or when name is empty.
func EmitMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) {
	if !enabled.Load() || name == "" {
		return
	}
	numeric, ok := toFloat64(value)
	if !ok {
		return
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	userFields := cloneFields(fields)
	logFields := cloneFields(fields)
	logFields["metric"] = name
	logFields["metric_type"] = metricType
	logFields["value"] = numeric
	log.WithComponent(component).WithFields(logFields).Debug("metric")

	registry.dispatch(Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     numeric,
		Type:      metricType,
		Fields:    userFields,
	})
}

// Count emits a counter increment of one.
func Count(component, name string, fields logger.Fields) {
	EmitMetric(nil, component, name, 1, "counter", fields)
}

func cloneFields(fields logger.Fields) logger.Fields {
	copied := make(logger.Fields, len(fields)+3)
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
