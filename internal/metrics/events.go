package metrics

import (
	"context"

	"github.com/ricesearch/rank-tree/internal/bus"
	"github.com/ricesearch/rank-tree/internal/pkg/logger"
)

// EventSubscriber subscribes to the event bus and updates metrics.
type EventSubscriber struct {
	metrics *Metrics
	bus     bus.Bus
	log     *logger.Logger
}

// NewEventSubscriber creates a new event subscriber. log may be nil.
func NewEventSubscriber(metrics *Metrics, eventBus bus.Bus, log *logger.Logger) *EventSubscriber {
	if log == nil {
		log = logger.Discard()
	}
	return &EventSubscriber{
		metrics: metrics,
		bus:     eventBus,
		log:     log,
	}
}

// SubscribeToEvents subscribes to every tree topic.
func (es *EventSubscriber) SubscribeToEvents(ctx context.Context) error {
	handlers := map[string]bus.Handler{
		bus.TopicTreeFitted:    es.handleFitted,
		bus.TopicTreeScored:    es.handleScored,
		bus.TopicTreePredicted: es.handlePredicted,
		bus.TopicTreeSaved:     es.handleSaved,
		bus.TopicTreeDeleted:   es.handleDeleted,
	}
	for topic, h := range handlers {
		if err := es.bus.Subscribe(ctx, topic, es.count(topic, h)); err != nil {
			return err
		}
	}
	return nil
}

// count wraps h so every event is counted and decode failures are recorded.
func (es *EventSubscriber) count(topic string, h bus.Handler) bus.Handler {
	return func(ctx context.Context, event bus.Event) error {
		es.metrics.Events.WithLabelValues(topic).Inc()
		if err := h(ctx, event); err != nil {
			es.metrics.EventErrors.WithLabelValues(topic).Inc()
			es.log.Debug("event not recorded", "topic", topic, "event_id", event.ID, "error", err.Error())
			return err
		}
		return nil
	}
}

// Event handlers

func (es *EventSubscriber) handleFitted(ctx context.Context, event bus.Event) error {
	p, err := bus.DecodePayload[bus.FittedPayload](event)
	if err != nil {
		return err
	}
	es.metrics.TreesFitted.WithLabelValues(p.Formula).Inc()
	es.metrics.TreeSplits.Observe(float64(p.Splits))
	es.metrics.TreeGroups.Observe(float64(p.Groups))
	if p.Tree != "" {
		es.metrics.TreeAIC.WithLabelValues(p.Tree, sample(true)).Set(p.AIC)
	}
	return nil
}

func (es *EventSubscriber) handleScored(ctx context.Context, event bus.Event) error {
	p, err := bus.DecodePayload[bus.ScoredPayload](event)
	if err != nil {
		return err
	}
	es.metrics.TreeScores.WithLabelValues(sample(p.InSample)).Inc()
	es.metrics.ScoreGroups.Observe(float64(p.Groups))
	if p.Tree != "" {
		es.metrics.TreeAIC.WithLabelValues(p.Tree, sample(p.InSample)).Set(p.AIC)
	}
	return nil
}

func (es *EventSubscriber) handlePredicted(ctx context.Context, event bus.Event) error {
	p, err := bus.DecodePayload[bus.PredictedPayload](event)
	if err != nil {
		return err
	}
	es.metrics.Predictions.WithLabelValues(p.Type).Inc()
	es.metrics.PredictedGroups.WithLabelValues(p.Type).Add(float64(p.Groups))
	return nil
}

func (es *EventSubscriber) handleSaved(ctx context.Context, event bus.Event) error {
	es.metrics.TreesSaved.Inc()
	return nil
}

func (es *EventSubscriber) handleDeleted(ctx context.Context, event bus.Event) error {
	p, err := bus.DecodePayload[bus.TreePayload](event)
	if err != nil {
		return err
	}
	es.metrics.TreesDeleted.Inc()
	es.metrics.TreeAIC.DeletePartialMatch(map[string]string{"tree": p.Tree})
	return nil
}
