// Package ranktree ties fitting, scoring, prediction and storage of ranking
// trees together behind one service.
package ranktree

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/ricesearch/rank-tree/internal/bus"
	"github.com/ricesearch/rank-tree/internal/config"
	"github.com/ricesearch/rank-tree/internal/dataset"
	"github.com/ricesearch/rank-tree/internal/evaluation"
	"github.com/ricesearch/rank-tree/internal/frame"
	"github.com/ricesearch/rank-tree/internal/itempar"
	appctx "github.com/ricesearch/rank-tree/internal/pkg/context"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/pkg/logger"
	"github.com/ricesearch/rank-tree/internal/pkg/security"
	"github.com/ricesearch/rank-tree/internal/plackett"
	"github.com/ricesearch/rank-tree/internal/predict"
	"github.com/ricesearch/rank-tree/internal/store"
	"github.com/ricesearch/rank-tree/internal/tree"
)

// Source identifies events published by the service.
const Source = "ranktree"

// Service provides ranking tree operations.
type Service struct {
	cfg       *config.Config
	builder   *tree.Builder
	evaluator *evaluation.Evaluator
	storage   store.Storage
	store     *store.Service
	bus       bus.Bus
	log       *logger.Logger
}

// New creates a service over the given storage and bus. A nil bus disables
// events.
func New(cfg *config.Config, storage store.Storage, b bus.Bus, log *logger.Logger) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Discard()
	}

	fitter := plackett.NewFitter(log)
	opts := plackett.DefaultOptions()
	opts.MaxIter = cfg.Fit.MaxIter
	opts.Tol = cfg.Fit.Tol
	opts.NPseudo = cfg.Fit.NPseudo

	return &Service{
		cfg:       cfg,
		builder:   tree.NewBuilder(fitter, cfg.Tree, opts, log),
		evaluator: evaluation.NewEvaluator(fitter, cfg.Eval, log),
		storage:   storage,
		store:     store.NewService(storage, log),
		bus:       b,
		log:       log,
	}
}

// Open creates the storage and bus named by cfg and returns a service over
// them.
func Open(cfg *config.Config, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.Discard()
	}

	storage, err := store.NewStorage(cfg.Store)
	if err != nil {
		return nil, err
	}

	b, err := bus.NewBus(cfg.Bus, log)
	if err != nil {
		releaseStorage(storage, log)
		return nil, err
	}

	return New(cfg, storage, b, log), nil
}

// releaseStorage closes storage that Open will not hand to a service.
func releaseStorage(s store.Storage, log *logger.Logger) {
	if err := closeStorage(s); err != nil {
		log.WithError(err).Warn("failed to close storage")
	}
}

func closeStorage(s store.Storage) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Bus returns the event bus, or nil when events are disabled.
func (s *Service) Bus() bus.Bus {
	return s.bus
}

// Logger returns the service logger.
func (s *Service) Logger() *logger.Logger {
	return s.log
}

// Close releases the bus and storage.
func (s *Service) Close() error {
	var first error
	if s.bus != nil {
		first = s.bus.Close()
	}
	if err := closeStorage(s.storage); err != nil && first == nil {
		first = err
	}
	return first
}

// runID returns the correlation id carried by ctx, attaching a new one when
// there is none.
func runID(ctx context.Context) (context.Context, string) {
	if id := appctx.GetRunID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return appctx.WithRunID(ctx, id), id
}

// WithRunID makes every event published under ctx carry id as its
// correlation id.
func WithRunID(ctx context.Context, id string) context.Context {
	return appctx.WithRunID(ctx, id)
}

// publish sends an event, logging rather than returning failures.
func (s *Service) publish(ctx context.Context, topic string, payload any) {
	if s.bus == nil {
		return
	}
	ctx, id := runID(ctx)
	event := bus.NewEvent(topic, Source, id, payload)
	if err := s.bus.Publish(ctx, topic, event); err != nil {
		s.log.WithContext(ctx).Warn("failed to publish event",
			"topic", topic,
			"error", err.Error(),
		)
	}
}

// FitRequest describes a tree fit.
type FitRequest struct {
	Data    *dataset.Dataset
	Formula string
	Ref     itempar.Reference

	// Name saves the fitted tree when set.
	Name        string
	Description string
}

// FitResult is a fitted tree and, when it was saved, its record.
type FitResult struct {
	Tree   *tree.Tree
	Record *store.Record
}

// FitTree grows a tree on the request's data.
func (s *Service) FitTree(ctx context.Context, req FitRequest) (*FitResult, error) {
	if req.Data == nil {
		return nil, errors.ValidationError("data is required")
	}
	if req.Name != "" {
		if err := store.ValidateName(req.Name); err != nil {
			return nil, err
		}
	}

	f, err := frame.ParseFormula(req.Formula)
	if err != nil {
		return nil, err
	}
	mf, err := req.Data.ModelFrame(f, true)
	if err != nil {
		return nil, err
	}

	ctx, _ = runID(ctx)
	t, err := s.builder.Build(ctx, mf, req.Ref)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Error("tree fit failed", "formula", security.SanitizeForLog(req.Formula))
		return nil, err
	}

	s.publish(ctx, bus.TopicTreeFitted, bus.FittedPayload{
		Tree:    req.Name,
		Formula: t.Formula.String(),
		Groups:  len(t.Fitted),
		Nodes:   len(t.Nodes()),
		Splits:  t.NumSplits(),
		LogLik:  t.LogLik,
		DF:      t.DF(),
		AIC:     t.AIC(),
	})

	res := &FitResult{Tree: t}
	if req.Name != "" {
		rec, err := s.SaveTree(ctx, req.Name, req.Description, req.Data.Fingerprint(), t)
		if err != nil {
			return nil, err
		}
		res.Record = rec
	}
	return res, nil
}

// Coefficients extracts the item parameters of the named tree.
func (s *Service) Coefficients(ctx context.Context, name string, opts tree.CoefOptions) (*tree.CoefTable, error) {
	t, _, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return t.Coefficients(opts)
}

// Predict predicts for data with the named tree. Nil data predicts for the
// training groups.
func (s *Service) Predict(ctx context.Context, name string, data *dataset.Dataset, opts predict.Options) (*predict.Predictions, error) {
	t, _, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	var covs *frame.Frame
	if data != nil {
		covs = data.Covariates
	}
	p, err := predict.Predict(t, covs, opts)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, bus.TopicTreePredicted, bus.PredictedPayload{
		Tree:   name,
		Type:   string(p.Type),
		Groups: p.Len(),
	})
	return p, nil
}

// InformationCriterion scores the named tree on data, or in sample when
// data is nil.
func (s *Service) InformationCriterion(ctx context.Context, name string, data *dataset.Dataset) (*evaluation.Result, error) {
	t, _, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	ctx, _ = runID(ctx)
	res, err := s.evaluator.InformationCriterion(ctx, t, data)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, bus.TopicTreeScored, bus.ScoredPayload{
		Tree:     name,
		AIC:      res.AIC,
		LogLik:   res.LogLik,
		DF:       res.DF,
		Groups:   res.Groups,
		InSample: res.InSample,
	})
	return res, nil
}

// Agreement compares the named tree's predicted rankings with the observed
// rankings in data.
func (s *Service) Agreement(ctx context.Context, name string, data *dataset.Dataset) ([]evaluation.AgreementResult, *evaluation.AgreementSummary, error) {
	if data == nil {
		return nil, nil, errors.ValidationError("data is required")
	}
	t, _, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	results, err := s.evaluator.Agreement(t, data)
	if err != nil {
		return nil, nil, err
	}
	return results, s.evaluator.Summarize(results), nil
}

// SaveTree stores t under name.
func (s *Service) SaveTree(ctx context.Context, name, description, fingerprint string, t *tree.Tree) (*store.Record, error) {
	rec, err := s.store.Put(ctx, name, description, fingerprint, t)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, bus.TopicTreeSaved, bus.TreePayload{Tree: name})
	return rec, nil
}

// LoadTree loads the tree stored under name.
func (s *Service) LoadTree(ctx context.Context, name string) (*tree.Tree, *store.Record, error) {
	return s.store.Get(ctx, name)
}

// ListTrees returns every stored tree record ordered by name.
func (s *Service) ListTrees(ctx context.Context) ([]*store.Record, error) {
	return s.store.List(ctx)
}

// DeleteTree removes the tree stored under name.
func (s *Service) DeleteTree(ctx context.Context, name string) error {
	if err := s.store.Delete(ctx, name); err != nil {
		return err
	}
	s.publish(ctx, bus.TopicTreeDeleted, bus.TreePayload{Tree: name})
	return nil
}
