package server

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"streamnet/metrics"
	"streamnet/nn"
	"streamnet/online"
	"streamnet/registry"
	"streamnet/store"
)

var (
	errUnknownModel   = errors.New("unknown model")
	errKindConflict   = errors.New("model exists with a different kind")
	errBadKind        = errors.New("unknown model kind")
	errInvalidRequest = errors.New("invalid request")
)

// Options fixes the architecture and training knobs shared by every model
// the service creates. They come from the models section of the config file.
type Options struct {
	MaxInstances int
	HiddenUnits  int
	Outputs      int // classifier logit count, caps the number of classes
	LearningRate float64
	Seed         int64
	Policy       online.FeaturePolicy
}

func (o *Options) applyDefaults() {
	if o.MaxInstances == 0 {
		o.MaxInstances = 256
	}
	if o.HiddenUnits == 0 {
		o.HiddenUnits = 16
	}
	if o.Outputs == 0 {
		o.Outputs = 8
	}
	if o.LearningRate == 0 {
		o.LearningRate = 0.01
	}
}

// managed is one named model held by the registry: the adapter for its kind
// plus the prequential metrics accumulated over its stream.
type managed struct {
	kind string

	clf *online.Classifier
	rgr *online.Regressor
	ae  *online.Autoencoder

	acc  *metrics.Accuracy
	mae  *metrics.MAE
	rmse *metrics.RMSE

	scoreSum float64
	scoreN   int
	last     float64
}

func (m *managed) steps() uint64 {
	switch m.kind {
	case online.KindClassifier:
		return m.clf.Steps()
	case online.KindRegressor:
		return m.rgr.Steps()
	default:
		return m.ae.Steps()
	}
}

// Service owns the model registry, builds adapters on demand, and keeps the
// per-model serving metrics. Persistence goes through the snapshot store.
type Service struct {
	reg   *registry.Registry[*managed]
	store *store.Store
	log   *zap.Logger
	opts  Options

	mu    sync.Mutex
	kinds map[string]string
}

// NewService wires the registry, store and logger together. snaps may be nil
// when persistence is disabled.
func NewService(opts Options, snaps *store.Store, log *zap.Logger) (*Service, error) {
	opts.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	s := &Service{
		store: snaps,
		log:   log,
		opts:  opts,
		kinds: make(map[string]string),
	}
	reg, err := registry.New(opts.MaxInstances, s.build, log)
	if err != nil {
		return nil, err
	}
	s.reg = reg
	return s, nil
}

// build is the registry factory. The kind must already be recorded for the
// name; learn requests record it before touching the registry.
func (s *Service) build(name string) (*managed, error) {
	s.mu.Lock()
	kind := s.kinds[name]
	s.mu.Unlock()
	return s.newManaged(kind)
}

func (s *Service) newManaged(kind string) (*managed, error) {
	cfg := online.Config{
		Optimizer: nn.SGD(nn.SGDConfig{LR: s.opts.LearningRate}),
		Policy:    s.opts.Policy,
		Seed:      s.opts.Seed,
	}
	hidden, outputs := s.opts.HiddenUnits, s.opts.Outputs

	switch kind {
	case online.KindClassifier:
		build := func(nFeatures int, rng *rand.Rand) (*nn.Network, error) {
			net := nn.NewNetwork(nFeatures, rng).
				Dense(hidden, nn.ReLU()).
				Dense(outputs, nn.Softmax())
			return net, net.Err()
		}
		return &managed{kind: kind, clf: online.NewClassifier(build, cfg), acc: metrics.NewAccuracy()}, nil

	case online.KindRegressor:
		build := func(nFeatures int, rng *rand.Rand) (*nn.Network, error) {
			net := nn.NewNetwork(nFeatures, rng).
				Dense(hidden, nn.ReLU()).
				Dense(1, nn.Identity())
			return net, net.Err()
		}
		return &managed{kind: kind, rgr: online.NewRegressor(build, cfg), mae: metrics.NewMAE(), rmse: metrics.NewRMSE()}, nil

	case online.KindAutoencoder:
		build := func(nFeatures int, rng *rand.Rand) (*nn.Network, error) {
			net := nn.NewNetwork(nFeatures, rng).
				Dense(hidden, nn.Tanh()).
				Dense(nFeatures, nn.Identity())
			return net, net.Err()
		}
		return &managed{kind: kind, ae: online.NewAutoencoder(build, cfg)}, nil

	default:
		return nil, fmt.Errorf("%w: %q", errBadKind, kind)
	}
}

// resolveKind records the kind for name on first contact and rejects a
// conflicting kind afterwards.
func (s *Service) resolveKind(name, kind string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.kinds[name]
	if !ok {
		if kind == "" {
			return "", fmt.Errorf("%w: kind required for new model %q", errInvalidRequest, name)
		}
		switch kind {
		case online.KindClassifier, online.KindRegressor, online.KindAutoencoder:
		default:
			return "", fmt.Errorf("%w: %q", errBadKind, kind)
		}
		s.kinds[name] = kind
		return kind, nil
	}
	if kind != "" && kind != existing {
		return "", fmt.Errorf("%w: %s is %s, not %s", errKindConflict, name, existing, kind)
	}
	return existing, nil
}

func (s *Service) kindOf(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.kinds[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", errUnknownModel, name)
	}
	return kind, nil
}

// LearnResult reports the model state after one learn step.
type LearnResult struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Steps uint64 `json:"steps"`
}

// Learn routes one labeled example to the named model. Prediction metrics
// are updated prequentially: predict first, then learn.
func (s *Service) Learn(name, kind string, x online.Example, label string, target *float64) (LearnResult, error) {
	kind, err := s.resolveKind(name, kind)
	if err != nil {
		return LearnResult{}, err
	}

	var res LearnResult
	err = s.reg.Do(name, func(m *managed) error {
		switch m.kind {
		case online.KindClassifier:
			if label == "" {
				return fmt.Errorf("%w: classifier learn requires a label", errInvalidRequest)
			}
			if pred, err := m.clf.PredictOne(x); err == nil {
				m.acc.Update(label, pred)
			}
			if _, err := m.clf.LearnOne(x, label); err != nil {
				return err
			}

		case online.KindRegressor:
			if target == nil {
				return fmt.Errorf("%w: regressor learn requires a target", errInvalidRequest)
			}
			if pred, err := m.rgr.PredictOne(x); err == nil {
				m.mae.Update(*target, pred)
				m.rmse.Update(*target, pred)
			}
			if _, err := m.rgr.LearnOne(x, *target); err != nil {
				return err
			}

		default:
			if score, err := m.ae.ScoreOne(x); err == nil {
				m.scoreSum += score
				m.scoreN++
				m.last = score
			}
			if _, err := m.ae.LearnOne(x); err != nil {
				return err
			}
		}
		res = LearnResult{Name: name, Kind: m.kind, Steps: m.steps()}
		return nil
	})
	return res, err
}

// Prediction is the answer for one example: a class distribution for
// classifiers, a point value for regressors, a reconstruction for
// autoencoders.
type Prediction struct {
	Name     string             `json:"name"`
	Kind     string             `json:"kind"`
	Class    string             `json:"class,omitempty"`
	Proba    map[string]float64 `json:"proba,omitempty"`
	Value    *float64           `json:"value,omitempty"`
	Reconstr online.Example     `json:"reconstruction,omitempty"`
}

// Predict answers one example with the named model. Unknown names are not
// created implicitly.
func (s *Service) Predict(name string, x online.Example) (Prediction, error) {
	if _, err := s.kindOf(name); err != nil {
		return Prediction{}, err
	}

	var res Prediction
	err := s.reg.Do(name, func(m *managed) error {
		res = Prediction{Name: name, Kind: m.kind}
		switch m.kind {
		case online.KindClassifier:
			proba, err := m.clf.PredictProbaOne(x)
			if err != nil {
				return err
			}
			class, err := m.clf.PredictOne(x)
			if err != nil {
				return err
			}
			res.Class, res.Proba = class, proba

		case online.KindRegressor:
			v, err := m.rgr.PredictOne(x)
			if err != nil {
				return err
			}
			res.Value = &v

		default:
			rec, err := m.ae.ReconstructOne(x)
			if err != nil {
				return err
			}
			res.Reconstr = rec
		}
		return nil
	})
	return res, err
}

// Score is the anomaly verdict for one example against an autoencoder.
type Score struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Anomaly   bool    `json:"anomaly"`
}

// ScoreOne computes the reconstruction error of x under the named
// autoencoder and flags it against the threshold.
func (s *Service) ScoreOne(name string, x online.Example, threshold float64) (Score, error) {
	kind, err := s.kindOf(name)
	if err != nil {
		return Score{}, err
	}
	if kind != online.KindAutoencoder {
		return Score{}, fmt.Errorf("%w: scoring needs an autoencoder, %s is a %s", errInvalidRequest, name, kind)
	}

	var res Score
	err = s.reg.Do(name, func(m *managed) error {
		score, err := m.ae.ScoreOne(x)
		if err != nil {
			return err
		}
		res = Score{Name: name, Score: score, Threshold: threshold, Anomaly: score > threshold}
		return nil
	})
	return res, err
}

// ModelMetrics is one model's running serving metrics.
type ModelMetrics struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Steps     uint64   `json:"steps"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	MAE       *float64 `json:"mae,omitempty"`
	RMSE      *float64 `json:"rmse,omitempty"`
	MeanScore *float64 `json:"mean_score,omitempty"`
	LastScore *float64 `json:"last_score,omitempty"`
}

// Metrics reports the running metrics of one model.
func (s *Service) Metrics(name string) (ModelMetrics, error) {
	if _, err := s.kindOf(name); err != nil {
		return ModelMetrics{}, err
	}
	var res ModelMetrics
	err := s.reg.Do(name, func(m *managed) error {
		res = snapshotMetrics(name, m)
		return nil
	})
	return res, err
}

// AllMetrics reports the metrics of every model currently resident in the
// registry. Evicted models are skipped rather than revived.
func (s *Service) AllMetrics() []ModelMetrics {
	keys := s.reg.Keys()
	out := make([]ModelMetrics, 0, len(keys))
	for _, name := range keys {
		err := s.reg.Do(name, func(m *managed) error {
			out = append(out, snapshotMetrics(name, m))
			return nil
		})
		if err != nil {
			s.log.Warn("metrics collection skipped model", zap.String("model", name), zap.Error(err))
		}
	}
	return out
}

func snapshotMetrics(name string, m *managed) ModelMetrics {
	mm := ModelMetrics{Name: name, Kind: m.kind, Steps: m.steps()}
	switch m.kind {
	case online.KindClassifier:
		if m.acc.N() > 0 {
			v := m.acc.Get()
			mm.Accuracy = &v
		}
	case online.KindRegressor:
		mae, rmse := m.mae.Get(), m.rmse.Get()
		mm.MAE, mm.RMSE = &mae, &rmse
	default:
		if m.scoreN > 0 {
			mean := m.scoreSum / float64(m.scoreN)
			last := m.last
			mm.MeanScore, mm.LastScore = &mean, &last
		}
	}
	return mm
}

// Names lists all models the service has seen, resident or not.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.kinds))
	for name := range s.kinds {
		names = append(names, name)
	}
	return names
}

// Save persists the named model's snapshot to the store.
func (s *Service) Save(name string) error {
	if _, err := s.kindOf(name); err != nil {
		return err
	}
	if s.store == nil {
		return errors.New("snapshot store not configured")
	}
	return s.reg.Do(name, func(m *managed) error {
		var (
			snap *online.Snapshot
			err  error
		)
		switch m.kind {
		case online.KindClassifier:
			snap, err = m.clf.Snapshot()
		case online.KindRegressor:
			snap, err = m.rgr.Snapshot()
		default:
			snap, err = m.ae.Snapshot()
		}
		if err != nil {
			return err
		}
		return s.store.Save(name, snap)
	})
}

// Restore replaces the named model with the snapshot stored under its name.
// Running metrics restart from zero; they are serving state, not model state.
func (s *Service) Restore(name string) error {
	if s.store == nil {
		return errors.New("snapshot store not configured")
	}
	snap, err := s.store.Load(name)
	if err != nil {
		return err
	}

	fresh, err := s.newManaged(snap.Kind)
	if err != nil {
		return err
	}
	switch snap.Kind {
	case online.KindClassifier:
		err = fresh.clf.Restore(snap)
	case online.KindRegressor:
		err = fresh.rgr.Restore(snap)
	default:
		err = fresh.ae.Restore(snap)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.kinds[name] = snap.Kind
	s.mu.Unlock()

	// Drop the resident instance so the factory result is replaced by the
	// restored one on next access.
	s.reg.Remove(name)
	return s.reg.Do(name, func(m *managed) error {
		*m = *fresh
		return nil
	})
}

// Remove forgets the named model and its resident state. The stored
// snapshot, if any, is left untouched.
func (s *Service) Remove(name string) error {
	if _, err := s.kindOf(name); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.kinds, name)
	s.mu.Unlock()
	s.reg.Remove(name)
	return nil
}
