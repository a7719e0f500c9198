package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/ingest"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/lifecycle"
)

const probeTimeout = 5 * time.Second

// Service owns the configured detector and tracks model reachability.
type Service struct {
	detector Detector
	provider Provider
	model    ModelConfig
	labels   []string
	logger   *slog.Logger

	mu     sync.RWMutex
	status Status
}

// New builds the detector selected by cfg. The ONNX provider loads the model
// here, so a missing model file fails fast with ErrModelUnavailable.
func New(cfg *Config, logger *slog.Logger) (*Service, error) {
	var labels []string
	if cfg.LabelsFile != "" {
		l, err := LoadLabels(cfg.LabelsFile)
		if err != nil {
			return nil, err
		}
		labels = l
	}

	var detector Detector
	switch cfg.Provider {
	case ProviderHTTP:
		detector = NewHTTPDetector(cfg.Endpoint, cfg.HealthPath, nil)
	case ProviderVision:
		detector = NewVisionDetector(cfg.APIKey, cfg.Endpoint, labels)
	case ProviderONNX:
		d, err := NewONNXDetector(cfg.Model, cfg.Device, logger)
		if err != nil {
			return nil, err
		}
		detector = d
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}

	if cfg.SerializeEnabled() {
		detector = Serialize(detector)
	}

	return NewService(detector, cfg.Provider, cfg.ModelConfig(), labels, logger), nil
}

// NewService wraps an existing detector.
func NewService(detector Detector, provider Provider, model ModelConfig, labels []string, logger *slog.Logger) *Service {
	s := &Service{
		detector: detector,
		provider: provider,
		model:    model,
		labels:   labels,
		logger:   logger.With("system", "inference"),
		status: Status{
			Provider: string(provider),
			Model:    model.Model,
			Device:   model.Device,
			Labels:   labels,
		},
	}
	// A detector without a probe is reachable once constructed.
	if _, ok := detector.(Prober); !ok {
		s.status.Reachable = true
	}
	return s
}

// Start registers a startup health probe. An unreachable model is logged but
// does not block startup; runs against it fail with ErrModelUnavailable.
func (s *Service) Start(lc *lifecycle.Coordinator) error {
	s.logger.Info("starting inference system", "provider", s.provider, "model", s.model.Model, "device", s.model.Device)

	lc.OnStartup(func() {
		st := s.Status(lc.Context())
		if !st.Reachable {
			s.logger.Warn("model unreachable", "error", st.Error)
			return
		}
		s.logger.Info("model reachable")
	})

	return nil
}

// Model returns the model reference recorded on every analysis.
func (s *Service) Model() ModelConfig {
	return s.model
}

// Detect runs the model and fills missing labels from the class list.
func (s *Service) Detect(ctx context.Context, img *ingest.NormalizedImage) ([]detection.Raw, error) {
	raw, err := s.detector.Detect(ctx, img, s.model)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			s.record(err)
		}
		return nil, err
	}
	s.record(nil)

	for i := range raw {
		if raw[i].Label == "" {
			raw[i].Label = s.Label(raw[i].ClassID)
		}
	}
	return raw, nil
}

// Label returns the class name for id, or an empty string when unknown.
func (s *Service) Label(id int) string {
	if id >= 0 && id < len(s.labels) {
		return s.labels[id]
	}
	return ""
}

// Status probes the model when the detector supports it and returns the
// latest known state.
func (s *Service) Status(ctx context.Context) Status {
	if p, ok := s.detector.(Prober); ok {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		s.record(p.Probe(ctx))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Service) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.CheckedAt = time.Now().UTC()
	s.status.Reachable = err == nil
	s.status.Error = ""
	if err != nil {
		s.status.Error = err.Error()
	}
}
