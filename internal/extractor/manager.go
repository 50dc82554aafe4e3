package extractor

import (
	"fmt"

	"github.com/xxxsen/voiceid/internal/config"
	xerrors "github.com/xxxsen/voiceid/internal/pkg/errors"
)

// Manager owns the loaded embedding backends and the optional diarizer
// for the life of the process. Backends are resolved by explicit name;
// there is no global default hidden inside the package.
type Manager struct {
	defaultName string
	backends    map[string]Extractor
	diarizer    Diarizer
}

type BackendFactory func(backend string, cfg config.BackendConfig) (Extractor, error)

type DiarizerFactory func(cfg config.DiarizerConfig) (Diarizer, error)

// NewManager loads every configured backend eagerly so a bad model path
// fails at startup, not mid-batch.
func NewManager(cfg *config.Config, newBackend BackendFactory, newDiarizer DiarizerFactory) (*Manager, error) {
	m := &Manager{
		defaultName: cfg.DefaultBackend,
		backends:    map[string]Extractor{},
	}
	for name, bc := range cfg.Backends {
		ex, err := newBackend(name, bc)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("load backend %s: %w", name, err)
		}
		m.backends[name] = ex
	}
	if cfg.Diarizer.SegmentationModel != "" && newDiarizer != nil {
		d, err := newDiarizer(cfg.Diarizer)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("load diarizer: %w", err)
		}
		m.diarizer = d
	}
	return m, nil
}

// Backend resolves a backend by name; an empty name means the configured
// default.
func (m *Manager) Backend(name string) (Extractor, error) {
	if name == "" {
		name = m.defaultName
	}
	if name == "" {
		return nil, fmt.Errorf("%w: no backend requested and no default configured", xerrors.ErrConfiguration)
	}
	ex, ok := m.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %s", xerrors.ErrConfiguration, name)
	}
	return ex, nil
}

func (m *Manager) DefaultName() string {
	return m.defaultName
}

func (m *Manager) Diarizer() (Diarizer, error) {
	if m.diarizer == nil {
		return nil, fmt.Errorf("%w: diarizer is not configured", xerrors.ErrConfiguration)
	}
	return m.diarizer, nil
}

func (m *Manager) Close() {
	for _, ex := range m.backends {
		ex.Close()
	}
	m.backends = map[string]Extractor{}
	if m.diarizer != nil {
		m.diarizer.Close()
		m.diarizer = nil
	}
}
