package scaler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/synapseshield/shield/internal/domain"
)

// Mode selects what the Normalizer does when no scaler has been persisted.
type Mode int

const (
	// ModeLenient fits and persists a new scaler from the data at hand.
	// This can silently change normalization between training and scoring.
	ModeLenient Mode = iota
	// ModeStrict fails with domain.ErrScalerNotFound instead.
	ModeStrict
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "lenient"
}

// Normalizer applies the persisted scaler, fitting one when asked to.
type Normalizer struct {
	store *Store
	mode  Mode
	log   *zap.SugaredLogger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMode sets the absent-scaler policy.
func WithMode(m Mode) Option {
	return func(n *Normalizer) { n.mode = m }
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(n *Normalizer) { n.log = l }
}

// NewNormalizer creates a Normalizer backed by store.
func NewNormalizer(store *Store, opts ...Option) *Normalizer {
	n := &Normalizer{
		store: store,
		mode:  ModeLenient,
		log:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Mode returns the configured absent-scaler policy.
func (n *Normalizer) Mode() Mode { return n.mode }

// Fit fits a scaler on ds and persists it.
func (n *Normalizer) Fit(ctx context.Context, ds domain.Dataset) (domain.ScalerState, error) {
	st, err := Fit(ds)
	if err != nil {
		return domain.ScalerState{}, err
	}
	if err := n.store.Save(ctx, st); err != nil {
		return domain.ScalerState{}, err
	}
	return st, nil
}

// Resolve returns the persisted scaler. When none exists it applies the
// configured Mode, fitting on ds in lenient mode.
func (n *Normalizer) Resolve(ctx context.Context, ds domain.Dataset) (domain.ScalerState, error) {
	st, err := n.store.Load(ctx)
	if err != nil {
		return domain.ScalerState{}, err
	}
	if st != nil {
		return *st, nil
	}

	if n.mode == ModeStrict {
		return domain.ScalerState{}, fmt.Errorf("normalize: %w", domain.ErrScalerNotFound)
	}
	n.log.Warnw("no persisted scaler, fitting a new one on the current input",
		"rows", ds.Len(), "features", ds.Columns)
	return n.Fit(ctx, ds)
}

// Normalize transforms ds. With fit set it always refits (and persists) the
// scaler; otherwise it uses the persisted one via Resolve.
func (n *Normalizer) Normalize(ctx context.Context, ds domain.Dataset, fit bool) (domain.Dataset, domain.ScalerState, error) {
	var (
		st  domain.ScalerState
		err error
	)
	if fit {
		st, err = n.Fit(ctx, ds)
	} else {
		st, err = n.Resolve(ctx, ds)
	}
	if err != nil {
		return domain.Dataset{}, domain.ScalerState{}, err
	}

	out, err := Transform(st, ds)
	if err != nil {
		return domain.Dataset{}, domain.ScalerState{}, err
	}
	return out, st, nil
}
