package scaler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/synapseshield/shield/internal/domain"
)

// ArtifactKey is the artifact key the scaler is persisted under.
const ArtifactKey = "scaler.json"

// Store persists scaler state. All four arrays travel in one artifact, so a
// save is either fully visible or not at all.
type Store struct {
	artifacts domain.ArtifactStore
}

// NewStore creates a scaler store on top of an artifact store.
func NewStore(artifacts domain.ArtifactStore) *Store {
	return &Store{artifacts: artifacts}
}

// Save persists st, replacing any previous scaler.
func (s *Store) Save(ctx context.Context, st domain.ScalerState) error {
	data, err := Encode(st)
	if err != nil {
		return err
	}
	if err := s.artifacts.Put(ctx, ArtifactKey, data); err != nil {
		return fmt.Errorf("save scaler: %w", err)
	}
	return nil
}

// Load returns the persisted scaler, or (nil, nil) if none exists.
func (s *Store) Load(ctx context.Context) (*domain.ScalerState, error) {
	data, err := s.artifacts.Get(ctx, ArtifactKey)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load scaler: %w", err)
	}
	st, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Encode serializes a scaler state.
func Encode(st domain.ScalerState) ([]byte, error) {
	if err := validate(st); err != nil {
		return nil, err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode scaler: %w", err)
	}
	return data, nil
}

// Decode parses a serialized scaler state.
func Decode(data []byte) (domain.ScalerState, error) {
	var st domain.ScalerState
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.ScalerState{}, fmt.Errorf("decode scaler: %w", err)
	}
	if err := validate(st); err != nil {
		return domain.ScalerState{}, err
	}
	return st, nil
}
