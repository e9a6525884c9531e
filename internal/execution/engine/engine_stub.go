//go:build !linux

package engine

import (
	"context"
	"fmt"
)

type stubEngine struct{}

func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Start(ctx context.Context, spec Spec) (Process, error) {
	return nil, fmt.Errorf("process engine is only supported on linux")
}
