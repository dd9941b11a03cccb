package domain

import (
	"context"
	"errors"
)

type Service interface {
	Get(ctx context.Context, rut string) (*Client, error)
	ListAll(ctx context.Context) ([]Client, error)
}

var (
	ErrInvalidRUT = errors.New("invalid_rut")
	ErrNotFound   = errors.New("client_not_found")
)
