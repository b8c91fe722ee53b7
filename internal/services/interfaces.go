package services

import (
	"context"

	"coauthor/internal/models"
)

// CompileEngine is what the scheduler needs from the external compile
// collaborator. Consumer-driven: this package declares only the method it
// calls, and the texd client (or a test stub) satisfies it.
type CompileEngine interface {
	Compile(ctx context.Context, req models.CompileRequest) (models.CompileResult, error)
}

// CompileEngineFunc adapts a plain function to a CompileEngine.
type CompileEngineFunc func(ctx context.Context, req models.CompileRequest) (models.CompileResult, error)

func (f CompileEngineFunc) Compile(ctx context.Context, req models.CompileRequest) (models.CompileResult, error) {
	return f(ctx, req)
}
