package llm

import "context"

// Client is the interface that all generation providers implement.
type Client interface {
	// Generate sends a completion request and returns the generated text.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// ModelLister is implemented by providers that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}
