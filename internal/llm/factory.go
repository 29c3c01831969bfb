package llm

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"nexus/internal/logging"
)

const defaultClientCacheSize = 32

// mockProviderID is a built-in provider serving canned replies, so a panel
// can be pointed at it without any upstream credentials.
const mockProviderID = "mock"

// ProviderConfig holds the connection details for one upstream provider.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Factory hands out streaming clients keyed by provider and model. Clients
// are stateless around an http.Client, so they are cached and shared across
// broadcasts; the LRU bounds growth when many models cycle through panels.
type Factory struct {
	mu        sync.Mutex
	providers map[string]ProviderConfig
	cache     *lru.Cache[string, Client]
	logger    logging.Logger
}

// NewFactory builds a factory over the configured provider set.
func NewFactory(providers map[string]ProviderConfig, logger logging.Logger) (*Factory, error) {
	cache, err := lru.New[string, Client](defaultClientCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build client cache: %w", err)
	}
	cloned := make(map[string]ProviderConfig, len(providers))
	for id, cfg := range providers {
		cloned[id] = cfg
	}
	return &Factory{
		providers: cloned,
		cache:     cache,
		logger:    logging.OrNop(logger),
	}, nil
}

// ClientFor returns a streaming client for the given provider and model,
// reusing a cached instance when one exists.
func (f *Factory) ClientFor(providerID, modelID string) (Client, error) {
	key := providerID + "/" + modelID

	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.cache.Get(key); ok {
		return client, nil
	}

	if providerID == mockProviderID {
		client := &MockClient{ModelID: modelID, Deltas: []string{"mock reply from ", modelID}}
		f.cache.Add(key, client)
		return client, nil
	}

	cfg, ok := f.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", providerID)
	}

	client := NewOpenAIClient(OpenAIConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   modelID,
		Timeout: cfg.Timeout,
		Logger:  f.logger,
	})
	f.cache.Add(key, client)
	f.logger.Debug("Built llm client for %s", key)
	return client, nil
}
