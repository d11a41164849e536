package llm

import (
	"fmt"
	"sync"
)

// Credentials holds per-provider API keys. A provider with an empty key
// is unconfigured and cannot be resolved.
type Credentials struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
}

// Cache is a read-mostly, lookup-or-create store of provider clients.
// It is created at process start and shared by all requests; concurrent
// lookups for the same provider are safe.
type Cache struct {
	creds Credentials

	mu      sync.Mutex
	clients map[Provider]Client
}

// NewCache creates a provider client cache.
func NewCache(creds Credentials) *Cache {
	return &Cache{
		creds:   creds,
		clients: make(map[Provider]Client),
	}
}

// Lookup returns the cached client for a provider, constructing it on
// first use. Construction fails if the provider has no configured
// credentials.
func (c *Cache) Lookup(provider Provider) (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[provider]; ok {
		return client, nil
	}

	client, err := c.create(provider)
	if err != nil {
		return nil, err
	}
	c.clients[provider] = client
	return client, nil
}

// Put installs a client for a provider, replacing any cached instance.
// Used by tests to inject stub providers.
func (c *Cache) Put(provider Provider, client Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[provider] = client
}

// Configured lists the providers that can currently be resolved: any
// provider with credentials or an installed client.
func (c *Cache) Configured() []Provider {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Provider
	for _, p := range []Provider{ProviderAnthropic, ProviderOpenAI} {
		if _, ok := c.clients[p]; ok {
			out = append(out, p)
			continue
		}
		if c.hasCredentials(p) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Cache) hasCredentials(provider Provider) bool {
	switch provider {
	case ProviderAnthropic:
		return c.creds.AnthropicAPIKey != ""
	case ProviderOpenAI:
		return c.creds.OpenAIAPIKey != ""
	default:
		return false
	}
}

func (c *Cache) create(provider Provider) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(c.creds.AnthropicAPIKey)
	case ProviderOpenAI:
		return NewOpenAIClient(c.creds.OpenAIAPIKey)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
