package handler

import (
	"net/http"

	"github.com/streamrelay/chat-relay/internal/model"
)

// Providers handles GET /api/v1/providers: the configured providers and
// their models, so clients can populate a provider selector. Pure cache
// lookup, no upstream call.
func (h *ChatHandler) Providers(w http.ResponseWriter, r *http.Request) {
	configured := h.cache.Configured()
	infos := make([]model.ProviderInfo, 0, len(configured))

	for _, p := range configured {
		client, err := h.cache.Lookup(p)
		if err != nil {
			continue
		}
		infos = append(infos, model.ProviderInfo{
			Name:    string(p),
			Default: string(p) == h.cfg.DefaultProvider,
			Models:  client.Models(),
		})
	}

	writeJSON(w, http.StatusOK, model.ListProvidersResponse{Providers: infos})
}
