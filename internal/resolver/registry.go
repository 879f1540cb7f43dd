package resolver

import "go.uber.org/zap"

// Registry holds all site resolvers. Selection is first-match over
// registration order; when nothing claims a URL the configured fallback
// (the community-feed resolver) gets a chance before the URL is declared
// unhandled.
type Registry struct {
	resolvers []Resolver
	fallback  Resolver
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// Register appends a resolver. Order matters: earlier registrations win.
func (r *Registry) Register(res Resolver) {
	r.resolvers = append(r.resolvers, res)
}

// SetFallback installs the default community-feed resolver consulted when no
// registered resolver claims a URL.
func (r *Registry) SetFallback(res Resolver) {
	r.fallback = res
}

// Find returns the resolver claiming the URL, or nil when the URL is
// unhandled.
func (r *Registry) Find(url string) Resolver {
	for _, res := range r.resolvers {
		if res.CanHandle(url) {
			return res
		}
	}
	if r.fallback != nil && r.fallback.CanHandle(url) {
		return r.fallback
	}
	r.logger.Warn("no resolver claims url", zap.String("url", url))
	return nil
}

// Names lists registered resolvers in selection order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.resolvers)+1)
	for _, res := range r.resolvers {
		names = append(names, res.Name())
	}
	if r.fallback != nil {
		names = append(names, r.fallback.Name())
	}
	return names
}
