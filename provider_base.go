package kiln

import (
	"context"

	"github.com/kilnworks/kiln/logger"
)

// BaseProvider provides no-op implementations of the provider lifecycle.
// Providers embed it and override the hooks they need.
//
// Example:
//
//	type HTTPEntrypoint struct {
//	    *kiln.BaseProvider
//	    srv *http.Server
//	}
//
//	func NewHTTPEntrypoint(addr string) *HTTPEntrypoint {
//	    return &HTTPEntrypoint{
//	        BaseProvider: kiln.NewBaseProvider("http", kiln.RoleEntrypoint),
//	    }
//	}
//
// Providers overriding Prepare should call BaseProvider.Prepare first so the
// container back-reference and logger are bound.
type BaseProvider struct {
	name      string
	role      Role
	container *Container
	logger    logger.Logger
}

// NewBaseProvider creates a base provider with the given identity.
func NewBaseProvider(name string, role Role) *BaseProvider {
	return &BaseProvider{name: name, role: role}
}

// Name returns the provider name.
func (p *BaseProvider) Name() string { return p.name }

// Role returns the provider's declared role.
func (p *BaseProvider) Role() Role { return p.role }

// Prepare binds the provider to its container.
func (p *BaseProvider) Prepare(ctx context.Context, c *Container) error {
	p.container = c
	p.logger = c.Logger().Named(p.name)

	return nil
}

// Start is a no-op by default.
func (p *BaseProvider) Start(ctx context.Context) error { return nil }

// Stop is a no-op by default.
func (p *BaseProvider) Stop(ctx context.Context) error { return nil }

// Kill is a no-op by default.
func (p *BaseProvider) Kill(ctx context.Context, cause error) error { return nil }

// Container returns the container this provider was prepared for, or nil
// before Prepare.
func (p *BaseProvider) Container() *Container { return p.container }

// Logger returns the provider's logger. Before Prepare it returns a no-op
// logger so embedders never need a nil check.
func (p *BaseProvider) Logger() logger.Logger {
	if p.logger == nil {
		return logger.NewNop()
	}

	return p.logger
}
