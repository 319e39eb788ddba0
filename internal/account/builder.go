// Package account assembles, per account, the set of backends that
// serve the capabilities a command asks for.
package account

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/nhle/postbox/internal/backend"
)

// Constructor builds a live backend from its configuration section.
// cfg is always the section of the kind the constructor is registered
// for.
type Constructor func(
	ctx context.Context,
	cfg backend.Config,
	settings *backend.AccountSettings,
	logger *zap.Logger,
) (backend.Backend, error)

// Builder builds Contexts for one account.
type Builder struct {
	account      *backend.AccountConfig
	settings     *backend.AccountSettings
	constructors map[backend.Kind]Constructor
	logger       *zap.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithConstructor substitutes the constructor used for kind. It
// changes how a kind is built, never which kind serves a capability.
func WithConstructor(kind backend.Kind, c Constructor) Option {
	return func(b *Builder) { b.constructors[kind] = c }
}

// WithLogger sets the logger handed to the builder and every backend.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a builder for account. A nil settings derives
// them from account.
func NewBuilder(account *backend.AccountConfig, settings *backend.AccountSettings, opts ...Option) *Builder {
	if settings == nil {
		settings = account.Settings()
	}
	b := &Builder{
		account:      account,
		settings:     settings,
		constructors: DefaultConstructors(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("account", account.Name))
	return b
}

// plan groups the requested capabilities by the kind serving them, in
// the order kinds are first needed.
type plan struct {
	kinds []backend.Kind
	caps  map[backend.Kind][]backend.Capability
}

func (b *Builder) plan(caps []backend.Capability) (*plan, error) {
	p := &plan{caps: make(map[backend.Kind][]backend.Capability)}
	seen := make(map[backend.Capability]bool)

	for _, c := range caps {
		if !c.Valid() {
			return nil, fmt.Errorf("unknown capability %q", c)
		}
		if seen[c] {
			continue
		}
		seen[c] = true

		kind := b.account.KindFor(c)
		if kind == backend.KindNone {
			b.logger.Debug("no backend for capability", zap.Stringer("capability", c))
			continue
		}
		if !kind.Supports(c) {
			return nil, &backend.ConfigError{Capability: c, Kind: kind, Reason: "kind cannot serve this capability"}
		}
		if b.account.Section(kind) == nil {
			return nil, &backend.ConfigError{Capability: c, Kind: kind, Reason: "configuration section is missing"}
		}

		if _, ok := p.caps[kind]; !ok {
			p.kinds = append(p.kinds, kind)
		}
		p.caps[kind] = append(p.caps[kind], c)
	}
	return p, nil
}

// Build returns a Context wiring every requested capability that the
// account assigns to a backend. Capabilities without a backend are left
// out and fail when invoked. Each kind is constructed once, distinct
// kinds concurrently; if any construction fails the ones already built
// are closed and the build fails.
func (b *Builder) Build(ctx context.Context, caps ...backend.Capability) (*Context, error) {
	p, err := b.plan(caps)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := b.logger.With(zap.String("build", id))

	for _, kind := range p.kinds {
		if b.constructors[kind] == nil {
			return nil, &backend.ConfigError{Capability: p.caps[kind][0], Kind: kind, Reason: "no constructor registered"}
		}
	}

	instances := make([]backend.Backend, len(p.kinds))
	workers := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, kind := range p.kinds {
		construct := b.constructors[kind]
		workers.Go(func(ctx context.Context) error {
			inst, err := construct(ctx, b.account.Section(kind), b.settings, logger.With(zap.Stringer("kind", kind)))
			if err != nil {
				return fmt.Errorf("building %s backend: %w", kind, err)
			}
			instances[i] = inst
			return nil
		})
	}

	if err := workers.Wait(); err != nil {
		closeAll(instances, logger)
		return nil, err
	}

	bc := &Context{ID: id, settings: b.settings, instances: instances, logger: logger}
	for i, kind := range p.kinds {
		for _, c := range p.caps[kind] {
			if err := bc.register(c, instances[i]); err != nil {
				closeAll(instances, logger)
				return nil, &backend.ConfigError{Capability: c, Kind: kind, Reason: err.Error()}
			}
		}
	}

	logger.Debug("built context", zap.Int("backends", len(instances)), zap.Int("capabilities", len(caps)))
	return bc, nil
}

func closeAll(instances []backend.Backend, logger *zap.Logger) {
	for _, inst := range instances {
		if inst == nil {
			continue
		}
		if err := inst.Close(); err != nil {
			logger.Warn("closing backend after failed build", zap.Error(err))
		}
	}
}
