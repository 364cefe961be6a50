// Package beru wires the orchestration engine together: a safety policy
// built from configured rule tables, an executor registry gated by that
// policy, and a workflow engine dispatching through the registry.
//
// The subpackages are usable on their own; this package is the convenience
// assembly for the common case of one configuration driving everything:
//
//	cfg, err := config.Load("beru.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	sys, err := beru.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sys.Close()
//
//	sys.RegisterAgent("researcher", myExecutor)
//
//	wf, err := workflow.NewBuilder("report").
//		Task(workflow.NewTask("gather", "researcher", "collect sources")).
//		Build()
//	if err != nil {
//		log.Fatal(err)
//	}
//	report, err := sys.Engine.Execute(ctx, wf)
package beru

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/beruhq/beru/config"
	"github.com/beruhq/beru/internal/metrics"
	"github.com/beruhq/beru/registry"
	"github.com/beruhq/beru/safety"
	"github.com/beruhq/beru/types"
	"github.com/beruhq/beru/workflow"
)

// System is a fully wired engine instance. Fields are exported so callers
// can reach each layer directly; mutating them after construction is not
// supported.
type System struct {
	Config   *config.Config
	Logger   *zap.Logger
	Policy   *safety.Policy
	Registry *registry.Registry
	Engine   *workflow.Engine

	auditFile *os.File
	collector *metrics.Collector
}

// Option configures the assembly.
type Option func(*options)

type options struct {
	logger           *zap.Logger
	registerer       prometheus.Registerer
	metricsNamespace string
	metricsDisabled  bool
}

// WithLogger supplies a logger instead of building one from the log section
// of the configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetricsRegisterer registers collectors with reg instead of the default
// Prometheus registerer.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithMetricsNamespace overrides the default "beru" metrics namespace.
func WithMetricsNamespace(ns string) Option {
	return func(o *options) { o.metricsNamespace = ns }
}

// WithoutMetrics disables metrics collection entirely.
func WithoutMetrics() Option {
	return func(o *options) { o.metricsDisabled = true }
}

// New assembles a System from the configuration. A nil configuration uses
// the built-in defaults.
func New(cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := options{metricsNamespace: "beru"}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		built, err := cfg.Log.BuildLogger()
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		logger = built
	}

	sys := &System{
		Config: cfg,
		Logger: logger,
	}

	if !o.metricsDisabled {
		sys.collector = metrics.NewCollector(o.metricsNamespace, o.registerer, logger)
	}

	policyOpts := []safety.PolicyOption{safety.WithLogger(logger)}
	if sys.collector != nil {
		policyOpts = append(policyOpts, safety.WithDecisionRecorder(sys.collector))
	}
	if cfg.Safety.AuditLog {
		audit := safety.NewAuditLogger(logger)
		if cfg.Safety.AuditLogPath != "" {
			f, err := os.OpenFile(cfg.Safety.AuditLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open audit log: %w", err)
			}
			sys.auditFile = f
			audit = audit.WithSink(f)
		}
		policyOpts = append(policyOpts, safety.WithAudit(audit))
	}

	policy, err := safety.NewPolicy(cfg.Safety.Rules(), policyOpts...)
	if err != nil {
		sys.closeAuditFile()
		return nil, fmt.Errorf("build safety policy: %w", err)
	}
	sys.Policy = policy

	regOpts := []registry.Option{registry.WithLogger(logger)}
	if sys.collector != nil {
		regOpts = append(regOpts, registry.WithDispatchRecorder(sys.collector))
	}
	sys.Registry = registry.New(policy, regOpts...)

	engineOpts := []workflow.EngineOption{
		workflow.WithEngineLogger(logger),
		workflow.WithMaxParallel(cfg.Engine.MaxParallel),
		workflow.WithDefaultTaskTimeout(cfg.Engine.DefaultTaskTimeout.Std()),
	}
	if sys.collector != nil {
		engineOpts = append(engineOpts, workflow.WithWorkflowRecorder(sys.collector))
	}
	sys.Engine = workflow.NewEngine(sys.Registry, engineOpts...)

	return sys, nil
}

// RegisterAgent registers an executor, applying any dispatch limits the
// configuration declares for the agent name. Names without a configuration
// entry get the registry defaults.
func (s *System) RegisterAgent(name string, exec types.Executor) error {
	var regOpts []registry.RegisterOption
	for _, a := range s.Config.Agents {
		if a.Name != name {
			continue
		}
		regOpts = append(regOpts, registry.WithMaxConcurrent(a.MaxConcurrent))
		if a.RatePerSecond > 0 {
			regOpts = append(regOpts, registry.WithRateLimit(rate.Limit(a.RatePerSecond), a.Burst))
		}
		break
	}
	return s.Registry.Register(name, exec, regOpts...)
}

// Close flushes the logger and releases the audit sink, if any.
func (s *System) Close() error {
	_ = s.Logger.Sync()
	return s.closeAuditFile()
}

func (s *System) closeAuditFile() error {
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}
