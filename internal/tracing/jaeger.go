package tracing

import (
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go/config"
	jaegerzap "github.com/uber/jaeger-client-go/log/zap"

	"github.com/mailkit/imapclient/internal/logger"
)

// JaegerConfig configures the optional Jaeger exporter.
type JaegerConfig struct {
	Endpoint     string  `env:"IMAP_JAEGER_ENDPOINT"`
	ServiceName  string  `env:"IMAP_JAEGER_SERVICE_NAME" envDefault:"imapclient"`
	AgentHost    string  `env:"IMAP_JAEGER_AGENT_HOST" envDefault:"localhost"`
	AgentPort    string  `env:"IMAP_JAEGER_AGENT_PORT" envDefault:"6831"`
	Enabled      bool    `env:"IMAP_JAEGER_ENABLED" envDefault:"false"`
	LogSpans     bool    `env:"IMAP_JAEGER_REPORTER_LOG_SPANS" envDefault:"false"`
	SamplerType  string  `env:"IMAP_JAEGER_SAMPLER_TYPE" envDefault:"const"`
	SamplerParam float64 `env:"IMAP_JAEGER_SAMPLER_PARAM" envDefault:"1"`
}

// NewJaegerTracer builds and registers a Jaeger-backed opentracing
// Tracer, mirroring jaeger.go.NewJaegerTracer. Callers embedding the
// client in a service that already has a global tracer can skip this
// entirely; opentracing.GlobalTracer() defaults to a no-op tracer.
func NewJaegerTracer(cfg JaegerConfig, log logger.Logger) (opentracing.Tracer, io.Closer, error) {
	jaegerCfg := &config.Configuration{
		ServiceName: cfg.ServiceName,
		Disabled:    !cfg.Enabled,
		Sampler: &config.SamplerConfig{
			Type:  cfg.SamplerType,
			Param: cfg.SamplerParam,
		},
		Reporter: &config.ReporterConfig{
			LogSpans: cfg.LogSpans,
		},
	}

	if cfg.Endpoint != "" {
		jaegerCfg.Reporter.CollectorEndpoint = cfg.Endpoint
	} else {
		jaegerCfg.Reporter.LocalAgentHostPort = cfg.AgentHost + ":" + cfg.AgentPort
	}

	return jaegerCfg.NewTracer(config.Logger(jaegerzap.NewLogger(log.Logger())))
}
