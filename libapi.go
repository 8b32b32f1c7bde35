package phaseflow

import (
	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/dispatch"
	"github.com/drblury/phaseflow/endpoint"
	"github.com/drblury/phaseflow/interceptors"
	"github.com/drblury/phaseflow/internal/runtime/cloudevents"
	configpkg "github.com/drblury/phaseflow/internal/runtime/config"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/phaseflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
	"github.com/drblury/phaseflow/transport"

	// Built-in transports register themselves with transport.DefaultRegistry.
	_ "github.com/drblury/phaseflow/transport/transports"
)

type (
	Config       = configpkg.Config
	PhaseSpec    = configpkg.PhaseSpec
	Bus          = bus.Bus
	Dependencies = bus.Dependencies
	BusFeature   = bus.Feature
	ServerInfo   = bus.ServerInfo

	Service         = endpoint.Service
	Operation       = endpoint.Operation
	Invoker         = endpoint.Invoker
	InvokerFunc     = endpoint.InvokerFunc
	Endpoint        = endpoint.Endpoint
	EndpointFeature = endpoint.Feature
	EndpointInfo    = transport.EndpointInfo

	Server       = dispatch.Server
	ServerOption = dispatch.ServerOption
	Client       = dispatch.Client
	ClientOption = dispatch.ClientOption

	MultipleEndpointObserver = dispatch.MultipleEndpointObserver

	Message     = message.Message
	Exchange    = message.Exchange
	Fault       = message.Fault
	FaultCode   = message.FaultCode
	Interceptor = message.Interceptor
	Observer    = message.Observer

	Phase           = phase.Phase
	PhaseManager    = phase.Manager
	Chain           = phase.Chain
	InterceptorList = phase.List
	BaseInterceptor = phase.Base

	Destination       = transport.Destination
	Conduit           = transport.Conduit
	EndpointReference = transport.EndpointReference
	TransportRegistry = transport.Registry
	TransportBuilder  = transport.Builder
	Capabilities      = transport.Capabilities

	// Interceptor features
	JSONBinding  = interceptors.JSONBinding
	ProtoBinding = interceptors.ProtoBinding
	Logging      = interceptors.Logging
	Metrics      = interceptors.Metrics
	Tracing      = interceptors.Tracing
	Hooks        = interceptors.Hooks
	CallContext  = interceptors.CallContext
	CloudEvents  = interceptors.CloudEvents

	CloudEventContext = cloudevents.Context

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	ConfigValidationError = errspkg.ConfigValidationError
	UnknownTransportError = errspkg.UnknownTransportError
	IOError               = errspkg.IOError
)

var (
	ValidateConfig = configpkg.ValidateConfig

	NewService   = endpoint.NewService
	NewEndpoint  = endpoint.New
	NewServer    = dispatch.NewServer
	NewClient    = dispatch.NewClient
	AdminHandler = dispatch.AdminHandler

	WithReceiveTimeout          = dispatch.WithReceiveTimeout
	WithClientInterceptors      = dispatch.WithClientInterceptors
	WithServerInterceptors      = dispatch.WithServerInterceptors
	WithMultipleEndpointOptions = dispatch.WithMultipleEndpointOptions
	WithProfilerLabels          = dispatch.WithProfilerLabels

	NewMessage  = message.NewMessage
	NewExchange = message.NewExchange
	NewFault    = message.NewFault
	ClientFault = message.ClientFault
	AsFault     = message.AsFault

	NewPhaseManager = phase.NewManager
	NewInterceptor  = phase.Func

	NewJSONBinding  = interceptors.NewJSONBinding
	NewProtoBinding = interceptors.NewProtoBinding
	NewLogging      = interceptors.NewLogging
	NewMetrics      = interceptors.NewMetrics
	NewTracing      = interceptors.NewTracing
	LoggingHooks    = interceptors.LoggingHooks
	MetricsHooks    = interceptors.MetricsHooks
	AlertingHooks   = interceptors.AlertingHooks

	NewCloudEvents     = interceptors.NewCloudEvents
	WithEventSource    = interceptors.WithEventSource
	RequireCloudEvents = interceptors.RequireCloudEvents
	CloudEventOf       = interceptors.CloudEvent

	// Ambient bus scope
	SetDefaultBus  = bus.SetDefault
	DefaultBus     = bus.Default
	ContextWithBus = bus.WithContext
	BusFromContext = bus.FromContext

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrBusRequired      = errspkg.ErrBusRequired
	ErrEndpointRequired = errspkg.ErrEndpointRequired
	ErrConfigRequired   = errspkg.ErrConfigRequired
	ErrLoggerRequired   = errspkg.ErrLoggerRequired
	ErrUnknownTransport = errspkg.ErrUnknownTransport
	ErrUnknownPhase     = errspkg.ErrUnknownPhase
	ErrNoBackChannel    = errspkg.ErrNoBackChannel
	ErrNoOperation      = errspkg.ErrNoOperation
	ErrResponseTimeout  = errspkg.ErrResponseTimeout

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopLogger                 = loggingpkg.NopLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Fault codes.
const (
	FaultCodeClient = message.FaultCodeClient
	FaultCodeServer = message.FaultCodeServer
)

// Protocol headers carried by every transport.
const (
	HeaderOperation     = message.HeaderOperation
	HeaderCorrelationID = message.HeaderCorrelationID
	HeaderReplyTo       = message.HeaderReplyTo
	HeaderFault         = message.HeaderFault
)

// NewEntryServiceLogger adapts logrus-style entry loggers to ServiceLogger.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}

// NewBus creates a Bus whose admin API, when enabled in conf, serves the
// published endpoints and their chains.
func NewBus(conf *Config, log ServiceLogger, deps Dependencies) (*Bus, error) {
	if deps.AdminHandler == nil {
		deps.AdminHandler = dispatch.AdminHandler
	}
	return bus.New(conf, log, deps)
}
