package providers

import (
	"net/http"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/core"
	"github.com/IncredibleDevHQ/agent-panel/internal/llmclient"
	"github.com/IncredibleDevHQ/agent-panel/internal/streaming"
)

// Adapter translates between the neutral data model and one vendor's wire
// format. Adapters hold configuration only and never perform I/O; the
// registry pairs each one with a transport.
type Adapter interface {
	// Name is the configured client name used in model IDs.
	Name() string
	// Type is the vendor type the adapter was registered under.
	Type() string
	// Models is the built-in or configured catalogue, in declaration order.
	Models() []core.Model

	// BuildRequest renders req for model. It fails with MalformedInput when
	// the conversation cannot be represented in the vendor format.
	BuildRequest(req *core.Request, model core.Model) (*llmclient.Request, error)
	// Authenticate attaches credentials. It fails with MissingCredential when
	// a required key is not configured.
	Authenticate(h http.Header) error
	// ParseResponse decodes a unary response body.
	ParseResponse(body []byte) (*core.Output, error)
	// ParseError decodes the vendor error envelope of a non-2xx response.
	// It returns nil when the body carries no envelope.
	ParseError(statusCode int, body []byte) error

	StreamFormat() streaming.Format
	// ParseFrame classifies one stream frame.
	ParseFrame(frame []byte) ([]streaming.Signal, error)
}

// ModelDiscoverer is implemented by adapters whose vendor can list models.
type ModelDiscoverer interface {
	ModelsRequest() llmclient.Request
	ParseModels(body []byte) ([]core.Model, error)
}

// Registration binds a vendor type to its adapter constructor.
type Registration struct {
	Type string
	New  func(cfg config.ProviderConfig) (Adapter, error)
}
