package datamcp

import "encoding/json"

// Tool describes a callable tool: its name, a human-readable description, and
// a JSON-Schema object for its parameters. Descriptors are immutable once
// registered.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Registry holds the set of tools a server advertises. It is populated once
// at startup and read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	tools []Tool
	index map[string]int
}

// NewRegistry creates a registry advertising the given tools in registration
// order. Later registrations with a duplicate name are dropped.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{index: make(map[string]int, len(tools))}
	for _, t := range tools {
		if _, ok := r.index[t.Name]; ok {
			continue
		}
		r.index[t.Name] = len(r.tools)
		r.tools = append(r.tools, t)
	}
	return r
}

// Tools returns the registered tools in registration order. The returned
// slice is a copy.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	i, ok := r.index[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.tools) }

// DefaultRegistry returns the registry of the four data-source tools this
// server ships with. The parameter schemas are part of the handshake payload
// clients validate against.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Tool{
			Name:        MethodListTables,
			Description: "List all available tables",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {}
			}`),
		},
		Tool{
			Name:        MethodDiscoverData,
			Description: "Discover data in tables",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"table": {
						"type": "string",
						"description": "Table name to discover"
					}
				},
				"required": ["table"]
			}`),
		},
		Tool{
			Name:        MethodPrepareQuery,
			Description: "Prepare a SQL query",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {
						"type": "string",
						"description": "SQL query to prepare"
					}
				},
				"required": ["query"]
			}`),
		},
		Tool{
			Name:        MethodQuery,
			Description: "Execute a SQL query",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {
						"type": "string",
						"description": "SQL query to execute"
					}
				},
				"required": ["query"]
			}`),
		},
	)
}

// ServerInfo identifies the server in handshake and capability payloads.
type ServerInfo struct {
	Name    string
	Version string
}

// CapabilityFlags are the fixed feature flags advertised alongside the tool
// list.
type CapabilityFlags struct {
	SupportedLanguages        []string `json:"supportedLanguages"`
	SupportsNotebooks         bool     `json:"supportsNotebooks"`
	SupportsInlineCompletions bool     `json:"supportsInlineCompletions"`
}

// DefaultCapabilityFlags mirrors the capabilities the server advertises when
// configuration supplies none.
func DefaultCapabilityFlags() CapabilityFlags {
	return CapabilityFlags{
		SupportedLanguages:        []string{"sql", "go"},
		SupportsNotebooks:         true,
		SupportsInlineCompletions: true,
	}
}

// Capabilities is the payload shared by the initialize result and the
// streaming capabilities event.
type Capabilities struct {
	ServerName    string          `json:"serverName"`
	ServerVersion string          `json:"serverVersion"`
	Tools         []Tool          `json:"tools"`
	Capabilities  CapabilityFlags `json:"capabilities"`
}

type capabilitiesResult struct {
	Capabilities Capabilities `json:"capabilities"`
}

func newCapabilities(info ServerInfo, reg *Registry, flags CapabilityFlags) Capabilities {
	return Capabilities{
		ServerName:    info.Name,
		ServerVersion: info.Version,
		Tools:         reg.Tools(),
		Capabilities:  flags,
	}
}
