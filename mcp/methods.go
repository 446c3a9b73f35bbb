// Package mcp defines the Model Context Protocol method names and wire types
// used by the guideline server: the initialize handshake, tools, resources,
// and the progress/cancellation notifications.
package mcp

// Method is an MCP method identifier used in JSON-RPC messages.
type Method string

const (
	// Initialization
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"

	// Tools
	ToolsListMethod                    Method = "tools/list"
	ToolsCallMethod                    Method = "tools/call"
	ToolsListChangedNotificationMethod Method = "notifications/tools/list_changed"

	// Resources
	ResourcesListMethod                    Method = "resources/list"
	ResourcesReadMethod                    Method = "resources/read"
	ResourcesListChangedNotificationMethod Method = "notifications/resources/list_changed"

	// General
	PingMethod                  Method = "ping"
	CancelledNotificationMethod Method = "notifications/cancelled"
	ProgressNotificationMethod  Method = "notifications/progress"
)

// LatestProtocolVersion is the newest protocol revision this server speaks.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists the default protocol revisions this server
// accepts from clients, newest first. Deployments may narrow or extend the
// set via configuration.
var SupportedProtocolVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}
