package node

// Tool pairs a capability artifact with the port it opens.
type Tool struct {
	Artifact string
	Port     Port
}

// ElevationArtifact is the artifact required to gain admin rights.
const ElevationArtifact = "NUKE.exe"

// DefaultTools lists the capability tools in the order they are applied.
var DefaultTools = []Tool{
	{Artifact: "BruteSSH.exe", Port: PortSSH},
	{Artifact: "FTPCrack.exe", Port: PortFTP},
	{Artifact: "HTTPWorm.exe", Port: PortHTTP},
	{Artifact: "relaySMTP.exe", Port: PortSMTP},
	{Artifact: "SQLInject.exe", Port: PortSQL},
}

// ToolFor returns the default tool for port.
func ToolFor(p Port) (Tool, bool) {
	for _, tool := range DefaultTools {
		if tool.Port == p {
			return tool, true
		}
	}
	return Tool{}, false
}
