// Command conveyor is the operator CLI for a conveyor node: it runs stage
// workers, inspects node status and the archive, and manages documents and
// their attached files over the node's HTTP API.
package main
