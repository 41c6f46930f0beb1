// Package tool binds the VisionCraft knowledge tools to an MCP server.
//
// The vision-query tool takes one required string argument, query, and
// resolves it through a Resolver (normally a *bridge.Bridge). Argument
// validation happens in the mcp server against the declared input
// schema before the handler runs; the handler only decodes, calls the
// resolver, and reports the outcome to an Observer.
package tool
