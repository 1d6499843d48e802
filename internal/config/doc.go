// Package config handles configuration loading for puch-mcp.
//
// Configuration is loaded from YAML with ${VAR} environment variable
// expansion. Two environment variables get first-class treatment because the
// Puch platform hands them out directly:
//
//	AUTH_TOKEN  - static service bearer token
//	MY_NUMBER   - phone number returned by the validate tool
//
// Both override their config-file counterparts, and FromEnv() builds a
// complete config from them alone so the server can run without any file.
//
// Duration values (tools.fetch_timeout, tools.call_timeout) use Go's
// time.ParseDuration syntax.
package config
