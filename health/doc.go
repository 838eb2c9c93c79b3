// Package health tracks the operational state of runtime components:
// apps, engines, the addon store, transport connections. A Monitor
// holds one Status per component, aggregates them into a system-wide
// state with worst-case rules, and serves the result over HTTP.
//
// Error messages entering a Status through FromError are sanitized:
// URLs, file paths, addresses and credential-shaped fragments are
// redacted before they can reach a dashboard.
package health
