// Package quakefeed is a client for the USGS earthquake GeoJSON feed.
//
// The Client owns one background loader: Load starts a fetch unless one is
// already running, Reload supersedes whatever is in flight, and results reach
// the attached Consumer one callback at a time. Changing a query preference
// reloads automatically.
//
// Building blocks live in sub-packages:
//   - request: query URL construction
//   - transport: HTTP fetching with connect and read timeouts
//   - feature: GeoJSON to earthquake.Record extraction
//   - loader: generation-guarded background loads
//   - config: file and environment configuration, live preferences
//   - standard: logs, fetch statistics, connectivity monitors
package quakefeed

// Version of the client, reported in the User-Agent.
const Version = "1.0.0"
