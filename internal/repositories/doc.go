// Package repositories implements SQLite persistence for state that must survive a restart.
//
// The membership cache itself is memory-only; the one thing kept on disk is the OAuth token for
// each remote service, so a restarted server can rebuild its cache without a new login.
//
// Key Implementations:
//   - [TokenRepository] : OAuth token storage keyed by service name
package repositories
