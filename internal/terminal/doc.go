// Package terminal multiplexes PTY-backed shell sessions.
//
// The package spawns shell processes attached to pseudo-terminals, pumps
// their output to subscribers, and manages session lifecycle:
//
//   - Backend: platform-specific PTY/process driver (Unix PTY, Windows ConPTY)
//   - Registry: session table, capacity enforcement, create/destroy/lookup
//   - pump: one goroutine per session draining PTY output
//   - reaper: background sweep destroying idle or dead sessions
//
// # Architecture
//
// The Registry is the only surface transports call. It never exposes a
// backend handle; callers interact with sessions through opaque string ids
// and metadata snapshots (SessionInfo). Output is delivered through
// Subscribe callbacks in the order the process produced it.
//
// # Usage
//
// Create a registry and spawn sessions:
//
//	reg := terminal.NewRegistry(terminal.Config{MaxSessions: 20})
//	defer reg.Shutdown(5 * time.Second)
//
//	id, err := reg.Create("/bin/sh", nil, "", 24, 80)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("create session")
//	}
//
//	sub, _ := reg.Subscribe(id, func(data []byte) {
//	    // forward output to a client
//	}, func() {
//	    // session ended
//	})
//	defer reg.Unsubscribe(sub)
//
//	reg.WriteInput(id, []byte("ls -la\n"))
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Operations on one
// session never block operations on another; the registry lock covers only
// table mutation and the capacity check.
package terminal
