// Package snowfake redirects connector calls to an in-process fake
// database and runs that fake as a network-reachable server for
// out-of-process test clients.
//
// Patch opens a scoped substitution of the connector entry points:
//
//	p, err := snowfake.Patch(snowfake.DefaultPatchOptions())
//	if err != nil { ... }
//	defer p.Close()
//
//	conn, err := connector.Connect(ctx, connector.Config{Database: "db1", Schema: "schema1"})
//
// StartServer runs the fake as a background server and yields connection
// parameters valid until Close:
//
//	srv, err := snowfake.StartServer(snowfake.ServerOptions{})
//	if err != nil { ... }
//	defer srv.Close()
//
//	conn, err := connector.Connect(ctx, srv.ConnectionParams().ClientConfig("db1", "schema1"))
package snowfake
