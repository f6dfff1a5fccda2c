// Package bootstrap wires configuration, the counter store, the rule catalog,
// the detection engine and the Kafka stream runner into a runnable service.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, "config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package bootstrap
