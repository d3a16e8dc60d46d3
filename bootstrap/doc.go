// Package bootstrap runs the lifecycle of a loadguard process.
//
// An App owns the typed configuration, the global logger and a component
// registry. RunTask starts every component, runs a finite task with SIGINT
// and SIGTERM mapped to context cancellation, then stops the components in
// reverse order within a graceful timeout.
//
//	app, err := bootstrap.NewApp(&cfg)
//	if err != nil {
//	    return err
//	}
//	_ = app.Register(layer)
//	return app.RunTask(ctx, func(ctx context.Context) error {
//	    return drive(ctx, layer)
//	})
package bootstrap
