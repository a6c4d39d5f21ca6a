// Package adapter is the composition root for a single mount: it builds
// the bucket client, directory projection, open file table and its
// eviction worker, metrics collector, health checker, and FUSE facade in
// dependency order, and tears them down the same way on Stop.
//
//	a, err := adapter.New(ctx, "/mnt/data", cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := a.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer a.Stop(ctx)
//	a.Wait()
package adapter
