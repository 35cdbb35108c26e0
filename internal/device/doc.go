// Package device holds the local records of cloud water heaters.
//
// A Record is keyed by a stable identifier derived by package identity. The
// Registry owns the identifier → record collection: it restores persisted
// records at startup, reconciles each freshly fetched device list against
// them and migrates records keyed under deprecated identity schemes to the
// current scheme. Persistence goes through the Host interface, implemented
// on SQLite by SQLiteRepository.
//
// # Lifecycle
//
//	Restored ──▶ Active          (matched by a poll)
//	New ──────▶ Active           (discovered by a poll)
//	Active ───▶ Removed          (superseded by a current-scheme identifier)
//
// Records are never removed because a poll failed or returned nothing.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	reg := device.NewRegistry(repo, pref)
//	reg.SetLogger(log)
//	reg.SetHandlerFactory(newHandler)
//
//	if err := reg.Restore(ctx); err != nil {
//	    return err
//	}
//	res, err := reg.Reconcile(ctx, fetched)
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Reads return deep
// copies; writes to a single record go through Mutate so derived state is
// never computed over a partially updated record.
package device
