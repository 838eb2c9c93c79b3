// Package addon manages registered factories capable of producing
// extension instances, and the process-wide store that tracks them.
//
// An Addon is a factory; an AddonHost is the store's record for one
// registered addon (its metadata, base directory, manifest, and the
// count of live instances it produced). The Store is keyed by
// (type, name): no two addons may share a key, and registration of a
// duplicate fails with the duplicate-registration taxonomy.
//
// Instance creation runs on the store's dedicated runloop (the "addon
// thread") and completes, with either an instance or a typed error,
// before any message can be delivered to the new instance. Instance
// destruction is guarded: destroying the same instance twice is a
// programming error, fatal under flowmesh.Strict and a recoverable
// error otherwise.
//
// Loaders populate a store. The engine depends only on the Loader
// interface; the package ships a static loader (explicit in-process
// registrations) and a directory loader that binds discovered
// manifests to registered factories. Process-external loading is left
// to implementors of the same interface.
package addon
