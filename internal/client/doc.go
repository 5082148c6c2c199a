// Package client assembles the sync engine behind one facade. A Client
// owns the remote api client, the entity cache and its apply loop, the
// push channel manager, the event journal and the notification center,
// wired from one Config and one session.
//
// Callers open handles: OpenRun subscribes the run's push topic, loads
// the run header and order book, and returns a RunHandle whose Snapshot
// is always safe to render and whose mutation methods apply optimistically
// and block until the remote outcome. Handles on the same run share one
// subscription; each Open must be paired with a Close.
//
// The Client performs no retries of rejected mutations and opens no
// dialogs: rejections roll the cache back, land in the journal, and
// surface as notification toasts.
package client
