/*
Package cache persists fetched payloads to a local directory and decides, per
category, whether freshly fetched data differs from the most recently stored
snapshot.

Time-bucketed categories (trips listings, parking, odometer, remote control,
statistics) are append-only: a new snapshot is written only when the payload
changed, and "latest" is the snapshot with the greatest capture key. Trip
details are content-addressed instead: once an identifier has a stored entry
it is immutable and never re-fetched.

	store, err := cache.NewStore("cache")
	if err != nil {
		panic(err)
	}
	stored, err := store.StoreIfChanged("parking", body, cache.CompareBytes)
*/
package cache
