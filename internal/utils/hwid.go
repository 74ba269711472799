package utils

import "github.com/denisbrodbeck/machineid"

// HWID is a stable, app-scoped machine identifier sent with every request so
// the server can tell two devices of the same user apart.
var HWID = func() string {
	id, err := machineid.ProtectedID("syftsync")
	if err != nil {
		return "unknown"
	}
	return id
}()
