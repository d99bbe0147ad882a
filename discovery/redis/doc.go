// Package redis implements discovery.Locator on Redis so that servers and
// clients on different hosts share one view of the running services.
//
// Layout
//   - <prefix>reg:<id>       JSON encoded discovery.Registration
//   - <prefix>iface:<iface>  set of registration ids providing iface
//
// Register and Unregister update both keys in one MULTI/EXEC. Registrations
// carry no TTL; a crashed server leaves its entry behind until unregistered.
//
// Example:
//
//	loc, err := redis.NewFromEnv()
//	if err != nil { ... }
//	defer loc.Close()
package redis
