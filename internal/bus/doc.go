// Package bus fans broadcast envelopes out across server instances.
//
// Two backends implement Bus:
//
//   - Memory: direct in-process fan-out for single-instance deployments.
//   - Redis: PUBLISH/SUBSCRIBE on a Redis server for horizontally scaled
//     deployments.
//
// Delivery is at-most-once. A message published while nobody is subscribed
// is lost; slow in-process subscribers drop messages rather than block the
// publisher. The backend is chosen once at startup by New.
package bus
