// Package platform defines the host platform collaborators the
// collaboration service depends on, and an HTTP client implementing them.
//
// Collaborators:
//   - Oracle: answers whether an accountability can read fields of a record
//   - Catalog: resolves field types and relations (m2o, o2m, m2a)
//   - Authenticator: resolves a user token to an accountability
//
// Permission answers are never cached; every call reaches the platform.
package platform
