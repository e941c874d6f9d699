// Package workspace manages the lifecycle of workspace-to-provider
// connections and fans each workspace's single upstream event stream out
// to any number of client subscriptions.
//
// # Registry
//
// The Registry is the single source of truth for live workspaces. Records
// are owned in one map keyed by workspace ID, with an auxiliary index from
// re-authentication token to ID; the two are always updated together.
//
//	reg := workspace.NewRegistry(store, logger)
//	ws, err := reg.Connect(ctx, "/home/dev/project", provider.ModeSpawn, factory)
//
// Key operations:
//
//   - Connect(ctx, directory, mode, factory): reuse or create a workspace
//   - LookupByID(id) / LookupByToken(token): O(1), (nil, false) on miss
//   - Subscribe(workspaceID): new independent event subscription
//   - ListConnections(workspaceID): active connections as conn-N labels
//   - Disconnect(id): full teardown, idempotent false on unknown IDs
//   - CleanupExpired(maxAge): idle sweep driven by an external scheduler
//
// # Subscriptions
//
// Each subscription owns an independent cancellation scope and a buffered
// event channel fed by the workspace's single upstream pump. Events reach
// every subscriber in the same upstream order; a slow subscriber drops
// events rather than stalling or reordering siblings. Cancelling one
// subscription never affects the others.
//
// Connection labels conn-N draw N from one counter shared across all
// workspaces of a registry, so labels are unique registry-wide.
//
// # Teardown ordering
//
// Disconnect removes the workspace from both indices before cancelling
// subscriptions and disposing the provider. A subscribe racing with
// teardown either finds the workspace already gone or fails to attach;
// it can never land on a half-destroyed record.
//
// CleanupExpired never evicts a workspace that still has a live
// subscription, regardless of age.
package workspace
