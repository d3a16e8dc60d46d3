// Package component defines lifecycle-managed parts of a loadguard process
// and an ordered registry that starts, stops and health-checks them.
//
// # Interfaces
//
//   - Component: Core lifecycle interface (Name/Start/Stop/Health)
//   - Describable: Startup summary descriptions
//
// resilience.Layer implements both; LazyComponent wraps resources with a
// setup and teardown function.
package component
