// Package app provides the Application Composition Layer for the progression
// engine.
//
// # Architecture Role
//
// The app package sits above the core layers (platform, engine, services) and
// is responsible for composing them into a running application. It is NOT a
// business logic layer - business logic belongs in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Main application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── progression/    # Profiles, ledger entries, balances, progress
//	│   └── levels/         # Level curves and reward tables
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (ProgressionStore, LedgerStore, BalanceStore)
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── progression/    # XP deposits, crediting, progress queries
//	│   └── levels/         # Level settings snapshots and reloads
//	├── httpapi/            # HTTP API handlers, middleware, audit trail
//	├── auth/               # JWT credentials and role checks
//	├── notify/             # Level-up notification sinks (log, redis, realtime)
//	├── system/             # Service lifecycle management
//	├── runtime/            # Configuration-driven assembly and server lifecycle
//	└── metrics/            # Prometheus metrics
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing services from internal/app/services/ with their dependencies
//   - Defining storage interfaces that services depend on
//   - Providing domain models shared across services
//   - Exposing HTTP API endpoints for external access
//   - Managing application-level concerns (auth, metrics, audit)
//
// # Dependency Direction
//
// The dependency flow is:
//
//	cmd/progressiond/
//	      │
//	      ▼
//	internal/app/runtime/ (assembly)
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/storage/ (interfaces)
//	      │
//	      ├──► internal/engine/events/ (journal)
//	      │
//	      └──► internal/platform/ (database, migrations)
//
// # Example: Adding a New Domain
//
// When adding a new domain (e.g., "badges"):
//
//  1. Create domain models in internal/app/domain/badges/
//  2. Add a storage interface to internal/app/storage/interfaces.go
//  3. Implement storage in internal/app/storage/postgres/ and memory/
//  4. Create a service in internal/app/services/badges/service.go
//  5. Wire the service in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/
package app
