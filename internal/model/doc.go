// Package model defines the entity types shared by every layer of bulq.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal. This keeps
// the entities a foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - quantities are int64 hundredths (Quantity),
//     money is int64 cents (Cents)
//   - All JSON tags use snake_case
//   - Entities are plain data; the cache layer owns the live copies and
//     hands out deep clones, so every entity implements CloneEntity
package model
