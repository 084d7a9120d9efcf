// Package model defines the provider‑agnostic abstraction the mesh oracle
// uses to talk to language models.
//
// Core goals:
//   - Unify streaming + non‑streaming generation behind a single interface
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (Anthropic, OpenAI) implement the Model interface from this
// package so the oracle remains decoupled from vendor SDKs.
package model
