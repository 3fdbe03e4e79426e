// Package services exposes the ragd core as one surface.
//
// Core bundles the ingestion pipeline, retriever, chat orchestrator and
// tenant manager behind the operations the transports call. Construct the
// collaborators in cmd/ragd and pass them in through Options; Core holds
// no global state.
package services
