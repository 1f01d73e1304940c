/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package engine runs batches of credentials through the adaptive validation pipeline.
//
// An Engine owns one admission.Controller, one retry.Supervisor, one pooled httpclient.Client
// and one probe.Registry. Start hands the credentials to a Dispatcher that keeps up to the current
// admission limit of pipelines running; each pipeline drives one task through the supervisor,
// optionally chains the provider's premium probe and emits exactly one terminal probe.TaskResult.
// While at least one run is active, periodic workers adjust the admission limit and maintain
// the connection layer (idle connection retirement, stale merge groups expiry).
package engine
