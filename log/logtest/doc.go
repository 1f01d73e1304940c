/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package logtest provides a recording log.FieldLogger for asserting on log output in tests.
package logtest
