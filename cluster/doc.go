/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package cluster holds the data carriers exchanged between raft group
// members. Only the leader query response is defined here; transport and
// consensus live outside this module.
package cluster
