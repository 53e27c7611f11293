/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cluster

import "fmt"

// PeerID identifies one raft group member as "host:port".
type PeerID string

// String returns the textual form of the peer id.
func (p PeerID) String() string {
	return string(p)
}

// NewPeerID builds a PeerID from its host and port parts.
func NewPeerID(host string, port int) PeerID {
	return PeerID(fmt.Sprintf("%s:%d", host, port))
}

// LeaderResponse is the reply to a leader query against a raft group.
// A response is either a success carrying the leader peer or an error
// carrying a message; Redirected is set when the queried member forwarded
// the request instead of answering itself.
type LeaderResponse struct {
	GroupID    string `json:"groupId" yaml:"groupId"`
	Redirected bool   `json:"redirected" yaml:"redirected"`
	Leader     PeerID `json:"leader,omitempty" yaml:"leader,omitempty"`
	ErrorMsg   string `json:"errorMsg,omitempty" yaml:"errorMsg,omitempty"`
}

// NewLeaderResponse creates a success response carrying the group's leader.
func NewLeaderResponse(groupID string, leader PeerID) *LeaderResponse {
	return &LeaderResponse{GroupID: groupID, Leader: leader}
}

// NewLeaderErrorResponse creates an error response carrying the failure message.
func NewLeaderErrorResponse(groupID string, errorMsg string) *LeaderResponse {
	return &LeaderResponse{GroupID: groupID, ErrorMsg: errorMsg}
}

// Success reports whether the response carries a leader rather than an error.
func (r *LeaderResponse) Success() bool {
	return r.ErrorMsg == ""
}
