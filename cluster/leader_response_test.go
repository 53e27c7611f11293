/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cluster

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeaderResponse(t *testing.T) {
	resp := NewLeaderResponse("data-group-1", NewPeerID("10.0.0.3", 8778))
	require.True(t, resp.Success())
	require.Equal(t, PeerID("10.0.0.3:8778"), resp.Leader)
	require.False(t, resp.Redirected)

	errResp := NewLeaderErrorResponse("data-group-1", "no leader elected")
	require.False(t, errResp.Success())
	require.Empty(t, errResp.Leader)
}

func TestLeaderResponseJSON(t *testing.T) {
	resp := NewLeaderResponse("meta-group", NewPeerID("node1", 9003))
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	require.JSONEq(t, `{"groupId":"meta-group","redirected":false,"leader":"node1:9003"}`, string(b))

	var decoded LeaderResponse
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, *resp, decoded)
}
