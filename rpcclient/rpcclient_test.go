package rpcclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int    `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcErrorBody   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// newServer builds an httptest server whose handler decides the response
// body per JSON-RPC method name.
func newServer(t *testing.T, handle func(method string, params []any) (any, *rpcErrorBody)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, rpcErr := handle(req.Method, req.Params)
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			raw, err := json.Marshal(result)
			require.NoError(t, err)
			resp.Result = raw
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestBlockchainInfoMarksConnected(t *testing.T) {
	srv := newServer(t, func(method string, params []any) (any, *rpcErrorBody) {
		return map[string]any{"blocks": 1}, nil
	})
	defer srv.Close()

	c := New(srv.URL, "", "")
	assert.NoError(t, c.BlockchainInfo())
	assert.True(t, c.Connected())
}

func TestCallFailureMarksDisconnected(t *testing.T) {
	srv := newServer(t, func(method string, params []any) (any, *rpcErrorBody) {
		return nil, &rpcErrorBody{Code: -1, Message: "boom"}
	})
	defer srv.Close()

	c := New(srv.URL, "", "")
	err := c.BlockchainInfo()
	assert.Error(t, err)
	assert.False(t, c.Connected())
}

func TestListDepinAddressesDropsMalformedAndLowercases(t *testing.T) {
	srv := newServer(t, func(method string, params []any) (any, *rpcErrorBody) {
		return []map[string]string{
			{"address": "addr1", "pubkey": "ABCDEF"},
			{"address": "", "pubkey": "should-be-dropped"},
			{"address": "addr2"},
		}, nil
	})
	defer srv.Close()

	c := New(srv.URL, "", "")
	entries, err := c.ListDepinAddresses("token")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "addr1", entries[0].Address)
	assert.Equal(t, "abcdef", entries[0].Pubkey)
}

func TestListDepinAddressesEmptyYieldsNoRecipients(t *testing.T) {
	srv := newServer(t, func(method string, params []any) (any, *rpcErrorBody) {
		return []map[string]string{}, nil
	})
	defer srv.Close()

	c := New(srv.URL, "", "")
	_, err := c.ListDepinAddresses("token")
	assert.Error(t, err)
}

func TestMsgReceiveNormalizesWrappedShape(t *testing.T) {
	srv := newServer(t, func(method string, params []any) (any, *rpcErrorBody) {
		return map[string]string{"encrypted": "deadbeef"}, nil
	})
	defer srv.Close()

	c := New(srv.URL, "", "")
	records, wrapped, err := c.MsgReceive("token", "addr", 0, true)
	require.NoError(t, err)
	assert.Nil(t, records)
	assert.Equal(t, "deadbeef", wrapped)
}

func TestMsgReceiveNormalizesListShape(t *testing.T) {
	srv := newServer(t, func(method string, params []any) (any, *rpcErrorBody) {
		return []map[string]any{
			{"hash": "h1", "signature_hex": "s1", "encrypted_payload_hex": "e1"},
		}, nil
	})
	defer srv.Close()

	c := New(srv.URL, "", "")
	records, wrapped, err := c.MsgReceive("token", "addr", 0, true)
	require.NoError(t, err)
	assert.Empty(t, wrapped)
	require.Len(t, records, 1)
	assert.Equal(t, "h1", records[0].Hash)
}

func TestReconnectRecoversAfterFailure(t *testing.T) {
	fail := true
	srv := newServer(t, func(method string, params []any) (any, *rpcErrorBody) {
		if fail {
			return nil, &rpcErrorBody{Code: -1, Message: "down"}
		}
		return map[string]any{"blocks": 1}, nil
	})
	defer srv.Close()

	c := New(srv.URL, "", "")
	assert.False(t, c.Reconnect(true))

	fail = false
	assert.True(t, c.Reconnect(true))
}
