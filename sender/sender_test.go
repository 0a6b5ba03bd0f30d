package sender

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flokiorg/depinterm/cryptomsg/mock"
	"github.com/flokiorg/depinterm/directory"
	"github.com/flokiorg/depinterm/envelope"
	"github.com/flokiorg/depinterm/errs"
	"github.com/flokiorg/depinterm/rpcclient"
	"github.com/flokiorg/depinterm/store"
)

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int    `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	ID      int             `json:"id"`
}

func newServer(t *testing.T, handle func(method string, params []any) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := json.Marshal(handle(req.Method, req.Params))
		require.NoError(t, err)
		require.NoError(t, json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", Result: raw, ID: req.ID}))
	}))
}

type alwaysReconnect struct{ ok bool }

func (a alwaysReconnect) ReconnectOnce(silent bool) bool { return a.ok }

func TestSendGroupMessageSucceeds(t *testing.T) {
	var submittedPayload string
	srv := newServer(t, func(method string, params []any) any {
		switch method {
		case "list_depin_addresses":
			return []map[string]string{{"address": "addr1", "pubkey": "ab"}, {"address": "addr2", "pubkey": "cd"}}
		case "msg_pool_info":
			return map[string]any{"depinpoolpkey": "0"}
		case "msg_submit":
			submittedPayload = params[0].(string)
			return map[string]any{"hash": "txhash"}
		default:
			return map[string]any{}
		}
	})
	defer srv.Close()

	rpc := rpcclient.New(srv.URL, "", "")
	rpc.TestConnection(true)
	dir := directory.New(rpc, mock.New(), "token")
	codec := envelope.New(mock.New())
	st := store.New()

	s := New(rpc, codec, dir, alwaysReconnect{true}, st, "token", "self", "selfpub", "selfpriv")
	result, err := s.Send("hello group")
	require.NoError(t, err)
	assert.Equal(t, "txhash", result.Hash)
	assert.Equal(t, 2, result.Recipients)
	assert.Equal(t, "group", result.Kind)
	assert.Nil(t, result.Peer)
	assert.NotEmpty(t, submittedPayload)
}

func TestSendPrivateMessageParsesAtAddress(t *testing.T) {
	srv := newServer(t, func(method string, params []any) any {
		switch method {
		case "list_depin_addresses":
			return []map[string]string{{"address": "addr1", "pubkey": "ab"}}
		case "msg_pool_info":
			return map[string]any{"depinpoolpkey": "0"}
		case "msg_submit":
			return map[string]any{"hash": "txhash"}
		default:
			return map[string]any{}
		}
	})
	defer srv.Close()

	rpc := rpcclient.New(srv.URL, "", "")
	rpc.TestConnection(true)
	dir := directory.New(rpc, mock.New(), "token")
	codec := envelope.New(mock.New())
	st := store.New()

	s := New(rpc, codec, dir, alwaysReconnect{true}, st, "token", "self", "selfpub", "selfpriv")
	result, err := s.Send("@addr1 hello there")
	require.NoError(t, err)
	assert.Equal(t, "private", result.Kind)
	require.NotNil(t, result.Peer)
	assert.Equal(t, "addr1", *result.Peer)
	assert.Equal(t, 1, result.Recipients)
}

func TestSendInvalidPrivateFormatFails(t *testing.T) {
	srv := newServer(t, func(method string, params []any) any { return map[string]any{} })
	defer srv.Close()

	rpc := rpcclient.New(srv.URL, "", "")
	rpc.TestConnection(true)
	dir := directory.New(rpc, mock.New(), "token")
	codec := envelope.New(mock.New())
	st := store.New()

	s := New(rpc, codec, dir, alwaysReconnect{true}, st, "token", "self", "selfpub", "selfpriv")
	_, err := s.Send("@nobody-no-body")
	assert.ErrorIs(t, err, errs.ErrInvalidPrivateFormat)
}

func TestSendWrapsForPoolWhenPoolKeyPresent(t *testing.T) {
	var sawSubmit string
	srv := newServer(t, func(method string, params []any) any {
		switch method {
		case "list_depin_addresses":
			return []map[string]string{{"address": "addr1", "pubkey": "ab"}}
		case "msg_pool_info":
			return map[string]any{"depinpoolpkey": "poolpubkeyhex"}
		case "msg_submit":
			sawSubmit = params[0].(string)
			return map[string]any{"hash": "txhash"}
		default:
			return map[string]any{}
		}
	})
	defer srv.Close()

	rpc := rpcclient.New(srv.URL, "", "")
	rpc.TestConnection(true)
	dir := directory.New(rpc, mock.New(), "token")
	codec := envelope.New(mock.New())
	st := store.New()

	s := New(rpc, codec, dir, alwaysReconnect{true}, st, "token", "self", "selfpub", "selfpriv")
	_, err := s.Send("@addr1 secret")
	require.NoError(t, err)
	assert.Contains(t, sawSubmit, hex.EncodeToString([]byte("pool-")))
}

func TestSendFailsWhenDisconnectedAndReconnectFails(t *testing.T) {
	rpc := rpcclient.New("http://127.0.0.1:0", "", "")
	dir := directory.New(rpc, mock.New(), "token")
	codec := envelope.New(mock.New())
	st := store.New()

	s := New(rpc, codec, dir, alwaysReconnect{false}, st, "token", "self", "selfpub", "selfpriv")
	_, err := s.Send("hello")
	assert.Error(t, err)
}
