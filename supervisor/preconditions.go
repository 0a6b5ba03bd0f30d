package supervisor

import (
	"fmt"

	"github.com/flokiorg/depinterm/rpcclient"
)

// RpcPreconditions implements Preconditions against a live rpcclient.Client:
// token ownership is checked via list_addresses_by_asset, pubkey reveal via
// get_pubkey, matching spec.md §4.8's two startup/recovery checks.
type RpcPreconditions struct {
	rpc *rpcclient.Client
}

func NewRpcPreconditions(rpc *rpcclient.Client) *RpcPreconditions {
	return &RpcPreconditions{rpc: rpc}
}

func (p *RpcPreconditions) VerifyTokenOwnership(selfAddress, token string) error {
	balances, err := p.rpc.ListAddressesByAsset(token)
	if err != nil {
		return err
	}
	if _, ok := balances[selfAddress]; !ok {
		return fmt.Errorf("wallet does not hold token %s", token)
	}
	return nil
}

func (p *RpcPreconditions) CheckPubkeyRevealed(selfAddress string) error {
	info, err := p.rpc.GetPubkey(selfAddress)
	if err != nil {
		return err
	}
	if info.Revealed == 0 {
		return fmt.Errorf("pubkey not yet revealed for %s", selfAddress)
	}
	return nil
}
