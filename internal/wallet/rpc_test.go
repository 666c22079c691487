package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SkyAgents-Hub/internal/config"
)

type ethService struct {
	address common.Address
}

func (s *ethService) Accounts() []common.Address {
	return []common.Address{s.address}
}

type personalService struct {
	key *ecdsa.PrivateKey
}

func (s *personalService) Sign(data hexutil.Bytes, addr common.Address) (hexutil.Bytes, error) {
	if addr != crypto.PubkeyToAddress(s.key.PublicKey) {
		return nil, fmt.Errorf("unknown account %s", addr.Hex())
	}
	sig, err := crypto.Sign(accounts.TextHash(data), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func newWalletServer(t *testing.T) (*gethrpc.Server, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	server := gethrpc.NewServer()
	require.NoError(t, server.RegisterName("eth", &ethService{address: address}))
	require.NoError(t, server.RegisterName("personal", &personalService{key: key}))
	t.Cleanup(server.Stop)
	return server, address
}

func TestRPCConnectorSignsThroughWallet(t *testing.T) {
	server, address := newWalletServer(t)
	connector := NewRPCConnectorWithDialer(func(context.Context) (*gethrpc.Client, error) {
		return gethrpc.DialInProc(server), nil
	})
	adapter := NewAdapter(connector)
	ctx := context.Background()
	require.NoError(t, adapter.Initialize(ctx))

	login, err := adapter.Login(ctx)
	require.NoError(t, err)
	assert.True(t, common.HexToAddress(login) == address)

	sig, err := adapter.Sign(ctx, "Execute workflow: translate")
	require.NoError(t, err)
	ok, err := VerifySignature("Execute workflow: translate", sig, address.Hex())
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, adapter.Logout(ctx))
}

func TestRPCConnectorInitValidatesEndpoint(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, NewRPCConnector("http://127.0.0.1:8545").Init(ctx))
	require.NoError(t, NewRPCConnector("ws://127.0.0.1:8546").Init(ctx))
	require.NoError(t, NewRPCConnector("/tmp/geth.ipc").Init(ctx))
	require.Error(t, NewRPCConnector("").Init(ctx))
	require.Error(t, NewRPCConnector("ftp://wallet").Init(ctx))
}

func TestRecoverAddressRejectsMalformedSignatures(t *testing.T) {
	_, err := RecoverAddress("msg", "0x1234")
	require.Error(t, err)
	_, err = RecoverAddress("msg", "not-hex")
	require.Error(t, err)
	_, err = VerifySignature("msg", "0x00", "nope")
	require.Error(t, err)
}

func TestNewConnectorFromConfig(t *testing.T) {
	for provider, want := range map[string]any{
		"rpc":      &RPCConnector{},
		"key":      &KeyConnector{},
		"keystore": &KeystoreConnector{},
	} {
		connector, err := NewConnector(config.WalletConfig{Provider: provider, RPCURL: "http://localhost:8545"})
		require.NoError(t, err)
		assert.IsType(t, want, connector)
	}
	_, err := NewConnector(config.WalletConfig{Provider: "ledger"})
	require.Error(t, err)
}
