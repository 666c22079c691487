package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "SkyAgents-Hub/internal/errors"
)

type stubProvider struct {
	accounts []string
	closed   atomic.Bool
}

func (p *stubProvider) Accounts(context.Context) ([]string, error) { return p.accounts, nil }

func (p *stubProvider) PersonalSign(_ context.Context, message, address string) (string, error) {
	return "sig:" + address + ":" + message, nil
}

func (p *stubProvider) Close() error {
	p.closed.Store(true)
	return nil
}

type stubConnector struct {
	initErr  error
	provider *stubProvider
	connects atomic.Int32
	release  chan struct{}
	canceled atomic.Bool
}

func (c *stubConnector) Init(context.Context) error { return c.initErr }

func (c *stubConnector) Connect(ctx context.Context) (Provider, error) {
	c.connects.Add(1)
	if c.release != nil {
		<-c.release
	}
	if ctx.Err() != nil {
		c.canceled.Store(true)
	}
	return c.provider, nil
}

func TestCallsBeforeInitializeFail(t *testing.T) {
	adapter := NewAdapter(&stubConnector{provider: &stubProvider{}})
	ctx := context.Background()

	assert.False(t, adapter.IsReady())
	_, err := adapter.Login(ctx)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeNotInitialized))
	_, err = adapter.Sign(ctx, "hello")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeNotInitialized))
	assert.True(t, xerrors.HasCode(adapter.Logout(ctx), xerrors.CodeNotInitialized))
}

func TestInitializeFailureLeavesAdapterNotReady(t *testing.T) {
	adapter := NewAdapter(&stubConnector{initErr: errors.New("sdk unavailable")})
	err := adapter.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeNotInitialized))
	assert.False(t, adapter.IsReady())

	err = NewAdapter(nil).Initialize(context.Background())
	assert.True(t, xerrors.HasCode(err, xerrors.CodeNotInitialized))
}

func TestLoginLogoutToggleState(t *testing.T) {
	provider := &stubProvider{accounts: []string{"0xabc"}}
	adapter := NewAdapter(&stubConnector{provider: provider})
	ctx := context.Background()
	require.NoError(t, adapter.Initialize(ctx))

	address, err := adapter.Login(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", address)
	assert.True(t, adapter.LoggedIn())
	assert.Equal(t, "0xabc", adapter.Address())

	require.NoError(t, adapter.Logout(ctx))
	assert.False(t, adapter.LoggedIn())
	assert.Empty(t, adapter.Address())
	assert.True(t, provider.closed.Load())
}

func TestSignConnectsOnDemand(t *testing.T) {
	connector := &stubConnector{provider: &stubProvider{accounts: []string{"0xabc", "0xdef"}}}
	adapter := NewAdapter(connector)
	ctx := context.Background()
	require.NoError(t, adapter.Initialize(ctx))

	sig, err := adapter.Sign(ctx, "Execute workflow: hi")
	require.NoError(t, err)
	assert.Equal(t, "sig:0xabc:Execute workflow: hi", sig)

	_, err = adapter.Sign(ctx, "again")
	require.NoError(t, err)
	assert.EqualValues(t, 1, connector.connects.Load())
}

func TestSignWithoutAccounts(t *testing.T) {
	adapter := NewAdapter(&stubConnector{provider: &stubProvider{}})
	ctx := context.Background()
	require.NoError(t, adapter.Initialize(ctx))

	_, err := adapter.Sign(ctx, "hello")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeNoAccount))
}

func TestConcurrentConnectSharesOneSession(t *testing.T) {
	connector := &stubConnector{
		provider: &stubProvider{accounts: []string{"0xabc"}},
		release:  make(chan struct{}),
	}
	adapter := NewAdapter(connector)
	ctx := context.Background()
	require.NoError(t, adapter.Initialize(ctx))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := adapter.Login(ctx)
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(connector.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, connector.connects.Load())
}

func TestLocalKeySignatureVerifies(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	t.Setenv("TEST_WALLET_KEY", "0x"+hex.EncodeToString(crypto.FromECDSA(key)))
	adapter := NewAdapter(NewKeyConnector("", "TEST_WALLET_KEY"))
	ctx := context.Background()
	require.NoError(t, adapter.Initialize(ctx))

	login, err := adapter.Login(ctx)
	require.NoError(t, err)
	assert.Equal(t, address, login)

	sig, err := adapter.Sign(ctx, "Execute workflow: summarize")
	require.NoError(t, err)
	ok, err := VerifySignature("Execute workflow: summarize", sig, address)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifySignature("Execute workflow: other", sig, address)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyConnectorRequiresKey(t *testing.T) {
	t.Setenv("EMPTY_WALLET_KEY", "")
	require.Error(t, NewKeyConnector("", "EMPTY_WALLET_KEY").Init(context.Background()))
	require.Error(t, NewKeyConnector("zz", "").Init(context.Background()))
}

func TestLogoutDuringConnectDiscardsSession(t *testing.T) {
	provider := &stubProvider{accounts: []string{"0xabc"}}
	connector := &stubConnector{provider: provider, release: make(chan struct{})}
	adapter := NewAdapter(connector)
	ctx := context.Background()
	require.NoError(t, adapter.Initialize(ctx))

	errs := make(chan error, 1)
	go func() {
		_, err := adapter.Sign(ctx, "hello")
		errs <- err
	}()
	require.Eventually(t, func() bool { return connector.connects.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, adapter.Logout(ctx))
	close(connector.release)

	require.Error(t, <-errs)
	assert.True(t, provider.closed.Load())
	adapter.mu.RLock()
	assert.Nil(t, adapter.provider)
	adapter.mu.RUnlock()

	// 下一次签名重新建立会话。
	_, err := adapter.Sign(ctx, "hello")
	require.NoError(t, err)
	assert.EqualValues(t, 2, connector.connects.Load())
}

func TestConnectOutlivesCallerCancellation(t *testing.T) {
	connector := &stubConnector{
		provider: &stubProvider{accounts: []string{"0xabc"}},
		release:  make(chan struct{}),
	}
	adapter := NewAdapter(connector)
	require.NoError(t, adapter.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := adapter.Login(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return connector.connects.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	close(connector.release)

	require.NoError(t, <-done)
	assert.False(t, connector.canceled.Load())
	assert.True(t, adapter.LoggedIn())
}
