package wallet

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Dialer 建立到钱包 JSON-RPC 端点的连接。
type Dialer func(ctx context.Context) (*gethrpc.Client, error)

// RPCConnector 通过 JSON-RPC（HTTP、WebSocket 或 IPC）连接外部钱包。
type RPCConnector struct {
	endpoint string
	dial     Dialer
}

// NewRPCConnector 使用 go-ethereum rpc 客户端拨号 endpoint。
func NewRPCConnector(endpoint string) *RPCConnector {
	endpoint = strings.TrimSpace(endpoint)
	return &RPCConnector{
		endpoint: endpoint,
		dial: func(ctx context.Context) (*gethrpc.Client, error) {
			return gethrpc.DialContext(ctx, endpoint)
		},
	}
}

// NewRPCConnectorWithDialer 允许注入自定义拨号逻辑，例如进程内 RPC 服务。
func NewRPCConnectorWithDialer(dial Dialer) *RPCConnector {
	return &RPCConnector{endpoint: "custom", dial: dial}
}

// Init 只校验端点配置，不建立连接。
func (c *RPCConnector) Init(context.Context) error {
	if c.dial == nil || c.endpoint == "" {
		return fmt.Errorf("未配置钱包 RPC 地址")
	}
	if c.endpoint == "custom" || strings.HasSuffix(c.endpoint, ".ipc") {
		return nil
	}
	parsed, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("钱包 RPC 地址无效: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https", "ws", "wss":
		return nil
	default:
		return fmt.Errorf("钱包 RPC 地址使用了不支持的协议 %q", parsed.Scheme)
	}
}

// Connect 拨号并返回会话。
func (c *RPCConnector) Connect(ctx context.Context) (Provider, error) {
	client, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("连接钱包 RPC 失败: %w", err)
	}
	return &rpcProvider{client: client}, nil
}

type rpcProvider struct {
	client *gethrpc.Client
}

func (p *rpcProvider) Accounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := p.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (p *rpcProvider) PersonalSign(ctx context.Context, message, address string) (string, error) {
	var signature string
	if err := p.client.CallContext(ctx, &signature, "personal_sign", hexutil.Encode([]byte(message)), address); err != nil {
		return "", err
	}
	return signature, nil
}

func (p *rpcProvider) Close() error {
	p.client.Close()
	return nil
}
