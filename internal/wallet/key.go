package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyConnector 使用本地 secp256k1 私钥充当钱包。
type KeyConnector struct {
	keyHex string
	keyEnv string
	key    *ecdsa.PrivateKey
}

// NewKeyConnector 优先使用 keyHex，为空时读取环境变量 keyEnv。
func NewKeyConnector(keyHex, keyEnv string) *KeyConnector {
	return &KeyConnector{keyHex: keyHex, keyEnv: keyEnv}
}

// Init 解析私钥。
func (c *KeyConnector) Init(context.Context) error {
	raw := strings.TrimSpace(c.keyHex)
	if raw == "" && c.keyEnv != "" {
		raw = strings.TrimSpace(os.Getenv(c.keyEnv))
	}
	if raw == "" {
		return fmt.Errorf("未配置钱包私钥（key_hex 或环境变量 %s）", c.keyEnv)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X"))
	if err != nil {
		return fmt.Errorf("解析钱包私钥失败: %w", err)
	}
	c.key = key
	return nil
}

// Connect 返回基于私钥的本地会话。
func (c *KeyConnector) Connect(context.Context) (Provider, error) {
	if c.key == nil {
		return nil, fmt.Errorf("钱包私钥尚未加载")
	}
	return newLocalProvider(c.key), nil
}

// KeystoreConnector 从 go-ethereum keystore 文件解密私钥。
type KeystoreConnector struct {
	path          string
	passphraseEnv string
	key           *ecdsa.PrivateKey
}

// NewKeystoreConnector 创建 keystore 连接器，口令从环境变量 passphraseEnv 读取。
func NewKeystoreConnector(path, passphraseEnv string) *KeystoreConnector {
	return &KeystoreConnector{path: path, passphraseEnv: passphraseEnv}
}

// Init 读取并解密 keystore 文件。
func (c *KeystoreConnector) Init(context.Context) error {
	if strings.TrimSpace(c.path) == "" {
		return fmt.Errorf("未配置 keystore 文件路径")
	}
	content, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("读取 keystore 文件失败: %w", err)
	}
	key, err := keystore.DecryptKey(content, os.Getenv(c.passphraseEnv))
	if err != nil {
		return fmt.Errorf("解密 keystore 失败: %w", err)
	}
	c.key = key.PrivateKey
	return nil
}

// Connect 返回基于解密私钥的本地会话。
func (c *KeystoreConnector) Connect(context.Context) (Provider, error) {
	if c.key == nil {
		return nil, fmt.Errorf("keystore 尚未解密")
	}
	return newLocalProvider(c.key), nil
}

// localProvider 按钱包的方式实现 personal_sign：EIP-191 文本哈希，V 取 27/28。
type localProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func newLocalProvider(key *ecdsa.PrivateKey) *localProvider {
	return &localProvider{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (p *localProvider) Accounts(context.Context) ([]string, error) {
	return []string{p.address.Hex()}, nil
}

func (p *localProvider) PersonalSign(_ context.Context, message, address string) (string, error) {
	if !common.IsHexAddress(address) || common.HexToAddress(address) != p.address {
		return "", fmt.Errorf("unknown account %s", address)
	}
	signature, err := crypto.Sign(accounts.TextHash([]byte(message)), p.key)
	if err != nil {
		return "", err
	}
	signature[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(signature), nil
}

func (p *localProvider) Close() error { return nil }
