package wallet

import (
	"fmt"

	"SkyAgents-Hub/internal/config"
)

// NewConnector 根据配置选择连接器。
func NewConnector(cfg config.WalletConfig) (Connector, error) {
	switch cfg.Provider {
	case "", "rpc":
		return NewRPCConnector(cfg.RPCURL), nil
	case "key":
		return NewKeyConnector(cfg.KeyHex, cfg.KeyEnv), nil
	case "keystore":
		return NewKeystoreConnector(cfg.KeystorePath, cfg.PassphraseEnv), nil
	default:
		return nil, fmt.Errorf("不支持的钱包类型 %q", cfg.Provider)
	}
}
