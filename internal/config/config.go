package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
	"moff.io/wallet-connector/internal/chains"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/pkg/errors"
)

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

// GetRedisAddress prints redis credential info.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

// Dsn is the postgres connection string.
func (c *DBCredential) Dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s",
		c.Address, c.Port, c.User, c.Password, c.Database)
}

// Configuration struct
type Configuration struct {
	// 0 debug, 1 info, 2 warn, 3 error
	LogLevel        int           `yaml:"log_level"`
	Reporters       Reporters     `yaml:"reporters"`
	HTTP            HTTP          `yaml:"http"`
	RedisCredential DBCredential  `yaml:"redis"`
	Postgres        DBCredential  `yaml:"postgres"`
	Aws             Aws           `yaml:"aws"`
	Kafka           Kafka         `yaml:"kafka"`
	Sessions        Sessions      `yaml:"sessions"`
	Injected        Injected      `yaml:"injected"`
	WalletConnect   WalletConnect `yaml:"walletconnect"`
	Chains          ChainTable    `yaml:"chains"`
}

type Reporters struct {
	SentryDSN      string        `yaml:"sentry_dsn"`
	LarkWebhook    string        `yaml:"lark_webhook"`
	DingTalkHook   string        `yaml:"dingtalk_webhook"`
	DingTalkSecret string        `yaml:"dingtalk_secret"`
	Silent         time.Duration `yaml:"silent"`
}

type HTTP struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// 每个IP每分钟允许的连接次数，0 不限制
	ConnectPerMinute int `yaml:"connect_per_minute"`
}

type Kafka struct {
	// 逗号分隔
	Server string `yaml:"server"`
	Topic  string `yaml:"topic"`
}

type Aws struct {
	Region string `yaml:"region"`
	// 事件队列，为空则不投递
	EventQueueURL string `yaml:"event_queue_url"`
	// 存放 walletconnect project id 的 SSM 参数名
	ProjectIDParameter string `yaml:"project_id_parameter"`
}

type Sessions struct {
	// 缓存账户快照的过期时间
	TTL time.Duration `yaml:"ttl"`
	// 同时等待扫码的 walletconnect 会话上限
	MaxPending int `yaml:"max_pending"`
}

type Injected struct {
	WalletName string `yaml:"wallet_name"`
	// 钱包 websocket bridge 地址，为空则不注册
	BridgeURL string         `yaml:"bridge_url"`
	Network   chains.Network `yaml:"network"`
}

type WalletConnect struct {
	UseProvider string                               `yaml:"use_provider"`
	Providers   map[string]connector.ProviderOptions `yaml:"providers"`
}

// Options converts the section into connect options.
func (in WalletConnect) Options() *connector.Options {
	return &connector.Options{Providers: in.Providers, UseProvider: in.UseProvider}
}

// ChainTable overrides the built-in chain table when ids is not empty.
type ChainTable struct {
	IDs      map[int]string            `yaml:"ids"`
	Networks map[string]chains.Network `yaml:"networks"`
}

// Table returns the configured table, or the built-in one.
func (in ChainTable) Table() *chains.Table {
	if len(in.IDs) == 0 {
		return chains.Default()
	}
	return chains.NewTable(in.IDs, in.Networks)
}

func defaults() Configuration {
	return Configuration{
		LogLevel: 1,
		HTTP: HTTP{
			Addr:             ":8080",
			RequestTimeout:   time.Second * 60,
			ConnectPerMinute: 10,
		},
		Kafka:    Kafka{Topic: "wallet_events"},
		Sessions: Sessions{TTL: time.Hour, MaxPending: 100},
		Injected: Injected{Network: chains.Network{ChainID: 1}},
		Reporters: Reporters{
			Silent: time.Minute,
		},
	}
}

// Load reads a configuration file on top of the defaults.
func Load(path string) (*Configuration, error) {
	dat, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	t := defaults()
	if err := yaml.Unmarshal(dat, &t); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if t.Injected.Network.ChainID == 0 {
		return nil, errors.New("injected.network.chain_id is required")
	}
	return &t, nil
}

var Global *Configuration

// Read reads configuration information from yml.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	logrus.Infof("Loading configuration file from %s", *configFilePath)
	globalConfig, err := Load(*configFilePath)
	if err != nil {
		logrus.Fatal(err)
	}
	Global = globalConfig
}
