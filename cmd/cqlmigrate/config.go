package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// config mirrors cassandra.config.json. The JSON key names are kept so that
// existing config files keep working.
type config struct {
	Type            string
	ContactPoints   []string
	Port            int
	LocalDataCenter string
	Keyspace        string
	Replication     string
	Database        string
	File            string
	Username        string
	Password        string
	Consistency     string
	Timeout         time.Duration
	Dir             string

	SSLKey        string
	SSLCert       string
	SSLCA         string
	SSLServerName string

	Skip        string
	Dry         bool
	Verbose     bool
	Pushgateway string
}

const defaultReplication = `{'class': 'SimpleStrategy', 'replication_factor': 1}`

func addFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default ./config/cassandra.config.json)")
	fs.StringP("type", "t", "cassandra", "type of database (cassandra, postgres, mysql, sqlite)")
	fs.StringSliceP("hosts", "H", []string{"127.0.0.1"}, "contact points")
	fs.IntP("port", "p", 0, "database port (default depends on -type)")
	fs.String("dc", "", "local datacenter")
	fs.StringP("keyspace", "k", "", "keyspace to create and migrate")
	fs.String("replication", defaultReplication, "keyspace replication")
	fs.String("db", "postgres", "database to connect to (postgres)")
	fs.String("file", "migrate.db", "database file (sqlite)")
	fs.StringP("user", "u", "", "database user")
	fs.String("pass", "", "password (optional flag, if not provided and -u is set it will be requested)")
	fs.String("consistency", "QUORUM", "consistency level (cassandra)")
	fs.Duration("timeout", 10*time.Second, "request timeout")
	fs.String("dir", "migrations_cassandra", "migrations directory")
	fs.String("ssl-key", "", "path to client key pem")
	fs.String("ssl-cert", "", "path to client cert pem")
	fs.String("ssl-ca", "", "path to server ca pem")
	fs.String("ssl-server", "", "server name for ssl")
	fs.String("skip", "", "skip up to this migration (inclusive)")
	fs.BoolP("dry", "d", false, "dry run")
	fs.BoolP("verbose", "v", false, "debug logging")
	fs.String("pushgateway", "", "push metrics to this prometheus pushgateway url")
}

// flagKeys maps config keys to the flags that set them.
var flagKeys = map[string]string{
	"type":            "type",
	"contactPoints":   "hosts",
	"port":            "port",
	"localDataCenter": "dc",
	"keyspace":        "keyspace",
	"replication":     "replication",
	"database":        "db",
	"file":            "file",
	"username":        "user",
	"password":        "pass",
	"consistency":     "consistency",
	"timeout":         "timeout",
	"dir":             "dir",
	"ssl-key":         "ssl-key",
	"ssl-cert":        "ssl-cert",
	"ssl-ca":          "ssl-ca",
	"ssl-server":      "ssl-server",
	"skip":            "skip",
	"dry":             "dry",
	"verbose":         "verbose",
	"pushgateway":     "pushgateway",
}

// loadConfig reads the config file, the CQLMIGRATE_* environment and the
// flags, in increasing order of precedence.
func loadConfig(fs *pflag.FlagSet) (*config, error) {
	v := viper.New()
	for key, flag := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, errors.Wrapf(err, "bind flag %s", flag)
		}
	}
	v.SetEnvPrefix("CQLMIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if pth, _ := fs.GetString("config"); pth != "" {
		v.SetConfigFile(pth)
	} else {
		v.SetConfigName("cassandra.config")
		v.AddConfigPath("config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config")
		}
	}

	timeout, err := parseTimeout(v.Get("timeout"))
	if err != nil {
		return nil, errors.Wrap(err, "timeout")
	}
	conf := &config{
		Type:            v.GetString("type"),
		ContactPoints:   splitHosts(v.GetStringSlice("contactPoints")),
		Port:            v.GetInt("port"),
		LocalDataCenter: v.GetString("localDataCenter"),
		Keyspace:        v.GetString("keyspace"),
		Replication:     v.GetString("replication"),
		Database:        v.GetString("database"),
		File:            v.GetString("file"),
		Username:        v.GetString("username"),
		Password:        v.GetString("password"),
		Consistency:     v.GetString("consistency"),
		Timeout:         timeout,
		Dir:             v.GetString("dir"),
		SSLKey:          v.GetString("ssl-key"),
		SSLCert:         v.GetString("ssl-cert"),
		SSLCA:           v.GetString("ssl-ca"),
		SSLServerName:   v.GetString("ssl-server"),
		Skip:            v.GetString("skip"),
		Dry:             v.GetBool("dry"),
		Verbose:         v.GetBool("verbose"),
		Pushgateway:     v.GetString("pushgateway"),
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *config) validate() error {
	switch {
	case c.Keyspace == "":
		return errors.New("keyspace cannot be empty. specify it in the config file or with --keyspace")
	case c.Dry && c.Skip != "":
		return errors.New("cannot skip ahead with dry mode")
	case len(c.ContactPoints) == 0 && c.Type != "sqlite":
		return errors.New("no contact points")
	}
	return nil
}

// parseTimeout reads a duration such as "10s". A bare number is taken as
// milliseconds, which is how cassandra.config.json has always given it.
func parseTimeout(raw interface{}) (time.Duration, error) {
	if s, ok := raw.(string); ok {
		if ms, err := strconv.ParseFloat(s, 64); err == nil {
			raw = ms
		}
	}
	var d time.Duration
	switch raw.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64:
		ms, err := cast.ToFloat64E(raw)
		if err != nil {
			return 0, err
		}
		d = time.Duration(ms * float64(time.Millisecond))
	default:
		var err error
		if d, err = cast.ToDurationE(raw); err != nil {
			return 0, err
		}
	}
	if d < 0 {
		return 0, errors.Errorf("negative timeout %s", d)
	}
	return d, nil
}

// splitHosts accepts both a list and a single comma separated string, which
// is what an environment variable provides.
func splitHosts(hosts []string) []string {
	var out []string
	for _, h := range hosts {
		for _, p := range strings.Split(h, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
