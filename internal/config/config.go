package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/imrishuroy/go-payment-reconciler/internal/validation"
)

// Ledger backends.
const (
	BackendCSV      = "csv"
	BackendDynamoDB = "dynamodb"
)

// DB is one database connection's settings.
type DB struct {
	Driver   string `env:"DRIVER" validate:"required,oneof=mysql postgres pgx"`
	Host     string `env:"HOST" validate:"required"`
	Port     int    `env:"PORT" validate:"required,min=1,max=65535"`
	Name     string `env:"NAME" validate:"required"`
	User     string `env:"USER" validate:"required"`
	Password string `env:"PASSWORD"`
}

// Config is the validated process configuration.
type Config struct {
	OrderDB   DB `env:"ORDER_DB"`
	PaymentDB DB `env:"PAYMENT_DB"`

	APIURL      string        `env:"PAYMENT_API_URL" validate:"required,url"`
	APILogin    string        `env:"PAYMENT_API_LOGIN"`
	APIPassword string        `env:"PAYMENT_API_PASSWORD"`
	APIToken    string        `env:"PAYMENT_API_TOKEN"`
	APITimeout  time.Duration `env:"PAYMENT_API_TIMEOUT" validate:"gt=0"`

	DateFrom          string        `env:"DATE_FROM" validate:"omitempty,date"`
	DateTo            string        `env:"DATE_TO" validate:"omitempty,date"`
	MinPaymentRecords int           `env:"MIN_PAYMENT_RECORDS" validate:"min=0"`
	BatchSize         int           `env:"PAYMENT_BATCH_SIZE" validate:"min=1,max=10000"`
	QueryTimeout      time.Duration `env:"DB_QUERY_TIMEOUT" validate:"gt=0"`

	LedgerBackend string `env:"LEDGER_BACKEND" validate:"oneof=csv dynamodb"`
	LedgerPath    string `env:"LEDGER_PATH" validate:"required_if=LedgerBackend csv"`
	LedgerTable   string `env:"LEDGER_TABLE" validate:"required_if=LedgerBackend dynamodb"`

	LogLevel string `env:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	LogFile  string `env:"LOG_FILE"`

	AlertQueueURL       string `env:"ALERT_QUEUE_URL" validate:"omitempty,url"`
	CloudWatchNamespace string `env:"CLOUDWATCH_NAMESPACE"`
	PushgatewayURL      string `env:"PUSHGATEWAY_URL" validate:"omitempty,url"`
	OTLPEndpoint        string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Window returns the parsed run window. Both values are zero when unset.
func (c Config) Window() (from, to time.Time) {
	if c.DateFrom == "" || c.DateTo == "" {
		return time.Time{}, time.Time{}
	}
	from, _ = time.Parse(validation.DateLayout, c.DateFrom)
	to, _ = time.Parse(validation.DateLayout, c.DateTo)
	return from, to
}

// Error lists every invalid setting by its environment variable name.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

var defaults = map[string]any{
	"order_db_driver":      "mysql",
	"order_db_port":        3306,
	"payment_db_driver":    "mysql",
	"payment_db_port":      3306,
	"payment_api_timeout":  "30",
	"min_payment_records":  0,
	"payment_batch_size":   500,
	"db_query_timeout":     "60",
	"ledger_backend":       BackendCSV,
	"ledger_path":          "cancel_payments_progress.csv",
	"log_level":            "info",
	"cloudwatch_namespace": "",
}

func newViper(envFile string) (*viper.Viper, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read %s: %w", envFile, err)
			}
		}
	}
	return v, nil
}

// Load reads settings from the environment and, when envFile exists, from
// that dotenv file. Environment variables win over the file.
func Load(envFile string) (Config, error) {
	v, err := newViper(envFile)
	if err != nil {
		return Config{}, err
	}

	fields := map[string]string{}
	duration := func(key string) time.Duration {
		d, err := parseSeconds(v.GetString(key))
		if err != nil {
			fields[strings.ToUpper(key)] = err.Error()
		}
		return d
	}
	integer := func(key string) int {
		n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			fields[strings.ToUpper(key)] = "must be an integer"
		}
		return n
	}
	db := func(prefix string) DB {
		return DB{
			Driver:   strings.ToLower(v.GetString(prefix + "_driver")),
			Host:     v.GetString(prefix + "_host"),
			Port:     integer(prefix + "_port"),
			Name:     v.GetString(prefix + "_name"),
			User:     v.GetString(prefix + "_user"),
			Password: v.GetString(prefix + "_password"),
		}
	}

	cfg := Config{
		OrderDB:             db("order_db"),
		PaymentDB:           db("payment_db"),
		APIURL:              v.GetString("payment_api_url"),
		APILogin:            v.GetString("payment_api_login"),
		APIPassword:         v.GetString("payment_api_password"),
		APIToken:            v.GetString("payment_api_token"),
		APITimeout:          duration("payment_api_timeout"),
		DateFrom:            strings.TrimSpace(v.GetString("date_from")),
		DateTo:              strings.TrimSpace(v.GetString("date_to")),
		MinPaymentRecords:   integer("min_payment_records"),
		BatchSize:           integer("payment_batch_size"),
		QueryTimeout:        duration("db_query_timeout"),
		LedgerBackend:       strings.ToLower(v.GetString("ledger_backend")),
		LedgerPath:          v.GetString("ledger_path"),
		LedgerTable:         v.GetString("ledger_table"),
		LogLevel:            strings.ToLower(v.GetString("log_level")),
		LogFile:             v.GetString("log_file"),
		AlertQueueURL:       v.GetString("alert_queue_url"),
		CloudWatchNamespace: v.GetString("cloudwatch_namespace"),
		PushgatewayURL:      v.GetString("pushgateway_url"),
		OTLPEndpoint:        v.GetString("otel_exporter_otlp_endpoint"),
	}

	if err := Validate(cfg); err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			for k, msg := range ce.Fields {
				if _, ok := fields[k]; !ok {
					fields[k] = msg
				}
			}
		} else {
			return Config{}, err
		}
	}
	if len(fields) > 0 {
		return Config{}, &Error{Fields: fields}
	}
	return cfg, nil
}

// Ledger is the subset of settings needed by commands that only read or
// reset progress.
type Ledger struct {
	Backend  string `env:"LEDGER_BACKEND" validate:"oneof=csv dynamodb"`
	Path     string `env:"LEDGER_PATH" validate:"required_if=Backend csv"`
	Table    string `env:"LEDGER_TABLE" validate:"required_if=Backend dynamodb"`
	LogLevel string `env:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	LogFile  string `env:"LOG_FILE"`
}

// Ledger returns the ledger subset of c.
func (c Config) Ledger() Ledger {
	return Ledger{
		Backend:  c.LedgerBackend,
		Path:     c.LedgerPath,
		Table:    c.LedgerTable,
		LogLevel: c.LogLevel,
		LogFile:  c.LogFile,
	}
}

// LoadLedger reads only the ledger and logging settings.
func LoadLedger(envFile string) (Ledger, error) {
	v, err := newViper(envFile)
	if err != nil {
		return Ledger{}, err
	}
	l := Ledger{
		Backend:  strings.ToLower(v.GetString("ledger_backend")),
		Path:     v.GetString("ledger_path"),
		Table:    v.GetString("ledger_table"),
		LogLevel: strings.ToLower(v.GetString("log_level")),
		LogFile:  v.GetString("log_file"),
	}
	if err := validation.New().Struct(l); err != nil {
		return Ledger{}, &Error{Fields: validation.FieldErrors(err)}
	}
	return l, nil
}

// Validate checks cfg and returns *Error naming every invalid field.
func Validate(cfg Config) error {
	v := validation.New()
	v.RegisterStructValidation(configStructValidation, Config{})
	if err := v.Struct(cfg); err != nil {
		return &Error{Fields: validation.FieldErrors(err)}
	}
	return nil
}

// configStructValidation checks rules spanning several fields.
func configStructValidation(sl validatorv10.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	if (cfg.DateFrom == "") != (cfg.DateTo == "") {
		missing, name, field := cfg.DateTo, "DATE_TO", "DateTo"
		if cfg.DateFrom == "" {
			missing, name, field = cfg.DateFrom, "DATE_FROM", "DateFrom"
		}
		sl.ReportError(missing, name, field, "DATE_FROM and DATE_TO must be set together", "")
	}
	if cfg.DateFrom != "" && cfg.DateTo != "" {
		from, ferr := time.Parse(validation.DateLayout, cfg.DateFrom)
		to, terr := time.Parse(validation.DateLayout, cfg.DateTo)
		if ferr == nil && terr == nil && from.After(to) {
			sl.ReportError(cfg.DateFrom, "DATE_FROM", "DateFrom", "must not be after DATE_TO", "")
		}
	}
	if cfg.APIToken == "" && (cfg.APILogin == "" || cfg.APIPassword == "") {
		sl.ReportError(cfg.APILogin, "PAYMENT_API_LOGIN", "APILogin",
			"set PAYMENT_API_TOKEN or both PAYMENT_API_LOGIN and PAYMENT_API_PASSWORD", "")
	}
}

// parseSeconds accepts a bare number of seconds or a Go duration string.
func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.New("must be seconds or a duration such as 30s")
	}
	return d, nil
}
