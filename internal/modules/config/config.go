package config

import (
	"io"
	"os"
	"strings"
	"time"

	"risk_desk/internal/averaging"
	"risk_desk/internal/breaker"
	"risk_desk/internal/calendar"
	"risk_desk/internal/delta"
	"risk_desk/internal/exits"
	"risk_desk/internal/expiry"
	"risk_desk/internal/margin"
	"risk_desk/internal/models"
	"risk_desk/internal/notify"
	"risk_desk/internal/risklimit"
	"risk_desk/pkg/logger"
	"risk_desk/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	envPrefix         = "RISK"
)

// Config ...
type Config struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"` // чат деска, если у аккаунта нет своего
	} `yaml:"telegram"`
	DB      string `yaml:"db_dsn"`
	Service struct {
		Host      string `yaml:"host"`
		AdminPort int    `yaml:"admin_port"`
	} `yaml:"service"`

	Logger  logger.Config  `yaml:"logger"`
	Tracing tracing.Config `yaml:"tracing"`

	Policy   Policy        `yaml:"policy"`
	Market   Market        `yaml:"market"`
	Accounts []AccountSeed `yaml:"accounts"`
	Notify   Notify        `yaml:"notify"`
	Runner   Runner        `yaml:"runner"`
	MarketWS MarketWS      `yaml:"market_ws"`
}

// Policy: все константы риска. Проценты в процентах (1.0 => 1%).
type Policy struct {
	ReserveRatio     float64   `yaml:"reserve_ratio"`
	AveragingBudgets []float64 `yaml:"averaging_budgets"`
	MaxAttempts      int       `yaml:"max_averaging_attempts"`
	AveragingTrigger float64   `yaml:"averaging_trigger_pct"`
	StopTightenPct   float64   `yaml:"averaging_stop_tighten_pct"`

	OptionsMinDays int `yaml:"options_min_days"`
	FuturesMinDays int `yaml:"futures_min_days"`

	EODCutoff          string  `yaml:"eod_cutoff"`
	ExpiryCutoff       string  `yaml:"expiry_cutoff"`
	MinProfitPctToExit float64 `yaml:"min_profit_pct_to_exit"`

	DeltaThreshold float64 `yaml:"delta_threshold"`
	BaseVolatility float64 `yaml:"base_volatility"`

	WarningThresholdPct float64       `yaml:"warning_threshold_pct"`
	BreakerCooldown     time.Duration `yaml:"breaker_cooldown"`

	MinConfidence float64 `yaml:"min_confidence"`
	EntryFraction float64 `yaml:"entry_fraction"` // доля от max lots на первый вход

	// стоп/тейк для новой позиции, от цены входа
	StopPct          float64 `yaml:"stop_pct"`
	TargetPct        float64 `yaml:"target_pct"`
	NeutralStopPct   float64 `yaml:"neutral_stop_pct"`
	NeutralTargetPct float64 `yaml:"neutral_target_pct"`
	NeutralWingPct   float64 `yaml:"neutral_wing_pct"` // расстояние страйков от спота
}

type Instrument struct {
	Symbol       string                 `yaml:"symbol"`
	Class        models.InstrumentClass `yaml:"class"`
	LotSize      int64                  `yaml:"lot_size"`
	MarginPerLot float64                `yaml:"margin_per_lot"`
	StrikeStep   float64                `yaml:"strike_step"`
	Underlying   string                 `yaml:"underlying"` // спот для страйков и дельты
	RefPrice     float64                `yaml:"ref_price"`  // стартовая цена для paper-фида
}

type Market struct {
	Timezone      string       `yaml:"timezone"`
	Holidays      []string     `yaml:"holidays"`
	ExpiryWeekday string       `yaml:"expiry_weekday"`
	Volatility    float64      `yaml:"volatility"` // стартовое значение для paper-фида
	Instruments   []Instrument `yaml:"instruments"`
}

type AccountSeed struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	Capital       float64 `yaml:"capital"`
	MaxDailyLoss  float64 `yaml:"max_daily_loss"`
	MaxWeeklyLoss float64 `yaml:"max_weekly_loss"`
	ChatID        int64   `yaml:"chat_id"`
}

type Notify struct {
	QueueSize int           `yaml:"queue_size"`
	Retries   int           `yaml:"retries"`
	Backoff   time.Duration `yaml:"backoff"`
	Cooldown  time.Duration `yaml:"cooldown"` // повтор одного и того же алерта не чаще
}

type Runner struct {
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	EntryInterval   time.Duration `yaml:"entry_interval"`
	Parallel        int           `yaml:"parallel"`
	CandidateQueue  int           `yaml:"candidate_queue"`
	SummaryAt       string        `yaml:"summary_at"`
}

type MarketWS struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingEvery      time.Duration `yaml:"ping_every"`
}

func Default() Config {
	var c Config
	c.Service.Host = "0.0.0.0"
	c.Service.AdminPort = 8081
	c.Logger.Level = "info"
	c.Tracing.Host = "localhost"
	c.Tracing.Port = 6831
	c.Policy = Policy{
		ReserveRatio:        0.5,
		AveragingBudgets:    []float64{0.20, 0.50},
		MaxAttempts:         3,
		AveragingTrigger:    -1.0,
		StopTightenPct:      0.5,
		OptionsMinDays:      1,
		FuturesMinDays:      15,
		EODCutoff:           "15:15",
		ExpiryCutoff:        "15:00",
		MinProfitPctToExit:  50,
		DeltaThreshold:      300,
		BaseVolatility:      15,
		WarningThresholdPct: 80,
		BreakerCooldown:     24 * time.Hour,
		MinConfidence:       0.6,
		EntryFraction:       0.3,
		StopPct:             1.5,
		TargetPct:           3.0,
		NeutralStopPct:      100,
		NeutralTargetPct:    50,
		NeutralWingPct:      2,
	}
	c.Market = Market{Timezone: "Asia/Kolkata", ExpiryWeekday: "Thursday", Volatility: 15}
	c.Notify = Notify{QueueSize: 256, Retries: 3, Backoff: 500 * time.Millisecond, Cooldown: 30 * time.Minute}
	c.Runner = Runner{MonitorInterval: 15 * time.Second, EntryInterval: time.Minute, Parallel: 4, CandidateQueue: 32, SummaryAt: "15:45"}
	c.MarketWS = MarketWS{ReconnectDelay: 3 * time.Second, PingEvery: 20 * time.Second}
	return c
}

// NewConfig reads configs/$CONFIG_FILE (values_local.yaml by default) and
// applies env overrides.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	return Load("configs/" + configFileName)
}

// Load decodes path over Default(), applies env overrides and validates.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config file")
	}
	defer func() {
		_ = file.Close()
	}()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(&config); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode config file")
	}

	applyEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyEnv: RISK_* и старые имена без префикса.
func applyEnv(c *Config) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("telegram.token", envPrefix+"_"+tokenTelegramENV, tokenTelegramENV)
	_ = v.BindEnv("db_dsn", envPrefix+"_"+databaseDSN, databaseDSN)

	if token := v.GetString("telegram.token"); token != "" {
		c.Telegram.Token = token
	}
	if dsn := v.GetString("db_dsn"); dsn != "" {
		c.DB = dsn
	}
	if v.IsSet("telegram.chat_id") {
		c.Telegram.ChatID = v.GetInt64("telegram.chat_id")
	}
	if lvl := v.GetString("logger.level"); lvl != "" {
		c.Logger.Level = lvl
	}
	if v.IsSet("tracing.enabled") {
		c.Tracing.Enabled = v.GetBool("tracing.enabled")
	}
	if url := v.GetString("market_ws.url"); url != "" {
		c.MarketWS.URL = url
	}
}

func (c *Config) Validate() error {
	p := c.Policy
	switch {
	case p.ReserveRatio <= 0 || p.ReserveRatio >= 1:
		return invalid("policy.reserve_ratio", "must be in (0, 1)")
	case p.MaxAttempts < 1:
		return invalid("policy.max_averaging_attempts", "must be positive")
	case len(p.AveragingBudgets) == 0:
		return invalid("policy.averaging_budgets", "must not be empty")
	case p.AveragingTrigger >= 0:
		return invalid("policy.averaging_trigger_pct", "must be negative")
	case p.OptionsMinDays < 0 || p.FuturesMinDays < 0:
		return invalid("policy.min_days", "must be non-negative")
	case p.BreakerCooldown <= 0:
		return invalid("policy.breaker_cooldown", "must be positive")
	case p.DeltaThreshold <= 0:
		return invalid("policy.delta_threshold", "must be positive")
	case p.EntryFraction < 0 || p.EntryFraction > 1:
		return invalid("policy.entry_fraction", "must be in [0, 1]")
	}
	for _, b := range p.AveragingBudgets {
		if b <= 0 || b > 1 {
			return invalid("policy.averaging_budgets", "must be in (0, 1]")
		}
	}
	for _, clk := range []struct{ field, v string }{
		{"policy.eod_cutoff", p.EODCutoff},
		{"policy.expiry_cutoff", p.ExpiryCutoff},
		{"runner.summary_at", c.Runner.SummaryAt},
	} {
		if _, err := calendar.ParseClock(clk.v); err != nil {
			return invalid(clk.field, "must be HH:MM")
		}
	}
	if _, err := parseWeekday(c.Market.ExpiryWeekday); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Market.Instruments))
	for _, in := range c.Market.Instruments {
		field := "market.instruments." + in.Symbol
		switch {
		case in.Symbol == "":
			return invalid("market.instruments.symbol", "is required")
		case seen[in.Symbol]:
			return invalid(field, "is duplicated")
		case in.Class != models.ClassOptions && in.Class != models.ClassFutures:
			return invalid(field+".class", "must be OPTIONS or FUTURES")
		case in.LotSize <= 0:
			return invalid(field+".lot_size", "must be positive")
		case in.MarginPerLot <= 0:
			return invalid(field+".margin_per_lot", "must be positive")
		}
		seen[in.Symbol] = true
	}

	ids := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if ids[a.ID] {
			return invalid("accounts."+a.ID, "is duplicated")
		}
		ids[a.ID] = true
		if err := a.Account().Validate(); err != nil {
			return err
		}
	}

	if c.Runner.MonitorInterval <= 0 || c.Runner.EntryInterval <= 0 {
		return invalid("runner.interval", "must be positive")
	}
	return nil
}

// Instrument returns the instrument configured under symbol.
func (c *Config) Instrument(symbol string) (Instrument, bool) {
	for _, in := range c.Market.Instruments {
		if in.Symbol == symbol {
			return in, true
		}
	}
	return Instrument{}, false
}

func (c *Config) Calendar() (*calendar.Calendar, error) {
	return calendar.New(c.Market.Timezone, c.Market.Holidays)
}

func (a AccountSeed) Account() models.Account {
	return models.Account{
		ID:               a.ID,
		Name:             a.Name,
		AllocatedCapital: decimal.NewFromFloat(a.Capital),
		MaxDailyLoss:     decimal.NewFromFloat(a.MaxDailyLoss),
		MaxWeeklyLoss:    decimal.NewFromFloat(a.MaxWeeklyLoss),
		ChatID:           a.ChatID,
		IsActive:         true,
	}
}

// ---- conversion into package policies ----

func (p Policy) Margin() margin.Policy {
	budgets := make([]decimal.Decimal, len(p.AveragingBudgets))
	for i, b := range p.AveragingBudgets {
		budgets[i] = decimal.NewFromFloat(b)
	}
	return margin.Policy{
		ReserveRatio:     decimal.NewFromFloat(p.ReserveRatio),
		AveragingBudgets: budgets,
		MaxAttempts:      p.MaxAttempts,
	}
}

func (p Policy) Averaging() averaging.Policy {
	return averaging.Policy{
		MaxAttempts:    p.MaxAttempts,
		TriggerLossPct: decimal.NewFromFloat(p.AveragingTrigger),
		StopTightenPct: decimal.NewFromFloat(p.StopTightenPct),
	}
}

func (p Policy) Exits() exits.Policy {
	eod, _ := calendar.ParseClock(p.EODCutoff)
	exp, _ := calendar.ParseClock(p.ExpiryCutoff)
	return exits.Policy{
		EODCutoff:          eod,
		ExpiryCutoff:       exp,
		MinProfitPctToExit: decimal.NewFromFloat(p.MinProfitPctToExit),
	}
}

func (p Policy) Delta() delta.Policy {
	return delta.Policy{
		Threshold:      decimal.NewFromFloat(p.DeltaThreshold),
		BaseVolatility: decimal.NewFromFloat(p.BaseVolatility),
	}
}

func (p Policy) RiskLimits() risklimit.Policy {
	return risklimit.Policy{WarningThresholdPct: decimal.NewFromFloat(p.WarningThresholdPct)}
}

func (p Policy) Breaker() breaker.Policy {
	return breaker.Policy{Cooldown: p.BreakerCooldown}
}

func (c *Config) Expiry() expiry.Policy {
	wd, _ := parseWeekday(c.Market.ExpiryWeekday)
	return expiry.Policy{
		OptionsMinDays: c.Policy.OptionsMinDays,
		FuturesMinDays: c.Policy.FuturesMinDays,
		Weekday:        wd,
	}
}

func (n Notify) Dispatcher() notify.Config {
	return notify.Config{QueueSize: n.QueueSize, Retries: n.Retries, Backoff: n.Backoff}
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) {
			return d, nil
		}
	}
	return 0, invalid("market.expiry_weekday", "unknown weekday "+s)
}

func invalid(field, reason string) error {
	return &models.InvalidInputError{Field: field, Reason: reason}
}
