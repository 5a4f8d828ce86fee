// Package config loads the YAML settings document, applies .env overrides
// and sets up logging.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StrategyMarkupFixo   = "markup_fixo"
	StrategyTabela       = "tabela"
	StrategySomenteCusto = "somente_custo"
)

type PathsConfig struct {
	InputDir     string `yaml:"input_dir"`
	OutputDir    string `yaml:"output_dir"`
	PendingsDir  string `yaml:"pendings_dir"`
	CatalogFile  string `yaml:"catalog_file"`
	SynonymsFile string `yaml:"synonyms_file"`
	LogDir       string `yaml:"log_dir"`
}

type PricingConfig struct {
	Strategy string  `yaml:"strategy"`
	Markup   float64 `yaml:"markup"`
}

type CSVOutputConfig struct {
	FilenamePrefix string `yaml:"filename_prefix"`
	Delimiter      string `yaml:"delimiter"`
	IncludeBOM     *bool  `yaml:"include_bom"`
}

type MetafieldsConfig struct {
	Namespace     string            `yaml:"namespace"`
	FiscalDefault string            `yaml:"fiscal_default"`
	Keys          []string          `yaml:"keys"`
	DynamicMap    map[string]string `yaml:"dynamic_map"`
}

// OptionAxisConfig describes one explicit variant axis. Column names the
// catalogue extra column carrying the value; Name may be left empty to have
// the axis name inferred from the value's shape.
type OptionAxisConfig struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column"`
}

type VariantsConfig struct {
	Options      []*OptionAxisConfig `yaml:"options"`
	InferFromSKU *bool               `yaml:"infer_from_sku"`
}

type TagsConfig struct {
	DropShortCodes bool `yaml:"drop_short_codes"`
	MinAlphaLen    int  `yaml:"min_alpha_len"`
}

type ExportConfig struct {
	Status    string `yaml:"status"`
	Published *bool  `yaml:"published"`
}

type MatchingConfig struct {
	AutoThreshold float64 `yaml:"auto_threshold"`
}

type WatchConfig struct {
	Interval string `yaml:"interval"`
	RunAt    string `yaml:"run_at"`

	IntervalParsed time.Duration `yaml:"-"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type Settings struct {
	DefaultVendor string `yaml:"default_vendor"`

	Paths      PathsConfig      `yaml:"paths"`
	Pricing    PricingConfig    `yaml:"pricing"`
	CSVOutput  CSVOutputConfig  `yaml:"csv_output"`
	Metafields MetafieldsConfig `yaml:"metafields"`
	Variants   VariantsConfig   `yaml:"variants"`
	Tags       TagsConfig       `yaml:"tags"`
	Export     ExportConfig     `yaml:"export"`
	Matching   MatchingConfig   `yaml:"matching"`
	Watch      WatchConfig      `yaml:"watch"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
}

var reRunAt = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// Load reads the settings file, overlays .env / environment variables and
// validates the result. A missing settings file yields pure defaults.
func Load(path string) (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read settings %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, s); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
	}

	s.applyEnv()
	s.applyDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyEnv() {
	s.Paths.InputDir = getEnv("NFE_INPUT_DIR", s.Paths.InputDir)
	s.Paths.OutputDir = getEnv("NFE_OUTPUT_DIR", s.Paths.OutputDir)
	s.Paths.CatalogFile = getEnv("NFE_CATALOG_FILE", s.Paths.CatalogFile)
	s.Paths.SynonymsFile = getEnv("NFE_SYNONYMS_FILE", s.Paths.SynonymsFile)
	s.Paths.LogDir = getEnv("NFE_LOG_DIR", s.Paths.LogDir)
	s.Logging.Level = getEnv("NFE_LOG_LEVEL", s.Logging.Level)
	s.Matching.AutoThreshold = getEnvFloat("NFE_AUTO_THRESHOLD", s.Matching.AutoThreshold)
	s.API.Addr = getEnv("NFE_API_ADDR", s.API.Addr)
}

func (s *Settings) applyDefaults() {
	setDefault(&s.Paths.InputDir, "data/input")
	setDefault(&s.Paths.OutputDir, "data/output")
	setDefault(&s.Paths.CatalogFile, "data/catalogo.xlsx")
	setDefault(&s.Paths.SynonymsFile, "data/synonyms.json")
	setDefault(&s.Paths.LogDir, "logs")
	setDefault(&s.Pricing.Strategy, StrategyMarkupFixo)
	if s.Pricing.Markup == 0 {
		s.Pricing.Markup = 2.0
	}
	setDefault(&s.CSVOutput.FilenamePrefix, "importacao_produtos_")
	setDefault(&s.CSVOutput.Delimiter, ",")
	if s.CSVOutput.IncludeBOM == nil {
		s.CSVOutput.IncludeBOM = boolPtr(true)
	}
	setDefault(&s.Metafields.Namespace, "custom")
	setDefault(&s.Metafields.FiscalDefault, "0")
	if len(s.Metafields.Keys) == 0 {
		s.Metafields.Keys = []string{
			"unidade", "catalogo", "dimensoes_do_produto", "composicao",
			"capacidade", "modo_de_uso", "icms", "ncm", "pis", "ipi",
			"cofins", "componente_de_kit", "resistencia_a_agua", "cfop", "cest",
		}
	}
	if s.Variants.InferFromSKU == nil {
		s.Variants.InferFromSKU = boolPtr(true)
	}
	if s.Tags.MinAlphaLen == 0 {
		s.Tags.MinAlphaLen = 3
	}
	setDefault(&s.Export.Status, "active")
	if s.Export.Published == nil {
		s.Export.Published = boolPtr(true)
	}
	if s.Matching.AutoThreshold == 0 {
		s.Matching.AutoThreshold = 0.92
	}
	setDefault(&s.Watch.Interval, "5m")
	setDefault(&s.Logging.Level, "info")
	setDefault(&s.Logging.File, "logs/nfeimport.log")
	if s.Logging.MaxSizeMB == 0 {
		s.Logging.MaxSizeMB = 50
	}
	if s.Logging.MaxBackups == 0 {
		s.Logging.MaxBackups = 5
	}
	if s.Logging.MaxAgeDays == 0 {
		s.Logging.MaxAgeDays = 30
	}
	setDefault(&s.API.Addr, ":8080")
}

func (s *Settings) validate() error {
	switch s.Pricing.Strategy {
	case StrategyMarkupFixo, StrategyTabela, StrategySomenteCusto:
	default:
		return fmt.Errorf("pricing.strategy %q: expected one of %s, %s, %s",
			s.Pricing.Strategy, StrategyMarkupFixo, StrategyTabela, StrategySomenteCusto)
	}
	if s.Pricing.Strategy == StrategyMarkupFixo && s.Pricing.Markup <= 0 {
		return fmt.Errorf("pricing.markup must be positive, got %v", s.Pricing.Markup)
	}
	if len([]rune(s.CSVOutput.Delimiter)) != 1 {
		return fmt.Errorf("csv_output.delimiter must be a single character, got %q", s.CSVOutput.Delimiter)
	}
	if t := s.Matching.AutoThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("matching.auto_threshold must be in (0,1], got %v", t)
	}
	if len(s.Variants.Options) > 3 {
		return fmt.Errorf("variants.options supports at most 3 axes, got %d", len(s.Variants.Options))
	}
	if s.Export.Status != "active" && s.Export.Status != "draft" {
		return fmt.Errorf("export.status %q: expected active or draft", s.Export.Status)
	}
	if s.Watch.RunAt != "" && !reRunAt.MatchString(s.Watch.RunAt) {
		return fmt.Errorf("watch.run_at %q: expected HH:MM", s.Watch.RunAt)
	}
	interval, err := time.ParseDuration(s.Watch.Interval)
	if err != nil || interval <= 0 {
		return fmt.Errorf("watch.interval %q: expected a positive duration", s.Watch.Interval)
	}
	s.Watch.IntervalParsed = interval
	return nil
}

// EnsureDirs creates the writable folders the pipeline needs.
func (s *Settings) EnsureDirs() error {
	for _, dir := range []string{s.Paths.InputDir, s.Paths.OutputDir, s.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func setDefault(target *string, value string) {
	if strings.TrimSpace(*target) == "" {
		*target = value
	}
}

func boolPtr(v bool) *bool { return &v }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
