package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"wallet-ledger-go/internal/ledger"
)

type feeRuleConfig struct {
	Flat    string `yaml:"flat"`
	Percent string `yaml:"percent"`
}

type feeScheduleConfig struct {
	Default    feeRuleConfig            `yaml:"default"`
	Currencies map[string]feeRuleConfig `yaml:"currencies"`
}

// LoadFeeSchedule reads a YAML fee schedule. Fees are written as decimal
// strings to avoid float rounding in config:
//
//	default:
//	  flat: "0.30"
//	  percent: "2.9"
//	currencies:
//	  EUR:
//	    flat: "0.25"
//	    percent: "2.5"
func LoadFeeSchedule(feesFile string) (ledger.FeeSchedule, error) {
	var feesPath string
	if filepath.IsAbs(feesFile) {
		feesPath = feesFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return ledger.FeeSchedule{}, fmt.Errorf("failed to get working directory: %w", err)
		}
		feesPath = filepath.Join(wd, feesFile)
	}

	data, err := os.ReadFile(feesPath)
	if err != nil {
		return ledger.FeeSchedule{}, fmt.Errorf("unable to read %s: %w", feesFile, err)
	}

	var config feeScheduleConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return ledger.FeeSchedule{}, fmt.Errorf("unable to parse %s: %w", feesFile, err)
	}

	defaultRule, err := parseFeeRule("default", config.Default)
	if err != nil {
		return ledger.FeeSchedule{}, err
	}

	schedule := ledger.FeeSchedule{Default: defaultRule}
	if len(config.Currencies) > 0 {
		schedule.Currencies = make(map[string]ledger.FeeRule, len(config.Currencies))
		for currency, rule := range config.Currencies {
			parsed, err := parseFeeRule(currency, rule)
			if err != nil {
				return ledger.FeeSchedule{}, err
			}
			schedule.Currencies[currency] = parsed
		}
	}

	return schedule, nil
}

func parseFeeRule(name string, cfg feeRuleConfig) (ledger.FeeRule, error) {
	if cfg.Flat == "" {
		return ledger.FeeRule{}, fmt.Errorf("fee rule %q missing flat amount", name)
	}
	if cfg.Percent == "" {
		return ledger.FeeRule{}, fmt.Errorf("fee rule %q missing percent", name)
	}

	flat, err := decimal.NewFromString(cfg.Flat)
	if err != nil {
		return ledger.FeeRule{}, fmt.Errorf("fee rule %q has invalid flat amount %q: %w", name, cfg.Flat, err)
	}
	percent, err := decimal.NewFromString(cfg.Percent)
	if err != nil {
		return ledger.FeeRule{}, fmt.Errorf("fee rule %q has invalid percent %q: %w", name, cfg.Percent, err)
	}
	if flat.IsNegative() || percent.IsNegative() {
		return ledger.FeeRule{}, fmt.Errorf("fee rule %q cannot be negative", name)
	}

	return ledger.FeeRule{Flat: flat, Percent: percent}, nil
}
