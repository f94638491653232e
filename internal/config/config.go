// Package config reads process configuration from the environment. It is
// read once at startup; secrets live in SSM, not here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	EnvStateTable        = "STATE_TABLE"
	EnvParamPrefix       = "PARAM_PREFIX"
	EnvInboundQueueURL   = "INBOUND_QUEUE_URL"
	EnvPublicWebhookURL  = "PUBLIC_WEBHOOK_URL"
	EnvSkipSignature     = "SKIP_SIGNATURE"
	EnvTwilioBaseURL     = "TWILIO_BASE_URL"
	EnvListenAddr        = "LISTEN_ADDR"
	EnvWorkerConcurrency = "WORKER_CONCURRENCY"
)

type Config struct {
	StateTable        string
	ParamPrefix       string
	InboundQueueURL   string
	PublicWebhookURL  string
	SkipSignature     bool
	TwilioBaseURL     string
	ListenAddr        string
	WorkerConcurrency int
}

// FromEnv builds a Config from getenv, which is os.Getenv when nil.
func FromEnv(getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Config{
		StateTable:        strings.TrimSpace(getenv(EnvStateTable)),
		ParamPrefix:       strings.TrimSpace(getenv(EnvParamPrefix)),
		InboundQueueURL:   strings.TrimSpace(getenv(EnvInboundQueueURL)),
		PublicWebhookURL:  strings.TrimRight(strings.TrimSpace(getenv(EnvPublicWebhookURL)), "/"),
		SkipSignature:     envBool(getenv, EnvSkipSignature, false),
		TwilioBaseURL:     strings.TrimSpace(getenv(EnvTwilioBaseURL)),
		ListenAddr:        envString(getenv, EnvListenAddr, ":8080"),
		WorkerConcurrency: envInt(getenv, EnvWorkerConcurrency, 4),
	}
}

// Require returns an error naming every listed variable that is unset.
func (c Config) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if c.value(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: required environment variables not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RequireIngress checks the webhook Lambda's settings. Signature checks need
// PUBLIC_WEBHOOK_URL because API Gateway events lose the stage prefix and
// query order the carrier signed.
func (c Config) RequireIngress() error {
	keys := []string{EnvStateTable, EnvParamPrefix, EnvInboundQueueURL}
	if !c.SkipSignature {
		keys = append(keys, EnvPublicWebhookURL)
	}
	return c.Require(keys...)
}

func (c Config) value(key string) string {
	switch key {
	case EnvStateTable:
		return c.StateTable
	case EnvParamPrefix:
		return c.ParamPrefix
	case EnvInboundQueueURL:
		return c.InboundQueueURL
	case EnvPublicWebhookURL:
		return c.PublicWebhookURL
	case EnvTwilioBaseURL:
		return c.TwilioBaseURL
	case EnvListenAddr:
		return c.ListenAddr
	}
	return ""
}

func envString(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(getenv func(string) string, key string, def int) int {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envBool(getenv func(string) string, key string, def bool) bool {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
